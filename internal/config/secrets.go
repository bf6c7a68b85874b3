package config

import (
	"fmt"
	"strings"
)

// Sensitive config values may be stored as ENC(<base64 ciphertext>) so that a
// config file checked into provisioning tooling does not expose plaintext
// credentials. Values without the wrapper are used verbatim.
const (
	secretPrefix = "ENC("
	secretSuffix = ")"
)

// Decryptor decrypts a single wrapped config value.
type Decryptor interface {
	DecryptString(ciphertext string) (string, error)
}

// IsEncrypted reports whether a config value carries the ENC(...) wrapper.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, secretPrefix) && strings.HasSuffix(value, secretSuffix)
}

// Wrap marks an encrypted value for storage in the config file.
func Wrap(ciphertext string) string {
	return secretPrefix + ciphertext + secretSuffix
}

// Unwrap strips the ENC(...) wrapper. The caller must have checked
// IsEncrypted first.
func Unwrap(value string) string {
	return strings.TrimSuffix(strings.TrimPrefix(value, secretPrefix), secretSuffix)
}

// ResolveSecrets decrypts every ENC(...) value in place. Fields that are not
// wrapped are left untouched.
func (c *Config) ResolveSecrets(d Decryptor) error {
	fields := map[string]*string{
		"archive.passphrase":    &c.Archive.Passphrase,
		"storage.s3.secret_key": &c.Storage.S3.SecretKey,
		"storage.s3.access_key": &c.Storage.S3.AccessKey,
		"notify.gotify.token":   &c.Notify.Gotify.Token,
		"portainer.api_key":     &c.Portainer.APIKey,
		"server.auth_token":     &c.Server.AuthToken,
	}

	for name, field := range fields {
		if !IsEncrypted(*field) {
			continue
		}
		plain, err := d.DecryptString(Unwrap(*field))
		if err != nil {
			return fmt.Errorf("decrypt %s: %w", name, err)
		}
		*field = plain
	}

	return nil
}
