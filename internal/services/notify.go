package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
	"github.com/stackmelt/cargohold/internal/models"
)

// Outcome is the job result fanned out to every sink.
type Outcome struct {
	JobID       string
	Target      string
	Kind        models.JobKind
	Status      models.JobStatus
	Duration    time.Duration
	ArchiveName string
	ArchiveSize int64
	Error       string
}

// Succeeded reports whether the job produced a usable backup.
func (o Outcome) Succeeded() bool { return o.Status == models.StatusSuccess }

// Notifier delivers job outcomes. Fire-and-forget: delivery failures are
// logged and never escalate into job failures.
type Notifier interface {
	Notify(ctx context.Context, o Outcome)
}

// Sink is one notification endpoint.
type Sink interface {
	Name() string
	Send(ctx context.Context, o Outcome) error
}

// NotifyService fans an outcome out to every configured sink, isolating each
// sink's failure from the others.
type NotifyService struct {
	sinks []Sink
	log   zerolog.Logger
}

// NewNotifyService builds the sink list from config. Unconfigured sinks are
// simply absent.
func NewNotifyService(cfg *config.Config, log zerolog.Logger) *NotifyService {
	client := &http.Client{Timeout: cfg.Notify.GetTimeout()}

	var sinks []Sink
	if cfg.Notify.Gotify.URL != "" {
		sinks = append(sinks, &GotifySink{
			url:    strings.TrimSuffix(cfg.Notify.Gotify.URL, "/"),
			token:  cfg.Notify.Gotify.Token,
			client: client,
		})
	}
	if cfg.Notify.Heartbeat.URL != "" {
		sinks = append(sinks, &HeartbeatSink{
			url:    strings.TrimSuffix(cfg.Notify.Heartbeat.URL, "/"),
			client: client,
		})
	}

	return &NotifyService{sinks: sinks, log: log}
}

// NewNotifyServiceWithSinks wires explicit sinks; used by tests and callers
// with custom endpoints.
func NewNotifyServiceWithSinks(log zerolog.Logger, sinks ...Sink) *NotifyService {
	return &NotifyService{sinks: sinks, log: log}
}

// Notify sends the outcome to every sink.
func (s *NotifyService) Notify(ctx context.Context, o Outcome) {
	for _, sink := range s.sinks {
		if err := sink.Send(ctx, o); err != nil {
			s.log.Warn().Err(err).Str("sink", sink.Name()).Str("job_id", o.JobID).Msg("notification delivery failed")
			continue
		}
		s.log.Debug().Str("sink", sink.Name()).Str("job_id", o.JobID).Msg("notification delivered")
	}
}

// GotifySink posts a message to a Gotify server. Priority 5 for success,
// 8 for anything else.
type GotifySink struct {
	url    string
	token  string
	client *http.Client
}

// Name identifies the sink in logs.
func (g *GotifySink) Name() string { return "gotify" }

// Send posts the outcome message.
func (g *GotifySink) Send(ctx context.Context, o Outcome) error {
	title := fmt.Sprintf("Backup %s: %s", o.Status, o.Target)
	message := fmt.Sprintf("target=%s kind=%s duration=%s", o.Target, o.Kind, o.Duration.Round(time.Second))
	if o.ArchiveName != "" {
		message += fmt.Sprintf(" archive=%s size=%d", o.ArchiveName, o.ArchiveSize)
	}
	if o.Error != "" {
		message += " error=" + o.Error
	}

	priority := "5"
	if !o.Succeeded() {
		priority = "8"
	}

	form := url.Values{}
	form.Set("title", title)
	form.Set("message", message)
	form.Set("priority", priority)

	endpoint := fmt.Sprintf("%s/message?token=%s", g.url, url.QueryEscape(g.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("gotify returned status %d", resp.StatusCode)
	}
	return nil
}

// HeartbeatSink pings a healthcheck endpoint: the plain URL on success, the
// /fail suffix otherwise (hc-ping convention).
type HeartbeatSink struct {
	url    string
	client *http.Client
}

// Name identifies the sink in logs.
func (h *HeartbeatSink) Name() string { return "heartbeat" }

// Send issues the ping.
func (h *HeartbeatSink) Send(ctx context.Context, o Outcome) error {
	endpoint := h.url
	if !o.Succeeded() {
		endpoint += "/fail"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("heartbeat endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
