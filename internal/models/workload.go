package models

// MountPoint is a single volume or bind mount eligible for backup, with its
// source path already resolved to something readable by this process.
type MountPoint struct {
	Type        string `json:"type"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// ContainerRef identifies one container belonging to a workload.
type ContainerRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
	State string `json:"state"`
}

// Workload is the unit of backup: one or more containers sharing a project
// identity, discovered fresh on every job and never persisted.
type Workload struct {
	Name       string         `json:"name"`
	Containers []ContainerRef `json:"containers"`
	Mounts     []MountPoint   `json:"mounts"`
	Enabled    bool           `json:"enabled"`
}

// ContainerIDs returns the ids of all containers in the workload.
func (w *Workload) ContainerIDs() []string {
	ids := make([]string, 0, len(w.Containers))
	for _, c := range w.Containers {
		ids = append(ids, c.ID)
	}
	return ids
}
