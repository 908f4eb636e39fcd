package models

import "time"

// RunStatus is the terminal or in-flight state of a deployment run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run records one deployment invocation for the local history ledger.
type Run struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	ProjectName string     `json:"project_name"`
	TargetName  string     `json:"target_name"`
	Host        string     `json:"host"`
	Mode        string     `json:"mode"`
	Status      RunStatus  `json:"status"`
	FailedStep  int        `json:"failed_step,omitempty"`
	Error       string     `json:"error,omitempty"`
	BackupPath  string     `json:"backup_path,omitempty"`
	ArchiveSize int64      `json:"archive_size,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
