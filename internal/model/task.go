package model

import "time"

// TaskStatus represents the lifecycle state of a summarization task.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Progress is the whole record written to the progress store for a task.
// Writers always replace the full record.
type Progress struct {
	TaskID        string     `json:"taskId"`
	Status        TaskStatus `json:"status"`
	Stage         string     `json:"stage"`
	Percent       int        `json:"percent"`
	CorrelationID string     `json:"correlationId,omitempty"`
	ErrorKind     ErrorKind  `json:"errorKind,omitempty"`
	Error         string     `json:"error,omitempty"`
	SourceID      string     `json:"sourceId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
}

// Expired reports whether the record is past its TTL at now.
func (p *Progress) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}
