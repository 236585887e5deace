package queue

import (
	"time"

	"voxscribe/pkg/model"
)

// JobEvent is published once per voice message when its pipeline
// invocation reaches a terminal outcome.
type JobEvent struct {
	JobID        string        `json:"job_id"`
	ChatID       int64         `json:"chat_id"`
	UserID       int64         `json:"user_id"`
	MessageID    int           `json:"telegram_message_id"`
	FileUniqueID string        `json:"file_unique_id"`
	Duration     int           `json:"duration"`
	Outcome      model.Outcome `json:"outcome"`
	TextLength   int           `json:"text_length,omitempty"`
	Cached       bool          `json:"cached,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// NewJobEvent describes how job ended.
func NewJobEvent(job *model.Job, outcome model.Outcome) *JobEvent {
	return &JobEvent{
		JobID:        job.ID,
		ChatID:       job.ChatID,
		UserID:       job.UserID,
		MessageID:    job.MessageID,
		FileUniqueID: job.FileUniqueID,
		Duration:     job.Duration,
		Outcome:      outcome,
		FinishedAt:   time.Now(),
	}
}
