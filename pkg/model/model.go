package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the status of a journaled job
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusFailed     TaskStatus = "failed"
)

// Outcome is the terminal state of one pipeline invocation.
type Outcome string

const (
	OutcomeAccessDenied Outcome = "access_denied"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeTooLong      Outcome = "too_long"
	OutcomeDelivered    Outcome = "delivered"
	OutcomeFailed       Outcome = "failed"
	OutcomeShuttingDown Outcome = "shutting_down"
)

// AudioExtension is the container Telegram uses for voice notes.
const AudioExtension = ".ogg"

// JSONB represents a JSONB field for PostgreSQL
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}

	return json.Unmarshal(bytes, j)
}

// Job is one voice message moving through the pipeline. It is owned by a
// single invocation and never shared.
type Job struct {
	ID           string
	ChatID       int64
	MessageID    int
	UserID       int64
	DisplayName  string
	FileID       string
	FileUniqueID string
	Duration     int
	FilePath     string
	CreatedAt    time.Time
}

// NewJob builds a job whose local file lives under dir. The path embeds both
// the Telegram unique file ID and a job-specific suffix, so the same voice
// forwarded twice is downloaded to two different files.
func NewJob(dir string, chatID int64, messageID int, userID int64, displayName, fileID, fileUniqueID string, duration int) *Job {
	id := uuid.New().String()
	return &Job{
		ID:           id,
		ChatID:       chatID,
		MessageID:    messageID,
		UserID:       userID,
		DisplayName:  displayName,
		FileID:       fileID,
		FileUniqueID: fileUniqueID,
		Duration:     duration,
		FilePath:     filepath.Join(dir, fmt.Sprintf("%s-%s%s", fileUniqueID, id[:8], AudioExtension)),
		CreatedAt:    time.Now(),
	}
}

// TranscriptionResult is produced exactly once per job by the worker pool.
type TranscriptionResult struct {
	// Text is the decoded speech, or a descriptive failure when Failed is set.
	Text     string
	Failed   bool
	Duration time.Duration
}

// MessageRef identifies a sent chat message that may be edited later.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Task is the journal record of an admitted job
type Task struct {
	ID                string     `json:"id" db:"id"`
	TelegramMessageID int64      `json:"telegram_message_id" db:"telegram_message_id"`
	ChatID            int64      `json:"chat_id" db:"chat_id"`
	UserID            int64      `json:"user_id" db:"user_id"`
	FileID            string     `json:"file_id" db:"file_id"`
	Status            TaskStatus `json:"status" db:"status"`
	ErrorText         *string    `json:"error_text,omitempty" db:"error_text"`
	Meta              JSONB      `json:"meta" db:"meta"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// NewTask creates a queued journal record for job.
func NewTask(job *Job) *Task {
	now := time.Now()
	return &Task{
		ID:                job.ID,
		TelegramMessageID: int64(job.MessageID),
		ChatID:            job.ChatID,
		UserID:            job.UserID,
		FileID:            job.FileID,
		Status:            TaskStatusQueued,
		Meta: JSONB{
			"voice_duration": job.Duration,
			"file_unique_id": job.FileUniqueID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transcript represents a delivered transcription
type Transcript struct {
	ID        string    `json:"id" db:"id"`
	TaskID    string    `json:"task_id" db:"task_id"`
	Text      string    `json:"text" db:"text"`
	Failed    bool      `json:"failed" db:"failed"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsCompleted returns true if the task is in a final state
func (t *Task) IsCompleted() bool {
	return t.Status == TaskStatusDone || t.Status == TaskStatusFailed
}

// SetError sets the task status to failed with error message
func (t *Task) SetError(errorText string) {
	t.Status = TaskStatusFailed
	t.ErrorText = &errorText
	t.UpdatedAt = time.Now()
}

// SetCompleted sets the task status to done
func (t *Task) SetCompleted() {
	t.Status = TaskStatusDone
	t.ErrorText = nil
	t.UpdatedAt = time.Now()
}

// SetInProgress marks the task as handed to the worker pool
func (t *Task) SetInProgress() {
	t.Status = TaskStatusInProgress
	t.UpdatedAt = time.Now()
}
