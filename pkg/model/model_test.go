package model

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	job := NewJob("downloads", 100, 7, 42, "Анна", "file-1", "uniq-1", 10)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, int64(100), job.ChatID)
	assert.Equal(t, 7, job.MessageID)
	assert.Equal(t, int64(42), job.UserID)
	assert.Equal(t, "downloads", filepath.Dir(job.FilePath))
	assert.True(t, strings.HasPrefix(filepath.Base(job.FilePath), "uniq-1-"))
	assert.Equal(t, AudioExtension, filepath.Ext(job.FilePath))
}

func TestNewJob_SameFileDifferentPaths(t *testing.T) {
	a := NewJob("downloads", 1, 1, 1, "u", "f", "same", 5)
	b := NewJob("downloads", 1, 2, 1, "u", "f", "same", 5)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.FilePath, b.FilePath)
}

func TestTask_Lifecycle(t *testing.T) {
	job := NewJob("d", 1, 2, 3, "u", "file-9", "uniq-9", 12)
	task := NewTask(job)

	assert.Equal(t, job.ID, task.ID)
	assert.Equal(t, TaskStatusQueued, task.Status)
	assert.Equal(t, 12, task.Meta["voice_duration"])
	assert.False(t, task.IsCompleted())

	task.SetInProgress()
	assert.Equal(t, TaskStatusInProgress, task.Status)

	task.SetError("download failed")
	assert.Equal(t, TaskStatusFailed, task.Status)
	require.NotNil(t, task.ErrorText)
	assert.Equal(t, "download failed", *task.ErrorText)
	assert.True(t, task.IsCompleted())

	task.SetCompleted()
	assert.Equal(t, TaskStatusDone, task.Status)
	assert.Nil(t, task.ErrorText)
}

func TestJSONB_ValueAndScan(t *testing.T) {
	var empty JSONB
	v, err := empty.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	meta := JSONB{"voice_duration": 10}
	v, err = meta.Value()
	require.NoError(t, err)

	var scanned JSONB
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, float64(10), scanned["voice_duration"])

	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned)

	assert.Error(t, scanned.Scan(42))
}
