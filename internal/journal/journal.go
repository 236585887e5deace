package journal

import (
	"context"
	"time"

	"voxscribe/internal/queue"
	"voxscribe/pkg/logger"
	"voxscribe/pkg/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// TaskStore persists job records. Implemented by storage.PostgresStorage.
type TaskStore interface {
	CreateTask(ctx context.Context, task *model.Task) error
	UpdateTask(ctx context.Context, task *model.Task) error
	CreateTranscript(ctx context.Context, transcript *model.Transcript) error
}

// EventPublisher announces finished jobs. Implemented by queue.RabbitMQ.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *queue.JobEvent) error
}

// Completion describes how an admitted job ended.
type Completion struct {
	Outcome model.Outcome
	Text    string
	Failed  bool
	Cached  bool
	Err     error
}

// Journal records the lifecycle of admitted jobs in the configured sinks.
// Either sink may be nil. Every failure is logged and swallowed.
type Journal struct {
	store     TaskStore
	publisher EventPublisher
}

func New(store TaskStore, publisher EventPublisher) *Journal {
	return &Journal{store: store, publisher: publisher}
}

// Admitted records a queued task for job.
func (j *Journal) Admitted(ctx context.Context, job *model.Job) {
	if j.store == nil {
		return
	}

	ctx, cancel := detach(ctx)
	defer cancel()

	if err := j.store.CreateTask(ctx, model.NewTask(job)); err != nil {
		logger.Warn("Failed to journal task", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Submitted marks job as handed to the worker pool.
func (j *Journal) Submitted(ctx context.Context, job *model.Job) {
	if j.store == nil {
		return
	}

	ctx, cancel := detach(ctx)
	defer cancel()

	task := model.NewTask(job)
	task.SetInProgress()
	if err := j.store.UpdateTask(ctx, task); err != nil {
		logger.Warn("Failed to update journaled task", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Finished records the terminal state of job and publishes its event.
func (j *Journal) Finished(ctx context.Context, job *model.Job, c Completion) {
	ctx, cancel := detach(ctx)
	defer cancel()

	if j.store != nil {
		j.finishTask(ctx, job, c)
	}

	if j.publisher != nil {
		event := queue.NewJobEvent(job, c.Outcome)
		event.TextLength = len([]rune(c.Text))
		event.Cached = c.Cached
		if c.Err != nil {
			event.ErrorMessage = c.Err.Error()
		}
		if err := j.publisher.PublishEvent(ctx, event); err != nil {
			logger.Warn("Failed to publish job event", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

func (j *Journal) finishTask(ctx context.Context, job *model.Job, c Completion) {
	task := model.NewTask(job)
	task.Meta["cached"] = c.Cached

	if c.Outcome == model.OutcomeDelivered {
		task.SetCompleted()
	} else {
		errText := string(c.Outcome)
		if c.Err != nil {
			errText = c.Err.Error()
		}
		task.SetError(errText)
	}

	if err := j.store.UpdateTask(ctx, task); err != nil {
		logger.Warn("Failed to update journaled task", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	if c.Outcome != model.OutcomeDelivered {
		return
	}

	transcript := &model.Transcript{
		ID:        uuid.New().String(),
		TaskID:    job.ID,
		Text:      c.Text,
		Failed:    c.Failed,
		CreatedAt: time.Now(),
	}
	if err := j.store.CreateTranscript(ctx, transcript); err != nil {
		logger.Warn("Failed to journal transcript", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// detach keeps journal writes alive after the invocation's context ends.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}
