package journal

import (
	"context"
	"errors"
	"testing"

	"voxscribe/internal/queue"
	"voxscribe/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockTaskStore struct {
	mock.Mock
}

func (m *MockTaskStore) CreateTask(ctx context.Context, task *model.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockTaskStore) UpdateTask(ctx context.Context, task *model.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockTaskStore) CreateTranscript(ctx context.Context, transcript *model.Transcript) error {
	args := m.Called(ctx, transcript)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishEvent(ctx context.Context, event *queue.JobEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func testJob() *model.Job {
	return model.NewJob("downloads", -100, 5, 42, "Анна", "file", "uniq", 20)
}

func TestJournal_Admitted(t *testing.T) {
	store := new(MockTaskStore)
	job := testJob()

	store.On("CreateTask", mock.Anything, mock.MatchedBy(func(task *model.Task) bool {
		return task.ID == job.ID && task.Status == model.TaskStatusQueued && task.UserID == 42
	})).Return(nil)

	New(store, nil).Admitted(context.Background(), job)
	store.AssertExpectations(t)
}

func TestJournal_Submitted(t *testing.T) {
	store := new(MockTaskStore)
	job := testJob()

	store.On("UpdateTask", mock.Anything, mock.MatchedBy(func(task *model.Task) bool {
		return task.ID == job.ID && task.Status == model.TaskStatusInProgress
	})).Return(nil)

	New(store, nil).Submitted(context.Background(), job)
	store.AssertExpectations(t)
}

func TestJournal_FinishedDelivered(t *testing.T) {
	store := new(MockTaskStore)
	pub := new(MockPublisher)
	job := testJob()

	store.On("UpdateTask", mock.Anything, mock.MatchedBy(func(task *model.Task) bool {
		return task.Status == model.TaskStatusDone && task.Meta["cached"] == true
	})).Return(nil)
	store.On("CreateTranscript", mock.Anything, mock.MatchedBy(func(tr *model.Transcript) bool {
		return tr.TaskID == job.ID && tr.Text == "привет" && !tr.Failed
	})).Return(nil)
	pub.On("PublishEvent", mock.Anything, mock.MatchedBy(func(e *queue.JobEvent) bool {
		return e.JobID == job.ID && e.Outcome == model.OutcomeDelivered && e.TextLength == 6 && e.Cached
	})).Return(nil)

	New(store, pub).Finished(context.Background(), job, Completion{
		Outcome: model.OutcomeDelivered,
		Text:    "привет",
		Cached:  true,
	})

	store.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestJournal_FinishedFailed(t *testing.T) {
	store := new(MockTaskStore)
	pub := new(MockPublisher)
	job := testJob()

	store.On("UpdateTask", mock.Anything, mock.MatchedBy(func(task *model.Task) bool {
		return task.Status == model.TaskStatusFailed && task.ErrorText != nil && *task.ErrorText == "download failed"
	})).Return(nil)
	pub.On("PublishEvent", mock.Anything, mock.MatchedBy(func(e *queue.JobEvent) bool {
		return e.Outcome == model.OutcomeFailed && e.ErrorMessage == "download failed"
	})).Return(nil)

	New(store, pub).Finished(context.Background(), job, Completion{
		Outcome: model.OutcomeFailed,
		Err:     errors.New("download failed"),
	})

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "CreateTranscript", mock.Anything, mock.Anything)
	pub.AssertExpectations(t)
}

func TestJournal_SinkErrorsAreSwallowed(t *testing.T) {
	store := new(MockTaskStore)
	pub := new(MockPublisher)

	store.On("UpdateTask", mock.Anything, mock.Anything).Return(errors.New("db down"))
	pub.On("PublishEvent", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	assert.NotPanics(t, func() {
		New(store, pub).Finished(context.Background(), testJob(), Completion{Outcome: model.OutcomeDelivered, Text: "x"})
	})
	store.AssertNotCalled(t, "CreateTranscript", mock.Anything, mock.Anything)
	pub.AssertExpectations(t)
}

func TestJournal_SurvivesCancelledContext(t *testing.T) {
	store := new(MockTaskStore)
	store.On("CreateTask", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	New(store, nil).Admitted(ctx, testJob())
	store.AssertExpectations(t)
}

func TestJournal_NoSinks(t *testing.T) {
	j := New(nil, nil)
	job := testJob()

	assert.NotPanics(t, func() {
		j.Admitted(context.Background(), job)
		j.Submitted(context.Background(), job)
		j.Finished(context.Background(), job, Completion{Outcome: model.OutcomeDelivered})
	})
}
