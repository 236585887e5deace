package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"voxscribe/internal/metrics"
	"voxscribe/pkg/logger"
	"voxscribe/pkg/model"

	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool is shut down")

// Engine turns audio into text. Implementations need not be safe for more
// concurrent calls than the pool size they are given to.
type Engine interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
	Close() error
}

type task struct {
	ctx    context.Context
	job    *model.Job
	result chan *model.TranscriptionResult
}

// Pool runs transcriptions on a fixed number of worker goroutines. Jobs beyond
// the worker count wait in an unbounded FIFO queue.
type Pool struct {
	engine  Engine
	size    int
	metrics *metrics.Metrics

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*task
	closed bool

	active atomic.Int32

	wg       sync.WaitGroup
	once     sync.Once
	closeErr error
}

func NewPool(engine Engine, size int, m *metrics.Metrics) *Pool {
	if size < 1 {
		size = 1
	}

	p := &Pool{
		engine:  engine,
		size:    size,
		metrics: m,
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work(i)
	}

	logger.Info("Worker pool started", zap.Int("workers", size))
	return p
}

// Submit queues job and waits for its result. Failures inside the
// transcription come back as a result with Failed set, not as an error. The
// error is non-nil only when the pool is shut down or ctx ends first; in the
// latter case a job that has not started yet is skipped.
func (p *Pool) Submit(ctx context.Context, job *model.Job) (*model.TranscriptionResult, error) {
	t := &task{
		ctx:    ctx,
		job:    job,
		result: make(chan *model.TranscriptionResult, 1),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.queue = append(p.queue, t)
	depth := len(p.queue)
	p.metrics.SetQueueDepth(depth)
	p.mu.Unlock()
	p.cond.Signal()

	logger.Debug("Job queued for transcription",
		zap.String("job_id", job.ID),
		zap.Int("queue_depth", depth))

	select {
	case res := <-t.result:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops accepting jobs, waits until every queued and running job has
// finished and then closes the engine. Safe to call more than once; every call
// blocks until draining is complete.
func (p *Pool) Shutdown() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		queued := len(p.queue)
		p.mu.Unlock()
		p.cond.Broadcast()

		logger.Info("Shutting down worker pool", zap.Int("queued", queued))
		p.wg.Wait()

		if err := p.engine.Close(); err != nil {
			p.closeErr = fmt.Errorf("failed to close engine: %w", err)
		}
		logger.Info("Worker pool shut down")
	})
	return p.closeErr
}

// Queued returns the number of jobs waiting for a worker.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Active returns the number of transcriptions currently executing.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) work(id int) {
	defer p.wg.Done()

	for {
		t, ok := p.next()
		if !ok {
			return
		}

		if err := t.ctx.Err(); err != nil {
			logger.Debug("Skipping abandoned job",
				zap.String("job_id", t.job.ID),
				zap.Error(err))
			continue
		}

		t.result <- p.run(id, t)
	}
}

// next blocks until a task is available. It returns false once the pool is
// closed and the queue is empty.
func (p *Pool) next() (*task, bool) {
	p.mu.Lock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return nil, false
	}

	t := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.metrics.SetQueueDepth(len(p.queue))
	p.mu.Unlock()

	return t, true
}

func (p *Pool) run(workerID int, t *task) (res *model.TranscriptionResult) {
	start := time.Now()
	p.active.Add(1)
	p.metrics.WorkerStarted()

	logger.Info("Starting transcription",
		zap.String("job_id", t.job.ID),
		zap.Int("worker", workerID),
		zap.Int("duration", t.job.Duration))

	defer func() {
		if r := recover(); r != nil {
			res = failedResult(fmt.Errorf("transcription panicked: %v", r))
		}
		res.Duration = time.Since(start)
		p.active.Add(-1)
		p.metrics.WorkerFinished(res.Duration, res.Failed)

		logger.Info("Transcription finished",
			zap.String("job_id", t.job.ID),
			zap.Bool("failed", res.Failed),
			zap.Duration("elapsed", res.Duration))
	}()

	audio, err := os.ReadFile(t.job.FilePath)
	if err != nil {
		logger.Error("Failed to read audio", zap.String("job_id", t.job.ID), zap.Error(err))
		return failedResult(fmt.Errorf("failed to read audio: %w", err))
	}

	text, err := p.engine.Transcribe(t.ctx, audio)
	if err != nil {
		logger.Error("Error during transcription", zap.String("job_id", t.job.ID), zap.Error(err))
		return failedResult(err)
	}

	return &model.TranscriptionResult{Text: strings.TrimSpace(text)}
}

// failedResult turns an engine failure into text the user will see instead of
// a transcript.
func failedResult(err error) *model.TranscriptionResult {
	return &model.TranscriptionResult{
		Text:   "Error: " + err.Error(),
		Failed: true,
	}
}
