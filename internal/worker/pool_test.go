package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voxscribe/internal/metrics"
	"voxscribe/pkg/model"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	transcribe func(ctx context.Context, audio []byte) (string, error)

	mu      sync.Mutex
	calls   []string
	running int
	peak    int

	closed atomic.Int32
}

func (f *fakeEngine) Transcribe(ctx context.Context, audio []byte) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, string(audio))
	f.running++
	if f.running > f.peak {
		f.peak = f.running
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if f.transcribe != nil {
		return f.transcribe(ctx, audio)
	}
	return "text:" + string(audio), nil
}

func (f *fakeEngine) Close() error {
	f.closed.Add(1)
	return nil
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) Peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// newAudioJob writes content to a fresh file and returns a job pointing at it.
func newAudioJob(t *testing.T, content string) *model.Job {
	t.Helper()
	job := model.NewJob(t.TempDir(), 1, 1, 1, "user", "file", content, 10)
	require.NoError(t, os.WriteFile(job.FilePath, []byte(content), 0o600))
	return job
}

func waitQueued(t *testing.T, p *Pool, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return p.Queued() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestPool_TranscribesAudio(t *testing.T) {
	engine := &fakeEngine{}
	p := NewPool(engine, 1, nil)
	defer p.Shutdown()

	res, err := p.Submit(context.Background(), newAudioJob(t, "привет"))
	require.NoError(t, err)

	assert.False(t, res.Failed)
	assert.Equal(t, "text:привет", res.Text)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestPool_TrimsEngineOutput(t *testing.T) {
	engine := &fakeEngine{transcribe: func(context.Context, []byte) (string, error) {
		return "  hello world \n", nil
	}}
	p := NewPool(engine, 1, nil)
	defer p.Shutdown()

	res, err := p.Submit(context.Background(), newAudioJob(t, "a"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
}

func TestPool_NeverExceedsWorkerCount(t *testing.T) {
	const workers = 3

	engine := &fakeEngine{transcribe: func(context.Context, []byte) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "ok", nil
	}}
	p := NewPool(engine, workers, nil)
	defer p.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < workers*3; i++ {
		job := newAudioJob(t, "job")
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Submit(context.Background(), job)
			assert.NoError(t, err)
			assert.False(t, res.Failed)
		}()
	}
	wg.Wait()

	assert.Len(t, engine.Calls(), workers*3)
	assert.LessOrEqual(t, engine.Peak(), workers)
	assert.Equal(t, workers, engine.Peak(), "all workers should have been busy at once")
}

func TestPool_FIFOOrder(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{transcribe: func(_ context.Context, audio []byte) (string, error) {
		if string(audio) == "blocker" {
			<-release
		}
		return string(audio), nil
	}}
	p := NewPool(engine, 1, nil)
	defer p.Shutdown()

	var wg sync.WaitGroup
	submit := func(job *model.Job) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Submit(context.Background(), job)
			assert.NoError(t, err)
		}()
	}

	submit(newAudioJob(t, "blocker"))
	require.Eventually(t, func() bool { return p.Active() == 1 }, 2*time.Second, 5*time.Millisecond)

	order := []string{"first", "second", "third"}
	for i, name := range order {
		submit(newAudioJob(t, name))
		waitQueued(t, p, i+1)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, append([]string{"blocker"}, order...), engine.Calls())
}

func TestPool_EngineErrorIsFailSoft(t *testing.T) {
	engine := &fakeEngine{transcribe: func(context.Context, []byte) (string, error) {
		return "", errors.New("model exploded")
	}}
	p := NewPool(engine, 1, nil)
	defer p.Shutdown()

	res, err := p.Submit(context.Background(), newAudioJob(t, "a"))
	require.NoError(t, err)

	assert.True(t, res.Failed)
	assert.Equal(t, "Error: model exploded", res.Text)

	res, err = p.Submit(context.Background(), newAudioJob(t, "b"))
	require.NoError(t, err)
	assert.True(t, res.Failed, "pool keeps serving after a failure")
}

func TestPool_PanicIsFailSoft(t *testing.T) {
	var calls atomic.Int32
	engine := &fakeEngine{transcribe: func(context.Context, []byte) (string, error) {
		if calls.Add(1) == 1 {
			panic("corrupted weights")
		}
		return "recovered", nil
	}}
	p := NewPool(engine, 1, nil)
	defer p.Shutdown()

	res, err := p.Submit(context.Background(), newAudioJob(t, "a"))
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Contains(t, res.Text, "Error: ")
	assert.Contains(t, res.Text, "corrupted weights")

	res, err = p.Submit(context.Background(), newAudioJob(t, "b"))
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Equal(t, "recovered", res.Text)
}

func TestPool_MissingFileIsFailSoft(t *testing.T) {
	engine := &fakeEngine{}
	p := NewPool(engine, 1, nil)
	defer p.Shutdown()

	job := model.NewJob(t.TempDir(), 1, 1, 1, "u", "f", "missing", 5)
	res, err := p.Submit(context.Background(), job)
	require.NoError(t, err)

	assert.True(t, res.Failed)
	assert.Contains(t, res.Text, "Error: failed to read audio")
	assert.Empty(t, engine.Calls())
}

func TestPool_CancelledJobIsSkipped(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{transcribe: func(_ context.Context, audio []byte) (string, error) {
		if string(audio) == "blocker" {
			<-release
		}
		return string(audio), nil
	}}
	p := NewPool(engine, 1, nil)
	defer p.Shutdown()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := p.Submit(context.Background(), newAudioJob(t, "blocker"))
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return p.Active() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Submit(ctx, newAudioJob(t, "abandoned"))
		errCh <- err
	}()
	waitQueued(t, p, 1)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	<-done

	res, err := p.Submit(context.Background(), newAudioJob(t, "after"))
	require.NoError(t, err)
	assert.Equal(t, "after", res.Text)
	assert.Equal(t, []string{"blocker", "after"}, engine.Calls())
}

func TestPool_ShutdownDrainsQueuedJobs(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{transcribe: func(_ context.Context, audio []byte) (string, error) {
		<-release
		return string(audio), nil
	}}
	p := NewPool(engine, 1, nil)

	const jobs = 4
	results := make(chan *model.TranscriptionResult, jobs)
	for i := 0; i < jobs; i++ {
		job := newAudioJob(t, "queued")
		go func() {
			res, err := p.Submit(context.Background(), job)
			assert.NoError(t, err)
			results <- res
		}()
	}
	require.Eventually(t, func() bool { return p.Active()+p.Queued() == jobs }, 2*time.Second, 5*time.Millisecond)

	shutdownDone := make(chan struct{})
	go func() {
		assert.NoError(t, p.Shutdown())
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		t.Fatal("shutdown returned before queued jobs finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-shutdownDone

	require.Eventually(t, func() bool { return len(results) == jobs }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), engine.closed.Load())
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	engine := &fakeEngine{}
	p := NewPool(engine, 2, nil)
	require.NoError(t, p.Shutdown())

	_, err := p.Submit(context.Background(), newAudioJob(t, "late"))
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.Empty(t, engine.Calls())
}

func TestPool_ShutdownIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	p := NewPool(engine, 2, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Shutdown())
		}()
	}
	wg.Wait()

	assert.NoError(t, p.Shutdown())
	assert.Equal(t, int32(1), engine.closed.Load())
}

func TestPool_RecordsMetrics(t *testing.T) {
	engine := &fakeEngine{transcribe: func(_ context.Context, audio []byte) (string, error) {
		if string(audio) == "bad" {
			return "", errors.New("boom")
		}
		return "ok", nil
	}}
	m := metrics.NewMetrics()
	p := NewPool(engine, 1, m)
	defer p.Shutdown()

	_, err := p.Submit(context.Background(), newAudioJob(t, "good"))
	require.NoError(t, err)
	_, err = p.Submit(context.Background(), newAudioJob(t, "bad"))
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TranscriptionFailures))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.InFlight))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.QueueDepth))
}

func TestNewPool_ClampsSize(t *testing.T) {
	p := NewPool(&fakeEngine{}, 0, nil)
	defer p.Shutdown()
	assert.Equal(t, 1, p.Size())
}
