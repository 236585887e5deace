package pipeline

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"strings"
	"sync"

	"voxscribe/internal/journal"
	"voxscribe/internal/metrics"
	"voxscribe/pkg/cache"
	"voxscribe/pkg/chunker"
	"voxscribe/pkg/logger"
	"voxscribe/pkg/model"

	"go.uber.org/zap"
)

// Gateway is the chat transport. Texts are HTML.
type Gateway interface {
	SendText(ctx context.Context, chatID int64, replyTo int, text string) (model.MessageRef, error)
	EditText(ctx context.Context, ref model.MessageRef, text string) error
	SendTyping(ctx context.Context, chatID int64) error
	DownloadFile(ctx context.Context, fileID, dest string) error
}

type Transcriber interface {
	Submit(ctx context.Context, job *model.Job) (*model.TranscriptionResult, error)
}

type Limiter interface {
	Admit(key int64) bool
}

type AccessChecker interface {
	IsAllowed(chatID int64) bool
}

type ErrorReporter interface {
	Report(ctx context.Context, err error, context string)
}

type TranscriptCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}) error
}

type Journal interface {
	Admitted(ctx context.Context, job *model.Job)
	Submitted(ctx context.Context, job *model.Job)
	Finished(ctx context.Context, job *model.Job, c journal.Completion)
}

// VoiceEvent is an inbound voice message.
type VoiceEvent struct {
	ChatID       int64
	MessageID    int
	UserID       int64
	DisplayName  string
	FileID       string
	FileUniqueID string
	Duration     int
}

// StartEvent is an inbound /start command.
type StartEvent struct {
	ChatID      int64
	ChatType    string
	DisplayName string
}

type Config struct {
	MessageLimit     int
	MaxVoiceDuration int
	DownloadDir      string
}

type Option func(*Pipeline)

func WithCache(c TranscriptCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

func WithJournal(j Journal) Option {
	return func(p *Pipeline) { p.journal = j }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline turns inbound voice messages into chunked transcript replies.
// HandleVoice is safe for concurrent use; each call owns one job.
type Pipeline struct {
	cfg      Config
	gateway  Gateway
	pool     Transcriber
	limiter  Limiter
	guard    AccessChecker
	reporter ErrorReporter

	cache   TranscriptCache
	journal Journal
	metrics *metrics.Metrics

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

func New(cfg Config, gateway Gateway, pool Transcriber, limiter Limiter, guard AccessChecker, reporter ErrorReporter, opts ...Option) *Pipeline {
	if cfg.MessageLimit < 1 {
		cfg.MessageLimit = chunker.DefaultLimit
	}

	p := &Pipeline{
		cfg:      cfg,
		gateway:  gateway,
		pool:     pool,
		limiter:  limiter,
		guard:    guard,
		reporter: reporter,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleVoice runs one voice message through admission, transcription and
// delivery, and returns how it ended. The local audio file never outlives
// the call.
func (p *Pipeline) HandleVoice(ctx context.Context, ev VoiceEvent) model.Outcome {
	if !p.begin() {
		logger.Info("Dropping voice message during shutdown",
			zap.Int64("chat_id", ev.ChatID),
			zap.Int("message_id", ev.MessageID))
		p.metrics.ObserveJob(string(model.OutcomeShuttingDown))
		return model.OutcomeShuttingDown
	}
	defer p.inflight.Done()

	outcome := p.handleVoice(ctx, ev)
	p.metrics.ObserveJob(string(outcome))
	return outcome
}

func (p *Pipeline) handleVoice(ctx context.Context, ev VoiceEvent) model.Outcome {
	log := logger.With(
		zap.Int64("chat_id", ev.ChatID),
		zap.Int64("user_id", ev.UserID),
		zap.Int("message_id", ev.MessageID))

	if !p.guard.IsAllowed(ev.ChatID) {
		log.Debug("Ignoring voice message from chat outside the allow list")
		return model.OutcomeAccessDenied
	}

	if !p.limiter.Admit(ev.UserID) {
		log.Warn("Rate limit exceeded", zap.String("user", ev.DisplayName))
		return model.OutcomeRateLimited
	}

	if ev.Duration > p.cfg.MaxVoiceDuration {
		log.Info("Rejecting voice message over the duration limit", zap.Int("duration", ev.Duration))
		if _, err := p.gateway.SendText(ctx, ev.ChatID, ev.MessageID, tooLongNotice(p.cfg.MaxVoiceDuration)); err != nil {
			log.Warn("Failed to send length rejection", zap.Error(err))
		}
		return model.OutcomeTooLong
	}

	log.Info("Received audio", zap.String("user", ev.DisplayName), zap.Int("duration", ev.Duration))

	job := model.NewJob(p.cfg.DownloadDir, ev.ChatID, ev.MessageID, ev.UserID,
		ev.DisplayName, ev.FileID, ev.FileUniqueID, ev.Duration)
	defer removeAudio(job)

	p.journalAdmitted(ctx, job)

	inv := &invocation{
		p:    p,
		ev:   ev,
		job:  job,
		name: html.EscapeString(ev.DisplayName),
		log:  log.With(zap.String("job_id", job.ID)),
	}

	if err := inv.run(ctx); err != nil {
		inv.fail(ctx, err)
		p.journalFinished(ctx, job, journal.Completion{Outcome: model.OutcomeFailed, Err: err})
		return model.OutcomeFailed
	}

	inv.log.Info("Transcript delivered",
		zap.Int("chunks", inv.chunks),
		zap.Bool("cached", inv.cached),
		zap.Bool("failed", inv.failed))
	p.journalFinished(ctx, job, journal.Completion{
		Outcome: model.OutcomeDelivered,
		Text:    inv.text,
		Failed:  inv.failed,
		Cached:  inv.cached,
	})
	return model.OutcomeDelivered
}

// HandleStart greets allowed chats and shows their ID so operators can fill
// the allow list.
func (p *Pipeline) HandleStart(ctx context.Context, ev StartEvent) error {
	if !p.begin() {
		return nil
	}
	defer p.inflight.Done()

	logger.Info("Received /start",
		zap.Int64("chat_id", ev.ChatID),
		zap.String("chat_type", ev.ChatType),
		zap.String("user", ev.DisplayName))

	if !p.guard.IsAllowed(ev.ChatID) {
		logger.Warn("Chat is not in the allow list", zap.Int64("chat_id", ev.ChatID))
		return nil
	}

	if _, err := p.gateway.SendText(ctx, ev.ChatID, 0, greeting(ev.ChatID)); err != nil {
		return fmt.Errorf("failed to send greeting: %w", err)
	}
	return nil
}

// Drain stops accepting events and waits for in-flight invocations until ctx
// ends.
func (p *Pipeline) Drain(ctx context.Context) error {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Pipeline drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline drain interrupted: %w", ctx.Err())
	}
}

func (p *Pipeline) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		return false
	}
	p.inflight.Add(1)
	return true
}

func (p *Pipeline) journalAdmitted(ctx context.Context, job *model.Job) {
	if p.journal != nil {
		p.journal.Admitted(ctx, job)
	}
}

func (p *Pipeline) journalSubmitted(ctx context.Context, job *model.Job) {
	if p.journal != nil {
		p.journal.Submitted(ctx, job)
	}
}

func (p *Pipeline) journalFinished(ctx context.Context, job *model.Job, c journal.Completion) {
	if p.journal != nil {
		p.journal.Finished(ctx, job, c)
	}
}

// invocation carries the state of one HandleVoice call between steps.
type invocation struct {
	p    *Pipeline
	ev   VoiceEvent
	job  *model.Job
	name string
	log  *zap.Logger

	placeholder *model.MessageRef
	text        string
	chunks      int
	failed      bool
	cached      bool
}

// run executes the download, transcription and delivery steps. A panic in
// any of them is returned as an error.
func (inv *invocation) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			inv.log.Error("Recovered panic in voice pipeline", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	p := inv.p

	if err := p.gateway.SendTyping(ctx, inv.ev.ChatID); err != nil {
		inv.log.Debug("Failed to send typing indicator", zap.Error(err))
	}

	text, hit := inv.cachedTranscript(ctx)
	if !hit {
		if err := inv.download(ctx); err != nil {
			return err
		}
	}

	ref, err := p.gateway.SendText(ctx, inv.ev.ChatID, inv.ev.MessageID, fmt.Sprintf(msgProcessing, inv.name))
	if err != nil {
		return fmt.Errorf("failed to send placeholder: %w", err)
	}
	inv.placeholder = &ref

	if !hit {
		p.journalSubmitted(ctx, inv.job)

		res, err := p.pool.Submit(ctx, inv.job)
		if err != nil {
			return fmt.Errorf("transcription failed: %w", err)
		}
		text = res.Text
		inv.failed = res.Failed

		if !res.Failed && strings.TrimSpace(text) != "" {
			inv.storeTranscript(ctx, text)
		}
	}

	if strings.TrimSpace(text) == "" {
		text = msgNoSpeech
	}
	inv.text = text

	return inv.deliver(ctx, formatChunks(text, fmt.Sprintf(msgHeader, inv.name), p.cfg.MessageLimit))
}

func (inv *invocation) download(ctx context.Context) error {
	if err := os.MkdirAll(inv.p.cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}
	if err := inv.p.gateway.DownloadFile(ctx, inv.ev.FileID, inv.job.FilePath); err != nil {
		return fmt.Errorf("failed to download voice: %w", err)
	}
	return nil
}

// deliver edits the placeholder with the first message, or replies with it
// when the edit is rejected, then replies with the rest in order.
func (inv *invocation) deliver(ctx context.Context, messages []string) error {
	gw := inv.p.gateway

	rest := messages
	if err := gw.EditText(ctx, *inv.placeholder, messages[0]); err != nil {
		inv.log.Warn("Failed to edit placeholder, replying instead", zap.Error(err))
	} else {
		rest = messages[1:]
		inv.chunks++
	}

	for _, msg := range rest {
		if _, err := gw.SendText(ctx, inv.ev.ChatID, inv.ev.MessageID, msg); err != nil {
			return fmt.Errorf("failed to send transcript chunk %d of %d: %w", inv.chunks+1, len(messages), err)
		}
		inv.chunks++
	}
	return nil
}

// fail reports err and replaces the placeholder with a failure notice, or
// replies with one when there is no placeholder to edit.
func (inv *invocation) fail(ctx context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			inv.log.Error("Recovered panic while sending failure notice", zap.Any("panic", r))
		}
	}()

	inv.log.Error("Error processing voice message", zap.String("user", inv.ev.DisplayName), zap.Error(err))
	inv.p.reporter.Report(ctx, err, "Processing message from "+inv.ev.DisplayName)

	gw := inv.p.gateway
	if inv.placeholder != nil {
		editErr := gw.EditText(ctx, *inv.placeholder, msgFailure)
		if editErr == nil {
			return
		}
		inv.log.Warn("Failed to edit placeholder with failure notice", zap.Error(editErr))
	}

	if _, sendErr := gw.SendText(ctx, inv.ev.ChatID, inv.ev.MessageID, msgFailure); sendErr != nil {
		inv.log.Error("Failed to send failure notice", zap.Error(sendErr))
	}
}

func (inv *invocation) cachedTranscript(ctx context.Context) (string, bool) {
	p := inv.p
	if p.cache == nil || inv.ev.FileUniqueID == "" {
		return "", false
	}

	var text string
	err := p.cache.Get(ctx, cache.TranscriptCacheKey(inv.ev.FileUniqueID), &text)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return "", false
	case err != nil:
		inv.log.Warn("Transcript cache lookup failed", zap.Error(err))
		return "", false
	}

	inv.log.Info("Transcript served from cache")
	inv.cached = true
	p.metrics.CacheHit()
	return text, true
}

func (inv *invocation) storeTranscript(ctx context.Context, text string) {
	p := inv.p
	if p.cache == nil || inv.ev.FileUniqueID == "" {
		return
	}
	if err := p.cache.Set(ctx, cache.TranscriptCacheKey(inv.ev.FileUniqueID), text); err != nil {
		inv.log.Warn("Failed to cache transcript", zap.Error(err))
	}
}

func removeAudio(job *model.Job) {
	if err := os.Remove(job.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to remove audio file",
			zap.String("job_id", job.ID),
			zap.String("path", job.FilePath),
			zap.Error(err))
	}
}
