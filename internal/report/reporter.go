package report

import (
	"context"
	"fmt"
	"html"
	"time"

	"voxscribe/internal/metrics"
	"voxscribe/pkg/logger"
	"voxscribe/pkg/model"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// Sender delivers an HTML message to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, replyTo int, text string) (model.MessageRef, error)
}

// Capturer is the subset of *sentry.Hub the reporter uses.
type Capturer interface {
	WithScope(f func(scope *sentry.Scope))
	CaptureException(exception error) *sentry.EventID
}

type Option func(*Reporter)

// WithSentry forwards every report to hub as well.
func WithSentry(hub Capturer) Option {
	return func(r *Reporter) { r.sentry = hub }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reporter) { r.metrics = m }
}

// WithTimeout bounds how long delivery to the operator may take.
func WithTimeout(d time.Duration) Option {
	return func(r *Reporter) { r.timeout = d }
}

// Reporter forwards unexpected failures to the operator chat. It never fails
// and never panics into its caller.
type Reporter struct {
	sender  Sender
	adminID int64
	timeout time.Duration
	sentry  Capturer
	metrics *metrics.Metrics
}

// New creates a reporter sending to adminID; 0 disables the chat sink.
func New(sender Sender, adminID int64, opts ...Option) *Reporter {
	r := &Reporter{
		sender:  sender,
		adminID: adminID,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report logs err and delivers it to every configured sink.
func (r *Reporter) Report(ctx context.Context, err error, context string) {
	if err == nil {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Error reporter panicked", zap.Any("panic", p))
		}
	}()

	logger.Error("Reporting error",
		zap.String("context", context),
		zap.Error(err))
	r.metrics.ErrorReported()

	if r.sentry != nil {
		r.sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("component", "pipeline")
			scope.SetExtra("context", context)
			r.sentry.CaptureException(err)
		})
	}

	if r.adminID == 0 || r.sender == nil {
		return
	}

	sendCtx, cancel := contextWithTimeout(ctx, r.timeout)
	defer cancel()

	if _, sendErr := r.sender.SendText(sendCtx, r.adminID, 0, FormatReport(err, context)); sendErr != nil {
		logger.Error("Failed to deliver error report to admin",
			zap.Int64("admin_id", r.adminID),
			zap.Error(sendErr))
	}
}

// FormatReport renders the operator message. Both parts are escaped since the
// message is sent as HTML.
func FormatReport(err error, context string) string {
	return fmt.Sprintf("🚨 <b>Bot Error</b>\nContext: %s\nError: %s",
		html.EscapeString(context),
		html.EscapeString(err.Error()))
}

// contextWithTimeout detaches from ctx's cancellation so a report about a
// cancelled invocation is still delivered.
func contextWithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}
