package bot

import (
	"context"
	"fmt"

	"voxscribe/internal/config"
	"voxscribe/internal/pipeline"
	"voxscribe/pkg/logger"
	"voxscribe/pkg/model"

	tele "gopkg.in/telebot.v4"

	"go.uber.org/zap"
)

// Handler consumes inbound chat events.
type Handler interface {
	HandleVoice(ctx context.Context, ev pipeline.VoiceEvent) model.Outcome
	HandleStart(ctx context.Context, ev pipeline.StartEvent) error
}

type Bot struct {
	tb      *tele.Bot
	handler Handler
	// ctx outlives Stop so in-flight invocations can finish.
	ctx context.Context
}

// NewTelebot creates the Telegram client with a long poller.
func NewTelebot(cfg *config.Config) (*tele.Bot, error) {
	logger.Info("Starting bot initialization")

	pref := tele.Settings{
		Token: cfg.Telegram.Token,
		Poller: &tele.LongPoller{
			Timeout: cfg.Telegram.PollTimeout,
		},
		OnError: func(err error, c tele.Context) {
			fields := []zap.Field{zap.Error(err)}
			if c != nil && c.Chat() != nil {
				fields = append(fields, zap.Int64("chat_id", c.Chat().ID))
			}
			logger.Error("Telegram handler error", fields...)
		},
	}

	tb, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Bot created successfully", zap.String("username", tb.Me.Username))
	return tb, nil
}

func NewBot(tb *tele.Bot, handler Handler) *Bot {
	bot := &Bot{
		tb:      tb,
		handler: handler,
		ctx:     context.Background(),
	}

	bot.registerHandlers()
	return bot
}

func (b *Bot) registerHandlers() {
	b.tb.Handle("/start", b.handleStart)
	b.tb.Handle(tele.OnVoice, b.handleVoice)
}

// Start runs the long poller and blocks until Stop.
func (b *Bot) Start() {
	logger.Info("Bot started")
	b.tb.Start()
}

// Stop stops polling. Handlers already running keep going.
func (b *Bot) Stop() {
	b.tb.Stop()
	logger.Info("Bot stopped")
}
