package bot

import (
	"context"
	"fmt"
	"strconv"

	"voxscribe/pkg/logger"
	"voxscribe/pkg/model"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

// API is the slice of the Telegram Bot API the gateway drives.
type API interface {
	Send(chatID int64, replyTo int, text string) (model.MessageRef, error)
	Edit(ref model.MessageRef, text string) error
	Typing(chatID int64) error
	Download(fileID, dest string) error
}

// Gateway paces outbound calls to stay under Telegram's global limits and
// makes them respect context cancellation.
type Gateway struct {
	api     API
	limiter *rate.Limiter
}

func NewGateway(api API, sendRate float64, burst int) *Gateway {
	return &Gateway{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(sendRate), burst),
	}
}

// SendText sends text as HTML, replying to replyTo when it is non-zero.
func (g *Gateway) SendText(ctx context.Context, chatID int64, replyTo int, text string) (model.MessageRef, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return model.MessageRef{}, fmt.Errorf("send to chat %d: %w", chatID, err)
	}

	ref, err := g.api.Send(chatID, replyTo, text)
	if err != nil {
		return model.MessageRef{}, fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	return ref, nil
}

// EditText replaces the text of a previously sent message.
func (g *Gateway) EditText(ctx context.Context, ref model.MessageRef, text string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("edit message %d: %w", ref.MessageID, err)
	}

	if err := g.api.Edit(ref, text); err != nil {
		return fmt.Errorf("edit message %d: %w", ref.MessageID, err)
	}
	return nil
}

// SendTyping shows the typing indicator. It never waits for a send slot.
func (g *Gateway) SendTyping(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !g.limiter.Allow() {
		logger.Debug("Skipping typing indicator under send pressure", zap.Int64("chat_id", chatID))
		return nil
	}
	return g.api.Typing(chatID)
}

// DownloadFile fetches a Telegram file to dest.
func (g *Gateway) DownloadFile(ctx context.Context, fileID, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.api.Download(fileID, dest); err != nil {
		return fmt.Errorf("download %s: %w", fileID, err)
	}
	return nil
}

// teleAPI adapts *tele.Bot to API.
type teleAPI struct {
	tb *tele.Bot
}

func NewTeleAPI(tb *tele.Bot) API {
	return &teleAPI{tb: tb}
}

func (a *teleAPI) Send(chatID int64, replyTo int, text string) (model.MessageRef, error) {
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
	if replyTo != 0 {
		opts.ReplyTo = &tele.Message{ID: replyTo, Chat: &tele.Chat{ID: chatID}}
	}

	msg, err := a.tb.Send(&tele.Chat{ID: chatID}, text, opts)
	if err != nil {
		return model.MessageRef{}, err
	}
	return model.MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

func (a *teleAPI) Edit(ref model.MessageRef, text string) error {
	stored := tele.StoredMessage{
		MessageID: strconv.Itoa(ref.MessageID),
		ChatID:    ref.ChatID,
	}
	_, err := a.tb.Edit(stored, text, &tele.SendOptions{ParseMode: tele.ModeHTML})
	return err
}

func (a *teleAPI) Typing(chatID int64) error {
	return a.tb.Notify(&tele.Chat{ID: chatID}, tele.Typing)
}

func (a *teleAPI) Download(fileID, dest string) error {
	return a.tb.Download(&tele.File{FileID: fileID}, dest)
}
