package bot

import (
	"strings"

	"voxscribe/internal/pipeline"

	tele "gopkg.in/telebot.v4"
)

func (b *Bot) handleVoice(c tele.Context) error {
	ev, ok := voiceEvent(c.Message())
	if !ok {
		return nil
	}

	b.handler.HandleVoice(b.ctx, ev)
	return nil
}

func (b *Bot) handleStart(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Chat == nil {
		return nil
	}

	return b.handler.HandleStart(b.ctx, pipeline.StartEvent{
		ChatID:      msg.Chat.ID,
		ChatType:    string(msg.Chat.Type),
		DisplayName: senderName(msg),
	})
}

// voiceEvent extracts a pipeline event from a voice message.
func voiceEvent(msg *tele.Message) (pipeline.VoiceEvent, bool) {
	if msg == nil || msg.Voice == nil || msg.Chat == nil {
		return pipeline.VoiceEvent{}, false
	}

	userID := msg.Chat.ID
	if msg.Sender != nil {
		userID = msg.Sender.ID
	}

	return pipeline.VoiceEvent{
		ChatID:       msg.Chat.ID,
		MessageID:    msg.ID,
		UserID:       userID,
		DisplayName:  senderName(msg),
		FileID:       msg.Voice.FileID,
		FileUniqueID: msg.Voice.UniqueID,
		Duration:     msg.Voice.Duration,
	}, true
}

// senderName is the sender's full name, falling back to the username and
// then the chat title for anonymous channel posts.
func senderName(msg *tele.Message) string {
	if u := msg.Sender; u != nil {
		name := strings.TrimSpace(u.FirstName + " " + u.LastName)
		if name != "" {
			return name
		}
		if u.Username != "" {
			return u.Username
		}
	}
	if msg.Chat != nil && msg.Chat.Title != "" {
		return msg.Chat.Title
	}
	return "unknown"
}
