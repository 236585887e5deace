package bot

import (
	"testing"

	"voxscribe/internal/pipeline"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"
)

func voiceMessage() *tele.Message {
	return &tele.Message{
		ID:     7,
		Chat:   &tele.Chat{ID: -100, Type: tele.ChatSuperGroup, Title: "Team"},
		Sender: &tele.User{ID: 42, FirstName: "Анна", LastName: "Петрова", Username: "anna"},
		Voice: &tele.Voice{
			File:     tele.File{FileID: "file-1", UniqueID: "uniq-1"},
			Duration: 12,
		},
	}
}

func TestVoiceEvent(t *testing.T) {
	ev, ok := voiceEvent(voiceMessage())

	assert.True(t, ok)
	assert.Equal(t, pipeline.VoiceEvent{
		ChatID:       -100,
		MessageID:    7,
		UserID:       42,
		DisplayName:  "Анна Петрова",
		FileID:       "file-1",
		FileUniqueID: "uniq-1",
		Duration:     12,
	}, ev)
}

func TestVoiceEvent_NotVoice(t *testing.T) {
	_, ok := voiceEvent(&tele.Message{Chat: &tele.Chat{ID: 1}})
	assert.False(t, ok)

	_, ok = voiceEvent(nil)
	assert.False(t, ok)
}

func TestVoiceEvent_AnonymousSender(t *testing.T) {
	msg := voiceMessage()
	msg.Sender = nil

	ev, ok := voiceEvent(msg)
	assert.True(t, ok)
	assert.Equal(t, int64(-100), ev.UserID)
	assert.Equal(t, "Team", ev.DisplayName)
}

func TestSenderName(t *testing.T) {
	tests := []struct {
		name string
		msg  *tele.Message
		want string
	}{
		{
			name: "first name only",
			msg:  &tele.Message{Sender: &tele.User{FirstName: "Анна"}},
			want: "Анна",
		},
		{
			name: "username fallback",
			msg:  &tele.Message{Sender: &tele.User{Username: "anna"}},
			want: "anna",
		},
		{
			name: "chat title fallback",
			msg:  &tele.Message{Chat: &tele.Chat{Title: "Team"}},
			want: "Team",
		},
		{
			name: "nothing known",
			msg:  &tele.Message{},
			want: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, senderName(tt.msg))
		})
	}
}
