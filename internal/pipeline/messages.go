package pipeline

import "fmt"

// User-facing texts. All are sent with HTML formatting; %s placeholders must
// receive escaped values.
const (
	msgProcessing = "⏳ От <b>%s</b>: идёт распознавание..."
	msgHeader     = "От <b>%s</b>: "
	msgNoSpeech   = "[Не удалось распознать речь или тишина]"
	msgFailure    = "❌ Ошибка обработки."
	msgTooLong    = "⚠️ Сообщение слишком длинное для обработки (макс. %d минут)."
	msgGreeting   = "Привет! Я бот для распознавания голосовых сообщений.\n" +
		"ID этого чата: <code>%d</code>\n" +
		"(Добавь этот ID в .env если хочешь ограничить доступ)"
)

func tooLongNotice(maxSeconds int) string {
	minutes := (maxSeconds + 59) / 60
	return fmt.Sprintf(msgTooLong, minutes)
}

func greeting(chatID int64) string {
	return fmt.Sprintf(msgGreeting, chatID)
}
