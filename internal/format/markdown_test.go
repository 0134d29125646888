package format

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

func TestUTF16Len(t *testing.T) {
	assert.Equal(t, 5, UTF16Len("hello"))
	assert.Equal(t, 1, UTF16Len("⏰"))
	assert.Equal(t, 2, UTF16Len("😴"))
	assert.Equal(t, 2, UTF16Len("好的"))
}

func TestParseMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		text     string
		entities []tgbotapi.MessageEntity
	}{
		{
			name: "plain",
			in:   "Drink water",
			text: "Drink water",
		},
		{
			name:     "bold after emoji",
			in:       "⏰ **Stretch**",
			text:     "⏰ Stretch",
			entities: []tgbotapi.MessageEntity{{Type: "bold", Offset: 2, Length: 7}},
		},
		{
			name:     "surrogate pair shifts offsets",
			in:       "😴 **Run** at 09:15",
			text:     "😴 Run at 09:15",
			entities: []tgbotapi.MessageEntity{{Type: "bold", Offset: 3, Length: 3}},
		},
		{
			name: "header",
			in:   "## Reminders\nnext",
			text: "Reminders\nnext",
			entities: []tgbotapi.MessageEntity{
				{Type: "bold", Offset: 0, Length: 9},
			},
		},
		{
			name: "code before bold keeps offsets",
			in:   "`/start` then **go**",
			text: "/start then go",
			entities: []tgbotapi.MessageEntity{
				{Type: "code", Offset: 0, Length: 6},
				{Type: "bold", Offset: 12, Length: 2},
			},
		},
		{
			name: "markers inside code stay literal",
			in:   "`**x**`",
			text: "**x**",
			entities: []tgbotapi.MessageEntity{
				{Type: "code", Offset: 0, Length: 5},
			},
		},
		{
			name: "italic forms",
			in:   "*soft* and _quiet_",
			text: "soft and quiet",
			entities: []tgbotapi.MessageEntity{
				{Type: "italic", Offset: 0, Length: 4},
				{Type: "italic", Offset: 9, Length: 5},
			},
		},
		{
			name: "snake case is not italic",
			in:   "take_daily_meds",
			text: "take_daily_meds",
		},
		{
			name: "link",
			in:   "[Open habit](https://app.example.com/habits/1) now",
			text: "Open habit now",
			entities: []tgbotapi.MessageEntity{
				{Type: "text_link", Offset: 0, Length: 10, URL: "https://app.example.com/habits/1"},
			},
		},
		{
			name: "nested code inside bold",
			in:   "**a `b` c**",
			text: "a b c",
			entities: []tgbotapi.MessageEntity{
				{Type: "bold", Offset: 0, Length: 5},
				{Type: "code", Offset: 2, Length: 1},
			},
		},
		{
			name: "trailing whitespace trimmed",
			in:   "done\n\n",
			text: "done",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMarkdown(tt.in)
			assert.Equal(t, tt.text, got.Text)
			assert.Equal(t, tt.entities, got.Entities)
		})
	}
}
