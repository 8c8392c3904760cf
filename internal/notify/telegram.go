package notify

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Telegram messages are capped at 4096 characters.
const maxTelegramText = 4096

// BotClient is the subset of *bot.Bot the notifier uses.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
}

// Telegram delivers notifications through a Telegram bot.
type Telegram struct {
	client        BotClient
	defaultChatID int64
}

// NewTelegram creates a notifier backed by a real bot.
func NewTelegram(token string, defaultChatID int64) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return NewTelegramWithClient(b, defaultChatID), nil
}

// NewTelegramWithClient wraps an existing client.
func NewTelegramWithClient(client BotClient, defaultChatID int64) *Telegram {
	return &Telegram{client: client, defaultChatID: defaultChatID}
}

func (t *Telegram) SendText(ctx context.Context, recipient, text string) error {
	chatID, err := t.chatID(recipient)
	if err != nil {
		return err
	}
	for _, chunk := range splitText(text, maxTelegramText) {
		if _, err := t.client.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: chunk}); err != nil {
			return fmt.Errorf("telegram send message: %w", err)
		}
	}
	return nil
}

func (t *Telegram) SendPhoto(ctx context.Context, recipient string, photo Photo) error {
	chatID, err := t.chatID(recipient)
	if err != nil {
		return err
	}
	params := &bot.SendPhotoParams{ChatID: chatID, Caption: photo.Caption}
	switch {
	case len(photo.Data) > 0:
		name := photo.Filename
		if name == "" {
			name = "image.png"
		}
		params.Photo = &models.InputFileUpload{Filename: name, Data: bytes.NewReader(photo.Data)}
	case photo.URL != "":
		params.Photo = &models.InputFileString{Data: photo.URL}
	default:
		return fmt.Errorf("telegram send photo: empty photo")
	}
	if _, err := t.client.SendPhoto(ctx, params); err != nil {
		return fmt.Errorf("telegram send photo: %w", err)
	}
	return nil
}

func (t *Telegram) chatID(recipient string) (int64, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		if t.defaultChatID == 0 {
			return 0, ErrNoRecipient
		}
		return t.defaultChatID, nil
	}
	id, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", recipient, err)
	}
	return id, nil
}

func splitText(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := limit
		if n > len(runes) {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
