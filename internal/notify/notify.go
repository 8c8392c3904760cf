// Package notify delivers one-way messages and photos to the human behind a
// live session over a side channel.
package notify

import (
	"context"
	"errors"
)

// ErrNoRecipient is returned when neither the call nor the notifier names a recipient.
var ErrNoRecipient = errors.New("no recipient")

// Photo is an image to deliver, either by URL or as raw bytes.
type Photo struct {
	URL      string
	Data     []byte
	Filename string
	Caption  string
}

// Notifier delivers messages. An empty recipient means the notifier's default.
type Notifier interface {
	SendText(ctx context.Context, recipient, text string) error
	SendPhoto(ctx context.Context, recipient string, photo Photo) error
}

// Discard is a Notifier that drops everything.
type Discard struct{}

func (Discard) SendText(context.Context, string, string) error { return nil }

func (Discard) SendPhoto(context.Context, string, Photo) error { return nil }
