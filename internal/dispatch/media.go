package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/haasonsaas/livelink/internal/backoff"
	"github.com/haasonsaas/livelink/internal/notify"
)

const (
	mediaTimeout  = 15 * time.Second
	mediaAttempts = 3
)

// extractMedia pulls an image out of a structured result. Inline image bytes
// are removed from the value returned for the model.
func extractMedia(value any) (*notify.Photo, any) {
	fields, ok := asObject(value)
	if !ok {
		return nil, value
	}

	caption, _ := fields["caption"].(string)
	if url, ok := fields["image_url"].(string); ok && url != "" {
		return &notify.Photo{URL: url, Caption: caption}, value
	}

	encoded, ok := fields["image_base64"].(string)
	if !ok || encoded == "" {
		return nil, value
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, value
	}

	stripped := make(map[string]any, len(fields))
	for k, v := range fields {
		if k != "image_base64" {
			stripped[k] = v
		}
	}
	stripped["image"] = "delivered to the user"
	filename, _ := fields["filename"].(string)
	if filename == "" {
		filename = "image.png"
	}
	return &notify.Photo{Data: data, Filename: filename, Caption: caption}, stripped
}

func asObject(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case string, []byte, nil:
		return nil, false
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	return fields, true
}

// forwardMedia sends an image over the side channel. Failures are logged only.
func (d *Dispatcher) forwardMedia(ctx context.Context, tool string, photo notify.Photo, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mediaTimeout)
	defer cancel()
	err := backoff.Retry(ctx, backoff.DefaultExponential(), mediaAttempts, func(int) error {
		return d.notifier.SendPhoto(ctx, d.recipient, photo)
	})
	if err != nil {
		logger.Warn("failed to forward tool image", "tool", tool, "error", err)
	}
}
