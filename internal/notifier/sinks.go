package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	kit "checktime/internal/transport"

	"github.com/SherClockHolmes/webpush-go"
)

// TelegramSink sends through the chat transport adapter.
type TelegramSink struct {
	adapter kit.Adapter
}

func NewTelegramSink(adapter kit.Adapter) *TelegramSink {
	return &TelegramSink{adapter: adapter}
}

func (t *TelegramSink) Name() string { return SinkTelegram }

func (t *TelegramSink) Send(ctx context.Context, to Destination, text string) error {
	if to.ChatID == 0 {
		return fmt.Errorf("telegram: empty chat id: %w", ErrPermanent)
	}
	_, err := t.adapter.SendText(ctx, kit.ChatTarget{ChatID: to.ChatID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type WebPushConfig struct {
	Enabled         bool
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTL             int
}

// PushSender posts one encrypted payload; webpush.SendNotificationWithContext
// satisfies it.
type PushSender func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// WebPushSink delivers to a browser push subscription.
type WebPushSink struct {
	opts webpush.Options
	send PushSender
}

// NewWebPushSink returns nil when Web Push is disabled or unkeyed; callers
// register the sink only when it is non-nil.
func NewWebPushSink(cfg WebPushConfig, send PushSender) *WebPushSink {
	if !cfg.Enabled || cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil
	}
	if send == nil {
		send = webpush.SendNotificationWithContext
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 60
	}
	return &WebPushSink{
		opts: webpush.Options{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subscriber:      cfg.Subscriber,
			TTL:             ttl,
		},
		send: send,
	}
}

func (w *WebPushSink) Name() string { return SinkWebPush }

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (w *WebPushSink) Send(ctx context.Context, to Destination, text string) error {
	sub, err := parseSubscription(to.PushSubscription)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(pushPayload{Title: "checktime", Body: text})
	if err != nil {
		return err
	}
	opts := w.opts
	resp, err := w.send(ctx, payload, sub, &opts)
	if err != nil {
		return fmt.Errorf("webpush: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("webpush: subscription expired (%d): %w", resp.StatusCode, ErrPermanent)
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("webpush: rejected (%d): %w", resp.StatusCode, ErrPermanent)
	case resp.StatusCode >= 300:
		return fmt.Errorf("webpush: status %d", resp.StatusCode)
	}
	return nil
}

func parseSubscription(raw string) (*webpush.Subscription, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("webpush: empty subscription: %w", ErrPermanent)
	}
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return nil, fmt.Errorf("webpush: decode subscription: %v: %w", err, ErrPermanent)
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, errors.Join(errors.New("webpush: subscription missing endpoint or keys"), ErrPermanent)
	}
	return &sub, nil
}
