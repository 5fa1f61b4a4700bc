// Package telemetry gives the bridge a best-effort telemetry touch-point
// (SPEC_FULL §2/§3): worker crashes, stream open/close, and chat reconnects
// are posted as Events to an Uploader. The shipped Uploader adapts the
// teacher's Telegram admin bot from a chat-ops command console into a
// fire-and-forget event poster, keeping the same HTTP-polling dependency
// surface exercised without building out the excluded admin-command set.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Event is one best-effort telemetry notification.
type Event struct {
	Kind       string
	StreamName string
	Detail     string
	At         time.Time
}

// Uploader accepts best-effort telemetry events. Post must never block the
// caller for long and must never panic; implementations swallow their own
// delivery failures and log them instead.
type Uploader interface {
	Post(ctx context.Context, ev Event)
}

// NoopUploader discards every event. Used when no telemetry sink is
// configured (spec.md's Non-goals exclude building the uploader out, but
// the core still gets a touch-point per SPEC_FULL §2).
type NoopUploader struct{}

// Post implements Uploader.
func (NoopUploader) Post(context.Context, Event) {}

const (
	telegramAPIURL = "https://api.telegram.org/bot%s/%s"
	requestTimeout = 10 * time.Second
)

// TelegramUploader posts events to a Telegram chat via sendMessage, the way
// the teacher's admin bot posts operational notices.
type TelegramUploader struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramUploader returns a TelegramUploader for the given bot token and
// chat ID. Returns NoopUploader if either is empty, so callers can wire this
// unconditionally from environment variables without an extra branch.
func NewTelegramUploader(token, chatID string) Uploader {
	if token == "" || chatID == "" {
		return NoopUploader{}
	}
	return &TelegramUploader{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: requestTimeout},
	}
}

// Post implements Uploader: sends ev as a Markdown-formatted message,
// in the background, swallowing any delivery error after logging it.
func (u *TelegramUploader) Post(ctx context.Context, ev Event) {
	text := fmt.Sprintf("*%s*\nstream: `%s`\n%s\n`%s`",
		ev.Kind, ev.StreamName, ev.Detail, ev.At.UTC().Format("2006-01-02 15:04:05 UTC"))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[telemetry] recovered from panic posting event: %v", r)
			}
		}()

		payload, err := json.Marshal(map[string]string{
			"chat_id":    u.chatID,
			"text":       text,
			"parse_mode": "Markdown",
		})
		if err != nil {
			log.Printf("[telemetry] encoding event: %v", err)
			return
		}

		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		url := fmt.Sprintf(telegramAPIURL, u.token, "sendMessage")
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			log.Printf("[telemetry] building request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := u.client.Do(req)
		if err != nil {
			log.Printf("[telemetry] posting event: %v", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			log.Printf("[telemetry] telegram returned status %d", resp.StatusCode)
		}
	}()
}
