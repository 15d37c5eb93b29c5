// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package digest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.astrophena.name/feedsum/internal/request"
)

const (
	tgAPI          = "https://api.telegram.org"
	sendRetryLimit = 5 // N attempts to retry message sending
	maxMessageLen  = 4096
)

// TelegramConfig configures a [Telegram] dispatcher.
type TelegramConfig struct {
	ChatID     string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Telegram delivers digests as plain text messages via the Telegram Bot API.
type Telegram struct {
	chatID      string
	token       string
	httpc       *http.Client
	scrubber    *strings.Replacer
	slog        *slog.Logger
	makeRequest func(context.Context, string, any) error
	sleep       func(context.Context, time.Duration) bool
}

// NewTelegram returns a Telegram dispatcher for a chat.
func NewTelegram(c TelegramConfig) (*Telegram, error) {
	if c.Token == "" || c.ChatID == "" {
		return nil, errors.New("digest: Telegram token and chat ID are required")
	}
	t := &Telegram{
		chatID:   c.ChatID,
		token:    c.Token,
		httpc:    c.HTTPClient,
		scrubber: strings.NewReplacer(c.Token, "[EXPUNGED]"),
		slog:     c.Logger,
	}
	if t.httpc == nil {
		t.httpc = request.DefaultClient
	}
	if t.slog == nil {
		t.slog = slog.Default()
	}
	t.makeRequest = t.makeTelegramRequest
	t.sleep = sleep
	return t, nil
}

type message struct {
	ChatID             string `json:"chat_id"`
	Text               string `json:"text"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
}

// Deliver implements [Dispatcher].
func (t *Telegram) Deliver(ctx context.Context, batch []Summary) error {
	if len(batch) == 0 {
		return nil
	}
	text, err := RenderText(batch)
	if err != nil {
		return err
	}

	msg := &message{ChatID: t.chatID}
	msg.LinkPreviewOptions.IsDisabled = true

	for _, chunk := range splitMessage(text) {
		msg.Text = chunk

		var err error
		for range sendRetryLimit {
			err = t.makeRequest(ctx, "sendMessage", msg)
			if err == nil {
				break
			}

			retryable, wait := isRateLimited(err)
			if !retryable {
				break
			}

			t.slog.Warn("sending rate limited, waiting", slog.String("chat_id", t.chatID), slog.Duration("wait", wait))
			if !t.sleep(ctx, wait) {
				return ctx.Err()
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) makeTelegramRequest(ctx context.Context, method string, args any) error {
	_, err := request.Make[request.IgnoreResponse](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        tgAPI + "/bot" + t.token + "/" + method,
		Body:       args,
		HTTPClient: t.httpc,
		Scrubber:   t.scrubber,
	})
	return err
}

// splitMessage cuts text into chunks of at most maxMessageLen runes,
// preferring to break at newlines and then at other whitespace.
func splitMessage(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= maxMessageLen {
			chunks = append(chunks, text)
			break
		}

		var (
			lastNewline    = -1
			lastWhitespace = -1
			byteCap        = len(text)
			runeCount      int
		)
		for i, r := range text {
			if runeCount == maxMessageLen {
				byteCap = i
				break
			}
			runeCount++

			if r == '\n' {
				lastNewline = i
				continue
			}
			if unicode.IsSpace(r) {
				lastWhitespace = i
			}
		}

		splitAt := byteCap
		switch {
		case lastNewline > 0:
			splitAt = lastNewline
		case lastWhitespace > 0:
			splitAt = lastWhitespace
		}

		if chunk := strings.TrimSpace(text[:splitAt]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[splitAt:])
	}
	return chunks
}

func isRateLimited(err error) (bool, time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}

	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(statusErr.Body, &errorResponse); err != nil {
		return false, 0
	}
	return true, time.Duration(errorResponse.Parameters.RetryAfter) * time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
