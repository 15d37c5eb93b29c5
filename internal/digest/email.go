// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package digest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
)

// EmailConfig configures an [Email] dispatcher.
type EmailConfig struct {
	Host string
	// Port defaults to 587.
	Port     int
	Username string
	Password string
	From     string
	To       []string
	// Timeout bounds a single delivery. Zero means 30 seconds.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Email delivers digests over SMTP with mandatory STARTTLS.
type Email struct {
	c    EmailConfig
	send func(ctx context.Context, msg *mail.Msg) error
}

// NewEmail returns an email dispatcher.
func NewEmail(c EmailConfig) (*Email, error) {
	if c.Host == "" {
		return nil, errors.New("digest: SMTP host is required")
	}
	if c.From == "" || len(c.To) == 0 {
		return nil, errors.New("digest: sender and recipient addresses are required")
	}
	c.Port = cmp.Or(c.Port, 587)
	c.Timeout = cmp.Or(c.Timeout, 30*time.Second)
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	e := &Email{c: c}
	e.send = e.dialAndSend
	return e, nil
}

// Deliver implements [Dispatcher].
func (e *Email) Deliver(ctx context.Context, batch []Summary) error {
	if len(batch) == 0 {
		return nil
	}
	msg, err := e.message(batch)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, e.c.Timeout)
	defer cancel()
	if err := e.send(ctx, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	e.c.Logger.Info("email sent", "articles", len(batch), "to", e.c.To)
	return nil
}

func (e *Email) message(batch []Summary) (*mail.Msg, error) {
	html, err := RenderHTML(batch)
	if err != nil {
		return nil, fmt.Errorf("rendering HTML digest: %w", err)
	}
	text, err := RenderText(batch)
	if err != nil {
		return nil, fmt.Errorf("rendering text digest: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(e.c.From); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(e.c.To...); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(Subject(len(batch)))
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, text)
	msg.AddAlternativeString(mail.TypeTextHTML, html)
	return msg, nil
}

func (e *Email) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(e.c.Port),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
		mail.WithTimeout(e.c.Timeout),
	}
	if e.c.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.c.Username),
			mail.WithPassword(e.c.Password),
		)
	}
	client, err := mail.NewClient(e.c.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}
