package email

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/resend/resend-go/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/handbok-org/handbok/pkg/config"
)

var ErrNoRecipient = errors.New("email has no recipient")

type Message struct {
	To      []string
	Subject string
	HTML    string
}

// Sender delivers transactional email. Callers treat failures as non-fatal.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), from: from}
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipient
	}
	_, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}

// LogSender stands in when no provider key is configured, e.g. in local dev.
type LogSender struct {
	l *zap.SugaredLogger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipient
	}
	s.l.Infow("email_not_sent_no_provider", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Recorder keeps sent messages in memory; tests use it as the Sender.
type Recorder struct {
	mu   sync.Mutex
	Err  error
	sent []Message
}

func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

func (r *Recorder) SetErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Err = err
}

func newSender(l *zap.SugaredLogger, cfg *cfgpkg.Config) Sender {
	if cfg.Email.ResendAPIKey == "" {
		l.Warnw("RESEND_API_KEY not set, outgoing email is logged only")
		return LogSender{l: l}
	}
	return NewResendSender(cfg.Email.ResendAPIKey, cfg.Email.From)
}

var Module = fx.Options(
	fx.Provide(newSender),
)
