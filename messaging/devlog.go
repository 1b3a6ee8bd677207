package messaging

import (
	"context"
	"log/slog"
	"sync"
)

// LogSender writes every message to the log instead of delivering it. It is
// the default sender in development and the backing fake in tests, where the
// recorded messages let a test read the code that "arrived".
type LogSender struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Recorded
}

// Recorded is one captured message.
type Recorded struct {
	Kind    string // "email" or "sms"
	To      string
	Subject string
	Body    string
}

var (
	_ Mailer    = (*LogSender)(nil)
	_ SMSSender = (*LogSender)(nil)
)

// NewLogSender creates a log-backed sender. A nil logger uses slog.Default.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (l *LogSender) SendMail(ctx context.Context, to, subject, body string) error {
	l.logger.InfoContext(ctx, "outbound email",
		slog.String("to", MaskEmail(to)),
		slog.String("subject", subject))
	l.record(Recorded{Kind: "email", To: to, Subject: subject, Body: body})
	return nil
}

func (l *LogSender) SendSMS(ctx context.Context, to, body string) error {
	l.logger.InfoContext(ctx, "outbound sms",
		slog.String("to", MaskPhone(to)))
	l.record(Recorded{Kind: "sms", To: to, Body: body})
	return nil
}

func (l *LogSender) record(r Recorded) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, r)
}

// Sent returns a copy of every captured message, in order.
func (l *LogSender) Sent() []Recorded {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Recorded, len(l.sent))
	copy(out, l.sent)
	return out
}

// Last returns the most recent captured message.
func (l *LogSender) Last() (Recorded, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sent) == 0 {
		return Recorded{}, false
	}
	return l.sent[len(l.sent)-1], true
}
