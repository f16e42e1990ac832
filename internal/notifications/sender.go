package notifications

import (
	"context"
	"time"
)

// SendResult reports the outcome of a dispatched email.
type SendResult struct {
	MessageID string
	SentAt    time.Time
}

// EmailSender delivers a single email message.
type EmailSender interface {
	SendEmail(ctx context.Context, to string, subject string, body string) (SendResult, error)
}

// EmailSenderFunc adapts a function to the EmailSender interface.
type EmailSenderFunc func(ctx context.Context, to string, subject string, body string) (SendResult, error)

// SendEmail implements EmailSender.
func (f EmailSenderFunc) SendEmail(ctx context.Context, to string, subject string, body string) (SendResult, error) {
	return f(ctx, to, subject, body)
}
