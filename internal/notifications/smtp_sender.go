package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig carries the connection settings for the SMTP sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers HTML emails over plain-auth SMTP.
type SMTPSender struct {
	addr     string
	host     string
	username string
	password string
	from     string

	send  func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	clock func() time.Time
}

// SMTPOption customises the sender, primarily for tests.
type SMTPOption func(*SMTPSender)

// WithSendFunc overrides the underlying SMTP send call.
func WithSendFunc(send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error) SMTPOption {
	return func(s *SMTPSender) {
		if send != nil {
			s.send = send
		}
	}
}

// WithSMTPClock injects a custom clock.
func WithSMTPClock(clock func() time.Time) SMTPOption {
	return func(s *SMTPSender) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSMTPSender constructs an SMTP-backed email sender.
func NewSMTPSender(cfg SMTPConfig, opts ...SMTPOption) (*SMTPSender, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("smtp sender: host is required")
	}
	if cfg.Port <= 0 {
		return nil, errors.New("smtp sender: port is required")
	}
	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		return nil, errors.New("smtp sender: username is required")
	}
	if cfg.Password == "" {
		return nil, errors.New("smtp sender: password is required")
	}

	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = username
	}

	sender := &SMTPSender{
		addr:     fmt.Sprintf("%s:%d", host, cfg.Port),
		host:     host,
		username: username,
		password: cfg.Password,
		from:     from,
		send:     smtp.SendMail,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sender)
		}
	}
	return sender, nil
}

// SendEmail delivers a single HTML email. The context deadline is honoured
// before dialing; net/smtp itself does not accept a context.
func (s *SMTPSender) SendEmail(ctx context.Context, to string, subject string, body string) (SendResult, error) {
	if s == nil {
		return SendResult{}, errors.New("smtp sender not initialised")
	}
	recipient := strings.TrimSpace(to)
	if recipient == "" {
		return SendResult{}, errors.New("smtp sender: recipient is required")
	}
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}

	auth := smtp.PlainAuth("", s.username, s.password, s.host)
	msg := []byte(
		"From: " + s.from + "\r\n" +
			"To: " + recipient + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n" +
			"\r\n" +
			body,
	)

	if err := s.send(s.addr, auth, s.from, []string{recipient}, msg); err != nil {
		return SendResult{}, fmt.Errorf("smtp send failed: %w", err)
	}

	now := s.clock()
	return SendResult{
		MessageID: fmt.Sprintf("smtp-%d", now.UnixNano()),
		SentAt:    now,
	}, nil
}

var _ EmailSender = (*SMTPSender)(nil)
