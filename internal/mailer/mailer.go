// Package mailer отправляет письма клиентам через SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Config содержит параметры SMTP-сервера.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Dialer отправляет подготовленные сообщения.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer отправляет письма через SMTP.
type Mailer struct {
	dialer Dialer
	from   string
	logger *zap.Logger
}

// New создаёт отправителя с SMTP-диалером gomail.
func New(cfg Config, logger *zap.Logger) *Mailer {
	return NewWithDialer(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg.From, logger)
}

// NewWithDialer создаёт отправителя с указанным диалером.
func NewWithDialer(d Dialer, from string, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{dialer: d, from: from, logger: logger.Named("mailer")}
}

// Send отправляет текстовое письмо. Доставка не гарантируется: результат
// SMTP-сессии возвращается как есть.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send email to %s: %w", to, err)
	}

	m.logger.Debug("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// ErrNotConfigured возвращается отправителем Nop: письмо не доставлено.
var ErrNotConfigured = errors.New("smtp is not configured")

// Nop — отправитель без SMTP. Письмо пишется в лог, а Send возвращает
// ErrNotConfigured, поэтому окно напоминания фиксируется как FAILED.
type Nop struct {
	Logger *zap.Logger
}

func (n Nop) Send(ctx context.Context, to, subject, body string) error {
	if n.Logger != nil {
		n.Logger.Info("email not sent: smtp is not configured", zap.String("to", to), zap.String("subject", subject))
	}
	return ErrNotConfigured
}
