package notify

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/gomail.v2"
)

// SMTPTransport sends email through an SMTP relay.
type SMTPTransport struct {
	From   string
	dialer *gomail.Dialer
}

func NewSMTPTransport(host string, port int, user, password, from string) *SMTPTransport {
	return &SMTPTransport{From: from, dialer: gomail.NewDialer(host, port, user, password)}
}

func (s *SMTPTransport) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", env.To)
	m.SetHeader("Subject", env.Subject)
	m.SetBody("text/plain", env.Body)
	for _, f := range env.Attachments {
		data := f.Data
		m.Attach(f.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", env.To, err)
	}
	return nil
}
