package email

import (
	"fmt"
	"net/smtp"
	"strings"
)

type Sender interface {
	Send(to, subject, body string) error
}

// SMTPSender delivers mail over plain SMTP. In development this points at
// Mailpit; production relays that need auth sit behind the same interface.
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host, port, from string) *SMTPSender {
	if strings.TrimSpace(from) == "" {
		from = "no-reply@clinicbook.local"
	}
	return &SMTPSender{
		addr: strings.TrimSpace(host) + ":" + strings.TrimSpace(port),
		from: strings.TrimSpace(from),
	}
}

func (s *SMTPSender) Send(to, subject, body string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(b.String()))
}

// NoopSender discards mail. Used when SMTP is not configured, so a missing
// relay never blocks event processing.
type NoopSender struct{}

func (NoopSender) Send(_, _, _ string) error { return nil }
