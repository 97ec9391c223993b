package service

import (
	"fmt"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"

	"github.com/xxxsen/portalauth/internal/config"
	appErr "github.com/xxxsen/portalauth/internal/pkg/errors"
)

type EmailSender interface {
	Send(to, subject, body string) error
	// SendAdmins mails every configured administrator. It is a no-op when
	// no administrators are configured.
	SendAdmins(subject, body string) error
}

type smtpSender struct {
	cfg config.MailConfig
}

func NewEmailSender(cfg config.MailConfig) EmailSender {
	return &smtpSender{cfg: cfg}
}

func (s *smtpSender) Send(to, subject, body string) error {
	return s.send([]string{to}, subject, body)
}

func (s *smtpSender) SendAdmins(subject, body string) error {
	if len(s.cfg.Admins) == 0 {
		return nil
	}
	if s.cfg.SubjectPrefix != "" {
		subject = s.cfg.SubjectPrefix + subject
	}
	return s.send(s.cfg.Admins, subject, body)
}

func (s *smtpSender) send(to []string, subject, body string) error {
	from := strings.TrimSpace(s.cfg.From)
	if s.cfg.Host == "" || s.cfg.Port == 0 || from == "" {
		return appErr.ErrInvalid
	}
	rcpts := make([]*mail.Address, 0, len(to))
	for _, item := range to {
		addr, err := mail.ParseAddress(item)
		if err != nil {
			return fmt.Errorf("parse recipient %q: %w", item, err)
		}
		rcpts = append(rcpts, addr)
	}
	sender, err := mail.ParseAddress(from)
	if err != nil {
		return fmt.Errorf("parse sender: %w", err)
	}
	envelope := make([]string, 0, len(rcpts))
	for _, addr := range rcpts {
		envelope = append(envelope, addr.Address)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	return smtp.SendMail(addr, auth, sender.Address, envelope, buildMessage(sender, rcpts, subject, body))
}

// buildMessage renders the headers from parsed addresses so display names
// are quoted or RFC 2047 encoded as needed.
func buildMessage(from *mail.Address, to []*mail.Address, subject, body string) []byte {
	rendered := make([]string, 0, len(to))
	for _, addr := range to {
		rendered = append(rendered, addr.String())
	}
	return []byte("From: " + from.String() + "\r\n" +
		"To: " + strings.Join(rendered, ", ") + "\r\n" +
		"Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" + body)
}

// formatRecipient renders a recipient that mail.ParseAddress accepts back,
// falling back to the bare address when no name is known.
func formatRecipient(firstName, lastName, email string) string {
	name := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
	if name == "" {
		return email
	}
	return (&mail.Address{Name: name, Address: email}).String()
}
