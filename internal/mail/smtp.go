// Package mail – SMTP delivery
//
// This file implements the outbound e-mail channel used by the scheduled
// digest generator. Messages are single-recipient plain text. The sender
// speaks classic SMTP against one configured relay: with SMTP_TLS set the
// session starts encrypted (implicit TLS, typically port 465), otherwise
// the connection opens in cleartext and is upgraded with STARTTLS
// (typically port 587). PLAIN authentication is attempted only when a
// username is configured.
//
// An empty SMTP_HOST disables the channel. Callers should then hand the
// digest generator a nil mailer, which skips the mail leg; a Sender built
// from such a config refuses every Send with ErrNotConfigured.
//
// Usage:
//
//	m := mail.NewSender(cfg.SMTP)
//	err := m.Send(ctx, "alice@example.com", "Your workspace digest", body)
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-collab-backend/internal/config"
)

var (
	// ErrNotConfigured is returned by Send when no SMTP host is configured.
	ErrNotConfigured = errors.New("smtp is not configured")
	// ErrNoRecipient is returned by Send when the recipient address is empty.
	ErrNoRecipient = errors.New("recipient address is empty")
)

// Sender delivers plain-text messages through a single SMTP relay.
// The zero value is unusable; construct it with NewSender.
type Sender struct {
	cfg config.SMTPConfig
}

// NewSender returns a Sender bound to the given relay configuration.
func NewSender(cfg config.SMTPConfig) *Sender {
	return &Sender{cfg: cfg}
}

// Send composes an RFC 5322 plain-text message and submits it to the relay
// in one SMTP session. The context bounds the dial; the configured dial
// timeout applies even when the context carries no deadline.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	if strings.TrimSpace(s.cfg.Host) == "" {
		return ErrNotConfigured
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return ErrNoRecipient
	}

	msg := buildMessage(s.cfg.From, to, subject, body)
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	client, err := s.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := s.negotiate(client); err != nil {
		return err
	}
	if err := submit(client, s.cfg.From, to, msg); err != nil {
		return err
	}

	log.Debug().Str("to", to).Str("relay", addr).Msg("smtp message sent")
	return nil
}

// dial opens the transport connection and performs the SMTP greeting. With
// UseTLS the connection is encrypted from the first byte; otherwise it stays
// cleartext until negotiate upgrades it.
func (s *Sender) dial(ctx context.Context, addr string) (*smtp.Client, error) {
	nd := &net.Dialer{Timeout: s.cfg.DialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if s.cfg.UseTLS {
		td := &tls.Dialer{NetDialer: nd, Config: &tls.Config{ServerName: s.cfg.Host}}
		conn, err = td.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = nd.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	return client, nil
}

// negotiate upgrades a cleartext session with STARTTLS and authenticates
// when credentials are configured.
func (s *Sender) negotiate(client *smtp.Client) error {
	if !s.cfg.UseTLS {
		tlsConfig := &tls.Config{ServerName: s.cfg.Host}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	return nil
}

// submit runs the MAIL/RCPT/DATA sequence and ends the session with QUIT.
func submit(client *smtp.Client, from, to, msg string) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return client.Quit()
}

// buildMessage assembles the CRLF-delimited wire form of the message.
func buildMessage(from, to, subject, body string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", headerValue(from)))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", headerValue(to)))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", headerValue(subject)))
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

// headerValue flattens CR and LF so a crafted subject or address cannot
// smuggle extra headers into the message.
func headerValue(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
