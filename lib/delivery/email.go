// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jordan-wright/email"

	"github.com/bureau-foundation/sessionpack/lib/secret"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

// Sender transmits a composed message. The SMTP implementation is the
// default; tests substitute a recorder.
type Sender interface {
	Send(ctx context.Context, message *email.Email) error
}

// EmailDestination mails each package as an attachment.
type EmailDestination struct {
	Server string
	Port   int

	// UseTLS connects with implicit TLS (port 465 style). When false
	// the connection is plain SMTP; net/smtp still upgrades through
	// STARTTLS when the server offers it.
	UseTLS bool

	User string

	// Password is held in locked memory. Nil means no authentication.
	Password *secret.Buffer

	From          string
	To            []string
	SubjectPrefix string

	// MaxMessageMB bounds each message, attachment included.
	MaxMessageMB int

	// Sender overrides SMTP transmission.
	Sender Sender
}

func (d *EmailDestination) Name() string { return "email" }

func (d *EmailDestination) Validate() error {
	var errs []error
	if d.Server == "" {
		errs = append(errs, errors.New("server is required"))
	}
	if d.Port <= 0 || d.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", d.Port))
	}
	if _, err := mail.ParseAddress(d.From); err != nil {
		errs = append(errs, fmt.Errorf("from address %q: %w", d.From, err))
	}
	if len(d.To) == 0 {
		errs = append(errs, errors.New("at least one recipient is required"))
	}
	for _, recipient := range d.To {
		if _, err := mail.ParseAddress(recipient); err != nil {
			errs = append(errs, fmt.Errorf("recipient %q: %w", recipient, err))
		}
	}
	if d.MaxMessageMB <= 0 {
		errs = append(errs, fmt.Errorf("max message size must be positive, got %d MB", d.MaxMessageMB))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("email destination: %w", err)
	}
	return nil
}

func (d *EmailDestination) Bound() (int64, error) {
	return int64(d.MaxMessageMB) * 1024 * 1024, nil
}

// Subject returns the subject line for pkg.
func (d *EmailDestination) Subject(pkg *Package) string {
	var builder strings.Builder
	if d.SubjectPrefix != "" {
		builder.WriteString(d.SubjectPrefix)
		builder.WriteByte(' ')
	}
	builder.WriteString(pkg.Caption)
	fmt.Fprintf(&builder, " (package %d)", pkg.Index+1)
	if pkg.Problems {
		builder.WriteString(" [PROBLEMS]")
	}
	return builder.String()
}

// Compose builds the message for pkg.
func (d *EmailDestination) Compose(pkg *Package) (*email.Email, error) {
	message := email.NewEmail()
	message.From = d.From
	message.To = append([]string(nil), d.To...)
	message.Subject = d.Subject(pkg)

	var body strings.Builder
	body.WriteString(pkg.Description)
	body.WriteString("\n\nSessions:\n")
	for _, id := range pkg.SessionIDs {
		fmt.Fprintf(&body, "  %s\n", id)
	}
	fmt.Fprintf(&body, "\nPackage size: %s\n", humanize.Bytes(uint64(pkg.Size)))
	message.Text = []byte(body.String())

	if _, err := message.AttachFile(pkg.Path); err != nil {
		return nil, fmt.Errorf("attaching %s: %w", filepath.Base(pkg.Path), err)
	}
	return message, nil
}

func (d *EmailDestination) Deliver(ctx context.Context, pkg *Package) session.Outcome {
	message, err := d.Compose(pkg)
	if err != nil {
		return failed(d, pkg, err)
	}
	sender := d.Sender
	if sender == nil {
		sender = &smtpSender{destination: d}
	}
	if err := sender.Send(ctx, message); err != nil {
		return failed(d, pkg, err)
	}
	return session.Succeeded(
		fmt.Sprintf("mailed %q to %s", pkg.Caption, strings.Join(d.To, ", ")),
		pkg.Size,
	)
}

// smtpSender sends through the configured SMTP server.
type smtpSender struct {
	destination *EmailDestination
}

func (s *smtpSender) Send(_ context.Context, message *email.Email) error {
	d := s.destination
	address := net.JoinHostPort(d.Server, strconv.Itoa(d.Port))
	var auth smtp.Auth
	if d.User != "" && d.Password != nil {
		auth = smtp.PlainAuth("", d.User, d.Password.String(), d.Server)
	}
	if d.UseTLS {
		return message.SendWithTLS(address, auth, &tls.Config{ServerName: d.Server})
	}
	return message.Send(address, auth)
}
