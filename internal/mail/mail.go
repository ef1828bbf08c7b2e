// Package mail sends outbound email over SMTPS.
package mail

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/mail"
	"net/url"
	"os"

	"github.com/dajohi/goemail"

	"github.com/garnizeh/timesheets/internal/config"
)

// Mailer sends plain text email.
type Mailer interface {
	// IsEnabled reports whether messages are actually delivered.
	IsEnabled() bool

	// SendTo sends the message to every recipient as BCC.
	SendTo(subject, body string, recipients []string) error
}

// client implements Mailer on top of goemail.
type client struct {
	smtp        *goemail.SMTP
	mailName    string
	mailAddress string
	disabled    bool
}

var _ Mailer = (*client)(nil)

// New returns a Mailer for cfg. Email is disabled when the host, user or
// password is missing; a disabled mailer accepts and drops every message.
func New(cfg config.SMTPConfig) (Mailer, error) {
	if cfg.Host == "" || cfg.User == "" || cfg.Password == "" {
		return &client{disabled: true}, nil
	}

	u := &url.URL{
		Scheme: "smtps",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   cfg.Host,
	}

	a, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("parse from address: %w", err)
	}

	tlsConfig := &tls.Config{}
	switch {
	case cfg.CertPath != "":
		pem, err := os.ReadFile(cfg.CertPath)
		if err != nil {
			return nil, fmt.Errorf("read smtp cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CertPath)
		}
		tlsConfig.RootCAs = pool
	case cfg.SkipVerify:
		tlsConfig.InsecureSkipVerify = true
	}

	smtp, err := goemail.NewSMTP(u.String(), tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}

	return &client{
		smtp:        smtp,
		mailName:    a.Name,
		mailAddress: a.Address,
	}, nil
}

func (c *client) IsEnabled() bool {
	return !c.disabled
}

func (c *client) SendTo(subject, body string, recipients []string) error {
	if c.disabled || len(recipients) == 0 {
		return nil
	}

	msg := goemail.NewMessage(c.mailAddress, subject, body)
	msg.SetName(c.mailName)
	for _, v := range recipients {
		msg.AddBCC(v)
	}

	return c.smtp.Send(msg)
}
