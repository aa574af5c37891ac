package app

import (
	"strings"

	"github.com/campusgate/campusgate/pkg/mail"
)

// SMTPSettings converts the email section into the mail package
// representation. Host and sender are trimmed so stray whitespace in env
// values does not break address parsing.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     strings.TrimSpace(c.SMTP.Host),
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     strings.TrimSpace(c.SMTP.From),
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}
