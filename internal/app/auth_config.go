package app

import (
	"github.com/campusgate/campusgate/internal/auth"
)

// SessionServiceConfig converts AuthConfig into SessionService parameters.
// Zero values fall back to the session service defaults.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	return auth.SessionConfig{
		SessionTTL:    c.Session.TTL,
		RememberMeTTL: c.Session.RememberMeTTL,
		TokenLength:   c.Session.TokenLength,
	}
}
