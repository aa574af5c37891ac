package app

import (
	"strings"

	"github.com/campusgate/campusgate/internal/database"
)

// StoreConfig converts DatabaseConfig into the database package representation,
// selecting the host parameters that match the configured driver.
func (c DatabaseConfig) StoreConfig() database.Config {
	out := database.Config{
		Driver: strings.TrimSpace(c.Driver),
		Path:   strings.TrimSpace(c.Path),
		DSN:    strings.TrimSpace(c.DSN),
	}

	var host DBAuthConfig
	switch strings.ToLower(out.Driver) {
	case "postgres", "postgresql":
		host = c.Postgres
	case "mysql", "mariadb":
		host = c.MySQL
	}

	out.Host = host.Host
	out.Port = host.Port
	out.User = host.Username
	out.Password = host.Password
	out.Name = host.Database

	return out
}
