package database

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn, err := buildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

// buildPostgresDSN renders a keyword/value DSN. Connection identity comes
// first in a fixed order, followed by options sorted for determinism.
// application_name tags connections in pg_stat_activity unless overridden.
func buildPostgresDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("postgres configuration requires user and database name")
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	var b strings.Builder
	kv := func(key, value string) {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(value)
	}

	kv("host", host)
	kv("port", strconv.Itoa(port))
	kv("user", cfg.User)
	kv("dbname", cfg.Name)
	if cfg.Password != "" {
		kv("password", cfg.Password)
	}

	options := map[string]string{
		"sslmode":          "disable",
		"application_name": "campusgate",
	}
	for key, value := range cfg.Options {
		options[key] = value
	}

	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		kv(key, options[key])
	}

	return b.String(), nil
}
