package app

import (
	"strings"
	"time"

	"github.com/campusgate/campusgate/internal/cache"
)

// RedisClientConfig converts the cache section into the cache package
// representation, filling in sane connection defaults.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	address := strings.TrimSpace(c.Redis.Address)
	if address == "" {
		address = "127.0.0.1:6379"
	}

	timeout := c.Redis.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return cache.RedisConfig{
		Address:  address,
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  timeout,
	}
}
