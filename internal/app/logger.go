package app

import (
	"strings"

	"github.com/campusgate/campusgate/pkg/logger"
)

// ConfigureLogging initialises the global logger from the configured level.
// Blank and unknown values resolve to info.
func ConfigureLogging(level string) error {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}
	return logger.Init(level)
}
