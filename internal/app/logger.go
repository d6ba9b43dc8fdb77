package app

import (
	"strings"

	"github.com/rahulnair23/foyer/pkg/logger"
)

// ConfigureLogging wires the configured level into the process-wide logger.
// A blank level means info; bad values degrade to info inside logger.Init.
func ConfigureLogging(level string) error {
	if level = strings.TrimSpace(level); level == "" {
		level = "info"
	}
	return logger.Init(level)
}
