// Package logging builds the service logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/justestif/go-spotify-now-playing/internal/config"
)

// New creates a [log.Logger] writing to w (os.Stderr when nil) with the level
// and formatter from cfg. Unknown levels fall back to info.
func New(w io.Writer, cfg config.LoggingConfig) *log.Logger {
	if w == nil {
		w = os.Stderr
	}

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}

	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           level,
		Formatter:       parseFormatter(cfg.Format),
		Prefix:          "nowplaying",
	})
}

func parseFormatter(format string) log.Formatter {
	switch strings.ToLower(format) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
