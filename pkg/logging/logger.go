// Package logging builds the process logger.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Formats accepted by New.
const (
	FormatJSON  = "json"
	FormatColor = "color"
)

// New creates a logger writing to out. An unknown level falls back to info
// with a warning; an unknown format falls back to JSON.
func New(out io.Writer, level, format string) *logrus.Logger {
	if out == nil {
		out = os.Stderr
	}

	log := logrus.New()
	log.SetOutput(out)

	switch format {
	case FormatColor:
		log.SetFormatter(NewColoredJSONFormatter())
	default:
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	if parsed, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(parsed)
	} else {
		log.SetLevel(logrus.InfoLevel)
		log.WithFields(logrus.Fields{
			"attempted_level": level,
			"default_level":   "INFO",
		}).Warn("Invalid log level specified, defaulting to INFO")
	}

	return log
}
