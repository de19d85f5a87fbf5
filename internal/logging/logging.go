// Package logging builds the logrus loggers used by the binaries.
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

type Format int

const (
	JSON Format = iota
	Text
)

// New returns a logger writing to out at level. An unknown level falls back
// to info and is reported once on the returned logger.
func New(level string, format Format, out io.Writer) *log.Logger {
	if out == nil {
		out = os.Stderr
	}
	logger := log.New()
	logger.SetOutput(out)
	switch format {
	case Text:
		logger.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	default:
		logger.SetFormatter(&log.JSONFormatter{})
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		logger.SetLevel(log.InfoLevel)
		logger.WithField("level", level).Warn("unknown log level, using info")
		return logger
	}
	logger.SetLevel(parsed)
	return logger
}
