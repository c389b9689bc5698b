// Package logging configures the logrus logger shared by the service.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Settings mirrors the log section of the service configuration.
type Settings struct {
	Level  string
	Format string
	Output io.Writer
}

// New builds a logger carrying the service name and pid on every entry.
func New(service string, s Settings) (*logrus.Entry, error) {
	l := logrus.New()
	if s.Output != nil {
		l.SetOutput(s.Output)
	} else {
		l.SetOutput(os.Stdout)
	}

	level := strings.TrimSpace(s.Level)
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: parse level: %w", err)
	}
	l.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(s.Format)) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("logging: unknown format %q", s.Format)
	}

	return l.WithFields(logrus.Fields{
		"service": service,
		"pid":     os.Getpid(),
	}), nil
}

// Nop returns a logger that discards everything.
func Nop() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
