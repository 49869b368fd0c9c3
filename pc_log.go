// pc_log.go - Structured logging setup
//
// Every subsystem logs through a logrus.FieldLogger tagged with its
// component name, so a single --log-level flag controls the whole machine.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// NewPCLogger builds the root logger for the emulator
func NewPCLogger(out io.Writer, level string, color bool) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{
		ForceColors:      color,
		DisableColors:    !color,
		DisableTimestamp: true,
	})
	return log, nil
}

// componentLog tags log with a component field. A nil logger falls back to
// the logrus standard logger.
func componentLog(log logrus.FieldLogger, component string) logrus.FieldLogger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return log.WithField("component", component)
}
