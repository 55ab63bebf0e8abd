// Package logger owns the process-wide logrus instance.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the shared logger. It is usable before Init with logrus defaults.
var Log = logrus.New()

// Init configures Log from a level name and a format ("json" or "text").
// An unknown level falls back to info.
func Init(level, format string) {
	Log.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		Log.SetFormatter(&logrus.JSONFormatter{})
	}
}
