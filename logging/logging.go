// Package logging configures the process-wide logrus logger from the
// environment: LOG_LEVEL (debug, info, warn, error) and LOG_FORMAT (json or
// text).
package logging

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

func Setup() {
	level, err := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if os.Getenv("LOG_FORMAT") == "json" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}
	log.SetOutput(os.Stdout)
}
