package eventbus

import (
	"github.com/ThreeDotsLabs/watermill"
	log "github.com/sirupsen/logrus"
)

// loggerAdapter routes watermill logs to logrus, its info level is
// demoted to debug.
type loggerAdapter struct {
	entry *log.Entry
}

func newLoggerAdapter(logger *log.Logger) watermill.LoggerAdapter {
	return &loggerAdapter{log.NewEntry(logger).WithField("component", "eventbus")}
}

func (l *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	l.entry.WithFields(log.Fields(fields)).WithError(err).Error(msg)
}

func (l *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	l.entry.WithFields(log.Fields(fields)).Debug(msg)
}

func (l *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	l.entry.WithFields(log.Fields(fields)).Debug(msg)
}

func (l *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	l.entry.WithFields(log.Fields(fields)).Trace(msg)
}

func (l *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &loggerAdapter{l.entry.WithFields(log.Fields(fields))}
}
