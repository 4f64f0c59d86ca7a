// Package logging carries the orchestrator-wide Logger seam: packages
// depend on the Logger interface, never on a concrete backend.
package logging

import "github.com/sirupsen/logrus"

// Logger is the interface every coordinator/session/pipeline component
// depends on. It is kept deliberately narrow so a NoOpLogger is trivial for
// tests.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything; used as the zero-value default in tests.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// logrusLogger adapts *logrus.Entry to Logger, giving every call site
// structured fields (e.g. device_id) for free via WithField/WithFields.
type logrusLogger struct {
	entry *logrus.Entry
}

// New builds the default production Logger: JSON-formatted logrus, level
// driven by the given string ("debug", "info", "warn", "error").
func New(level string) Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	if parsed, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(parsed)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// WithField returns a Logger that stamps every subsequent call with an
// extra structured field, e.g. WithField("device_id", id) per session.
func WithField(l Logger, key string, value interface{}) Logger {
	ll, ok := l.(*logrusLogger)
	if !ok {
		return l
	}
	return &logrusLogger{entry: ll.entry.WithField(key, value)}
}

func (l *logrusLogger) Debug(msg string, args ...interface{}) { l.entry.Debugf(msg, args...) }
func (l *logrusLogger) Info(msg string, args ...interface{})  { l.entry.Infof(msg, args...) }
func (l *logrusLogger) Warn(msg string, args ...interface{})  { l.entry.Warnf(msg, args...) }
func (l *logrusLogger) Error(msg string, args ...interface{}) { l.entry.Errorf(msg, args...) }
