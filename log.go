package dbusclient

import "github.com/sirupsen/logrus"

// Logger is the minimal structured-logging surface this package needs.
// *logrus.Logger and *logrus.Entry do not satisfy it directly, since
// their WithField returns *logrus.Entry; wrap one with NewLogger.
type Logger interface {
	WithField(key string, value interface{}) Logger
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// logrusLogger adapts *logrus.Entry to Logger.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogger wraps l (or a default logrus.Logger when l is nil) as a
// Logger.
func NewLogger(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return logrusLogger{entry: logrus.NewEntry(l)}
}

func (l logrusLogger) WithField(key string, value interface{}) Logger {
	return logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// nopLogger discards everything; used as the zero-value default so
// Config never needs a nil check at call sites.
type nopLogger struct{}

func (nopLogger) WithField(string, interface{}) Logger          { return nopLogger{} }
func (nopLogger) Debugf(string, ...interface{})                 {}
func (nopLogger) Infof(string, ...interface{})                  {}
func (nopLogger) Warnf(string, ...interface{})                  {}
func (nopLogger) Errorf(string, ...interface{})                 {}
