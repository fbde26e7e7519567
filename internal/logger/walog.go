package logger

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// WhatsmeowLogger routes whatsmeow's internal logs into zap.
type WhatsmeowLogger struct {
	log *zap.Logger
}

var _ waLog.Logger = (*WhatsmeowLogger)(nil)

func NewWhatsmeowLogger(base *zap.Logger, module string) *WhatsmeowLogger {
	return &WhatsmeowLogger{log: base.WithOptions(zap.AddCallerSkip(1)).Named(module)}
}

func (l *WhatsmeowLogger) Warnf(msg string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(msg, args...))
}

func (l *WhatsmeowLogger) Errorf(msg string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(msg, args...))
}

func (l *WhatsmeowLogger) Infof(msg string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(msg, args...))
}

func (l *WhatsmeowLogger) Debugf(msg string, args ...interface{}) {
	if !l.log.Core().Enabled(zap.DebugLevel) {
		return
	}
	l.log.Debug(fmt.Sprintf(msg, args...))
}

func (l *WhatsmeowLogger) Sub(module string) waLog.Logger {
	return &WhatsmeowLogger{log: l.log.Named(module)}
}
