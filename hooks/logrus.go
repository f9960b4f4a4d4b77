package hooks

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts a logrus.Logger to core.Logger.  Fields are
// alternating key/value pairs, as with slog.
type LogrusLogger struct {
	log *logrus.Logger
}

func NewLogrusLogger(l *logrus.Logger) *LogrusLogger { return &LogrusLogger{log: l} }

func (l *LogrusLogger) Debug(msg string, fields ...interface{}) {
	l.log.WithFields(toFields(fields)).Debug(msg)
}
func (l *LogrusLogger) Info(msg string, fields ...interface{}) {
	l.log.WithFields(toFields(fields)).Info(msg)
}
func (l *LogrusLogger) Warn(msg string, fields ...interface{}) {
	l.log.WithFields(toFields(fields)).Warn(msg)
}
func (l *LogrusLogger) Error(msg string, fields ...interface{}) {
	l.log.WithFields(toFields(fields)).Error(msg)
}

func toFields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if i+1 < len(kv) {
			f[key] = kv[i+1]
		} else {
			f["!BADKEY"] = key
		}
	}
	return f
}
