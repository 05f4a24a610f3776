package logger

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// cronLogger routes robfig/cron diagnostics through Logger.
type cronLogger struct {
	log *Logger
}

// CronLogger adapts l to the cron.Logger interface.
func CronLogger(l *Logger) cron.Logger {
	return cronLogger{log: l.Component("cron")}
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, pairs(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(msg, err, pairs(keysAndValues)...)
}

func pairs(kv []interface{}) []Field {
	fields := make([]Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, Field{Key: fmt.Sprint(kv[i]), Value: kv[i+1]})
	}
	return fields
}
