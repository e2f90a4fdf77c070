package tick

import (
	"fmt"

	logx "checktime/pkg/logx"
)

// cronLogger adapts logx to cron.Logger and counts skipped overruns.
type cronLogger struct {
	log    logx.Logger
	onSkip func()
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		if l.onSkip != nil {
			l.onSkip()
		}
		return
	}
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append([]logx.Field{logx.Err(err)}, kvFields(keysAndValues)...)
	l.log.Error("cron: "+msg, fields...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
