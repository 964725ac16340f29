package notifier

import (
	"fmt"
	"strings"

	"veriback/internal/domain"
)

// LogSink writes pipeline events to the application log. It is always
// wired in, so no event is lost even when no external sink is
// configured.
type LogSink struct {
	logger SinkLogger
}

type SinkLogger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

func NewLogSink(logger SinkLogger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) Emit(severity domain.Severity, message string, fields map[string]any) {
	var b strings.Builder
	b.WriteString(message)
	for _, k := range sortedKeys(fields) {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}

	switch severity {
	case domain.SeverityError:
		l.logger.Errorf("%s", b.String())
	case domain.SeverityWarning:
		l.logger.Warnf("%s", b.String())
	default:
		l.logger.Infof("%s", b.String())
	}
}
