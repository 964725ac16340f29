package notifier

import "veriback/internal/domain"

// Fanout delivers each event to every configured sink in order. Sinks
// swallow their own delivery failures, so a broken sink never blocks
// the others or the pipeline.
type Fanout struct {
	sinks []domain.Notifier
}

func NewFanout(sinks ...domain.Notifier) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Add(sink domain.Notifier) {
	f.sinks = append(f.sinks, sink)
}

func (f *Fanout) Emit(severity domain.Severity, message string, fields map[string]any) {
	for _, sink := range f.sinks {
		sink.Emit(severity, message, fields)
	}
}
