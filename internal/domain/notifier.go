package domain

// Severity classifies a notification event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier receives structured status events. Implementations must
// never block the pipeline; delivery failures are swallowed after
// being logged.
type Notifier interface {
	Emit(severity Severity, message string, fields map[string]any)
}
