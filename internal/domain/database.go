package domain

import "context"

// Signature is the ordered structural signature of one unit: the
// column/field descriptors in declaration order. Two signatures must be
// byte-for-byte equal for a restored unit to be accepted; structural
// drift is never transient and is never retried.
type Signature []ColumnDescriptor

// ColumnDescriptor describes one column or document field.
type ColumnDescriptor struct {
	Name     string
	DataType string
	Nullable bool
	Default  string
}

// Equal reports whether two signatures match exactly, including order.
func (s Signature) Equal(other Signature) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s Signature) String() string {
	out := ""
	for i, c := range s {
		if i > 0 {
			out += ", "
		}
		null := "NOT NULL"
		if c.Nullable {
			null = "NULL"
		}
		out += c.Name + " " + c.DataType + " " + null
		if c.Default != "" {
			out += " DEFAULT " + c.Default
		}
	}
	return out
}

// Inspector reads the comparable shape of a dataset: its unit set
// (tables or collections), per-unit structural signatures, and per-unit
// cardinalities. The reconciliation verifier drives one Inspector per
// side and never retains anything beyond its report.
type Inspector interface {
	ListUnits(ctx context.Context) ([]string, error)
	UnitSignature(ctx context.Context, unit string) (Signature, error)
	CountRows(ctx context.Context, unit string) (int64, error)
}

// Database is an engine adapter bound to one endpoint. Capture and
// Restore shell out to the engine's native dump tooling; inspection
// goes through the driver where one exists. Close releases pooled
// driver connections; whoever opened the handle closes it.
type Database interface {
	Inspector

	Capture(ctx context.Context, outputPath string, mode CaptureMode) error
	Restore(ctx context.Context, artifactPath, namespace string) error
	DropNamespace(ctx context.Context, namespace string) error
	Exec(ctx context.Context, scriptPath string) error
	Ping(ctx context.Context) error
	IsReady(ctx context.Context) bool
	GetName() string
	GetType() string
	Close() error
}
