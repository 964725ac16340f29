package domain

import "time"

// ArtifactFormat describes the on-disk shape of a captured unit.
type ArtifactFormat string

const (
	FormatBinaryDump ArtifactFormat = "binary-dump"
	FormatPlainText  ArtifactFormat = "plain-text"
	FormatRawTree    ArtifactFormat = "raw-tree"
)

// BackupArtifact is one captured unit: a database dump, a collection
// archive, or a synced bucket tree. Its lifetime is bounded to a single
// BackupJob; cleanup removes it from every location it was staged to.
type BackupArtifact struct {
	Name       string
	Format     ArtifactFormat
	SizeBytes  int64
	LocalPath  string
	CapturedAt time.Time
}

// Empty reports whether the artifact carries no payload. An empty
// artifact is rejected by the transfer coordinator unless the degraded
// empty-artifact mode is explicitly enabled.
func (a *BackupArtifact) Empty() bool {
	return a.SizeBytes == 0
}
