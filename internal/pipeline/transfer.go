package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"veriback/internal/domain"
	"veriback/internal/errs"
)

// placeholderPayload replaces an empty artifact when the degraded
// empty-artifact mode is enabled. Legacy transfers expect something at
// the destination path, so a marker file stands in for the payload.
const placeholderPayload = "-- veriback: source produced an empty artifact --\n"

// Staging is where artifacts rest between capture and promotion.
type Staging interface {
	Upload(ctx context.Context, localPath, remoteName string) error
	Delete(ctx context.Context, remoteName string) error
	GetPath(filename string) string
}

// transferCoordinator moves an artifact into staging and refuses to
// report success until the copy is verified present and non-empty.
// Transfers are never assumed atomic: any failure means the stage
// failed and a retry starts from scratch.
type transferCoordinator struct {
	staging    Staging
	allowEmpty bool
	logger     Logger
}

func newTransferCoordinator(staging Staging, allowEmpty bool, logger Logger) *transferCoordinator {
	return &transferCoordinator{staging: staging, allowEmpty: allowEmpty, logger: logger}
}

// Stage copies the artifact into staging and re-points its location at
// the staged path. An artifact that arrives empty is a TransferError
// unless the degraded mode is explicitly on, in which case a
// placeholder is substituted and a warning logged.
func (t *transferCoordinator) Stage(ctx context.Context, artifact *domain.BackupArtifact) error {
	name := filepath.Base(artifact.LocalPath)

	if err := t.staging.Upload(ctx, artifact.LocalPath, name); err != nil {
		return errs.Wrap(errs.KindTransfer,
			fmt.Sprintf("stage artifact %s", artifact.Name), err)
	}

	stagedPath := t.staging.GetPath(name)
	size, err := sizeOf(stagedPath)
	if err != nil {
		return errs.Wrap(errs.KindTransfer,
			fmt.Sprintf("staged artifact %s missing after copy", artifact.Name), err)
	}
	artifact.LocalPath = stagedPath
	artifact.SizeBytes = size

	if artifact.Empty() {
		if !t.allowEmpty {
			return errs.New(errs.KindTransfer,
				fmt.Sprintf("artifact %s copied as empty", artifact.Name))
		}
		t.logger.Warnf("[%s] artifact is empty, substituting placeholder (degraded mode)", artifact.Name)
		if err := os.WriteFile(stagedPath, []byte(placeholderPayload), 0644); err != nil {
			return errs.Wrap(errs.KindTransfer, "write placeholder", err)
		}
		artifact.SizeBytes = int64(len(placeholderPayload))
	}
	return nil
}

// sizeOf returns the byte size of a file, or the cumulative size of a
// raw-tree artifact directory.
func sizeOf(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return total, err
}
