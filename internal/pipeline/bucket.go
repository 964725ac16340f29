package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"veriback/internal/domain"
	"veriback/internal/errs"
)

// BucketStore is the object-store surface a bucket job captures from.
type BucketStore interface {
	SyncToDir(ctx context.Context, localDir string) (int64, error)
	CountObjects(ctx context.Context) (int64, error)
}

// BucketDeps collects the collaborators for a bucket job. Buckets have
// no restore step: the synced tree is itself the restored copy, and
// reconciliation compares the live object count against the tree.
type BucketDeps struct {
	Name         string
	Store        BucketStore
	Staging      Staging
	Transport    domain.Transport
	Destinations []Destination
	Verifier     Verifier
	Notifier     domain.Notifier
	Logger       Logger
}

type BucketOrchestrator struct {
	cfg  Config
	deps BucketDeps
}

func NewBucketOrchestrator(cfg Config, deps BucketDeps) *BucketOrchestrator {
	return &BucketOrchestrator{cfg: cfg, deps: deps}
}

func (b *BucketOrchestrator) Run(ctx context.Context) domain.Outcome {
	job := &domain.BackupJob{
		ID:         uuid.NewString(),
		SourceName: b.deps.Name,
		Stage:      domain.StageInit,
		StartedAt:  time.Now(),
	}
	guards := newGuardStack(b.deps.Logger)

	err := b.run(ctx, job, guards)
	if err != nil && ctx.Err() != nil && errs.KindOf(err) != errs.KindInterrupted {
		err = errs.Wrap(errs.KindInterrupted, "interrupted during "+string(job.Stage), err).WithStage(string(job.Stage))
	}
	failedAt := failingStage(err, job.Stage)

	job.Stage = domain.StageCleaning
	b.deps.Notifier.Emit(domain.SeverityInfo, "stage transition", map[string]any{
		"job": job.ID, "source": job.SourceName, "stage": string(domain.StageCleaning),
		"elapsed": time.Since(job.StartedAt).Round(time.Millisecond).String(),
	})
	guards.Release()

	elapsed := time.Since(job.StartedAt).Round(time.Millisecond)
	if err != nil {
		b.deps.Notifier.Emit(domain.SeverityError, "bucket backup failed", map[string]any{
			"job": job.ID, "source": job.SourceName,
			"stage": string(failedAt), "reason": err.Error(),
			"elapsed": elapsed.String(),
		})
		return domain.Outcome{Status: domain.OutcomeFailed, Stage: failedAt, Reason: err.Error(), Duration: elapsed}
	}

	b.deps.Notifier.Emit(domain.SeverityInfo, "bucket backup completed", map[string]any{
		"job": job.ID, "source": job.SourceName,
		"stage": string(domain.StageDone), "elapsed": elapsed.String(),
	})
	return domain.Outcome{Status: domain.OutcomeDone, Stage: domain.StageDone, Duration: elapsed}
}

func (b *BucketOrchestrator) run(ctx context.Context, job *domain.BackupJob, guards *guardStack) error {
	transition := func(stage domain.Stage) error {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.KindInterrupted, "interrupted before "+string(stage), err).WithStage(string(job.Stage))
		}
		job.Stage = stage
		b.deps.Notifier.Emit(domain.SeverityInfo, "stage transition", map[string]any{
			"job": job.ID, "source": job.SourceName, "stage": string(stage),
			"elapsed": time.Since(job.StartedAt).Round(time.Millisecond).String(),
		})
		return nil
	}

	if err := transition(domain.StageInit); err != nil {
		return err
	}
	if err := checkFreeSpace(b.cfg.WorkDir, b.cfg.RequiredFreeSpaceMB); err != nil {
		return err
	}

	if err := transition(domain.StageCapturing); err != nil {
		return err
	}
	treeName := captureFilename(b.deps.Name, "s3")
	treeDir := filepath.Join(b.cfg.WorkDir, treeName)
	guards.Push("bucket tree "+treeName, func() error {
		return os.RemoveAll(treeDir)
	})

	synced, err := b.deps.Store.SyncToDir(ctx, treeDir)
	if err != nil {
		return errs.Wrap(errs.KindCapture, "bucket sync failed", err).WithStage(string(domain.StageCapturing))
	}
	b.deps.Logger.Infof("[%s] synced %d object(s)", b.deps.Name, synced)
	if synced == 0 && !b.cfg.AllowEmptyArtifacts {
		return errs.New(errs.KindTransfer, "bucket sync produced no objects").WithStage(string(domain.StageCapturing))
	}

	if err := transition(domain.StageValidating); err != nil {
		return err
	}
	report, err := b.deps.Verifier.Verify(ctx,
		&bucketInspector{name: b.deps.Name, store: b.deps.Store},
		&treeInspector{name: b.deps.Name, dir: treeDir},
		b.cfg.TolerancePct, b.cfg.Retry)
	if err != nil {
		return errs.Wrap(errs.KindRestore, "bucket verification could not run", err).WithStage(string(domain.StageValidating))
	}
	if !report.Success() {
		return validationError(report).WithStage(string(domain.StageValidating))
	}

	if err := transition(domain.StageValidated); err != nil {
		return err
	}
	b.deps.Notifier.Emit(domain.SeverityInfo, "validation report", map[string]any{
		"job": job.ID, "source": job.SourceName, "report": report.Summary(),
	})

	if err := transition(domain.StagePromoting); err != nil {
		return err
	}
	return b.promote(ctx, treeDir, treeName)
}

func (b *BucketOrchestrator) promote(ctx context.Context, treeDir, treeName string) error {
	for _, dst := range b.deps.Destinations {
		b.deps.Logger.Infof("[%s] promoting tree to %s", b.deps.Name, dst.Name)
		var err error
		switch {
		case dst.Store != nil:
			err = uploadTree(ctx, dst.Store, treeDir, treeName)
		case dst.SurfaceID != "":
			err = b.deps.Transport.CopyToSurface(ctx, treeDir, dst.SurfaceID, filepath.Join(dst.Path, treeName))
		default:
			err = b.deps.Transport.CopyToHost(ctx, treeDir, dst.Addr, filepath.Join(dst.Path, treeName))
		}
		if err != nil {
			return errs.Wrap(errs.KindTransfer,
				fmt.Sprintf("promote tree to %s", dst.Name), err).WithStage(string(domain.StagePromoting))
		}
	}
	return nil
}

func uploadTree(ctx context.Context, store domain.Storage, treeDir, treeName string) error {
	return filepath.Walk(treeDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(treeDir, path)
		if err != nil {
			return err
		}
		return store.Upload(ctx, path, filepath.Join(treeName, rel))
	})
}

// bucketInspector presents the live bucket as a single reconciliation
// unit whose cardinality is its object count.
type bucketInspector struct {
	name  string
	store BucketStore
}

func (b *bucketInspector) ListUnits(ctx context.Context) ([]string, error) {
	return []string{b.name}, nil
}

func (b *bucketInspector) UnitSignature(ctx context.Context, unit string) (domain.Signature, error) {
	return nil, nil
}

func (b *bucketInspector) CountRows(ctx context.Context, unit string) (int64, error) {
	return b.store.CountObjects(ctx)
}

// treeInspector presents a synced bucket tree the same way, counting
// the files on disk.
type treeInspector struct {
	name string
	dir  string
}

func (t *treeInspector) ListUnits(ctx context.Context) ([]string, error) {
	return []string{t.name}, nil
}

func (t *treeInspector) UnitSignature(ctx context.Context, unit string) (domain.Signature, error) {
	return nil, nil
}

func (t *treeInspector) CountRows(ctx context.Context, unit string) (int64, error) {
	var count int64
	err := filepath.Walk(t.dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			count++
		}
		return nil
	})
	return count, err
}
