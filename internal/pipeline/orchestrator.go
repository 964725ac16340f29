package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"veriback/internal/domain"
	"veriback/internal/errs"
	"veriback/internal/retry"
	"veriback/internal/verify"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Verifier reconciles a restored copy against its live source.
type Verifier interface {
	Verify(ctx context.Context, source, restored domain.Inspector, tolerancePct float64, pol retry.Policy) (*verify.Report, error)
}

// TargetFactory opens a database handle bound to a namespace on the
// verification target, so the verifier can inspect the restored copy.
type TargetFactory func(namespace string) (domain.Database, error)

// Destination is one promotion endpoint: a remote host path, a
// container surface path, or an object store.
type Destination struct {
	Name      string
	Addr      string
	SurfaceID string
	Path      string
	Store     domain.Storage
}

type Config struct {
	TolerancePct        float64
	Retry               retry.Policy
	RetentionDays       int
	RequiredFreeSpaceMB int64
	AllowEmptyArtifacts bool
	ReadinessAttempts   int
	ReadinessInterval   time.Duration
	WorkDir             string
	Mode                domain.CaptureMode
	PostSQL             string
	Compress            bool
}

// Deps collects the orchestrator's collaborators. Everything is an
// interface or value; there is no ambient global configuration.
type Deps struct {
	Source       domain.Database
	Target       domain.Database
	NewTarget    TargetFactory
	Targets      *TargetRegistry
	TargetID     string
	Staging      Staging
	Transport    domain.Transport
	Destinations []Destination
	Compressor   domain.Compressor
	Verifier     Verifier
	Notifier     domain.Notifier
	Logger       Logger
}

// Orchestrator drives one BackupJob through capture, staging,
// test-restore, reconciliation, and promotion. Stages run in strict
// sequence; any failure or interruption routes through CLEANING before
// the outcome is reported.
type Orchestrator struct {
	cfg      Config
	deps     Deps
	transfer *transferCoordinator
}

func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		transfer: newTransferCoordinator(deps.Staging, cfg.AllowEmptyArtifacts, deps.Logger),
	}
}

// Run executes the pipeline for one job. The returned outcome is
// reported only after cleanup has completed; the caller maps it to the
// process exit status.
func (o *Orchestrator) Run(ctx context.Context) domain.Outcome {
	job := &domain.BackupJob{
		ID:         uuid.NewString(),
		SourceName: o.deps.Source.GetName(),
		TargetName: o.deps.TargetID,
		Stage:      domain.StageInit,
		StartedAt:  time.Now(),
	}
	guards := newGuardStack(o.deps.Logger)
	store := newArtifactStore()

	report, err := o.run(ctx, job, guards, store)
	if err != nil && ctx.Err() != nil && errs.KindOf(err) != errs.KindInterrupted {
		// A cancelled context makes in-flight tool invocations fail
		// with their own errors; classify the run as interrupted.
		err = errs.Wrap(errs.KindInterrupted, "interrupted during "+string(job.Stage), err).WithStage(string(job.Stage))
	}
	failedAt := failingStage(err, job.Stage)

	// Cleanup is unconditional and always precedes the outcome event.
	// The transition is emitted directly: a cancelled context must not
	// suppress it.
	job.Stage = domain.StageCleaning
	o.deps.Notifier.Emit(domain.SeverityInfo, "stage transition", map[string]any{
		"job":     job.ID,
		"source":  job.SourceName,
		"stage":   string(domain.StageCleaning),
		"elapsed": time.Since(job.StartedAt).Round(time.Millisecond).String(),
	})
	guards.Release()

	job.FinishedAt = time.Now()
	elapsed := job.FinishedAt.Sub(job.StartedAt).Round(time.Millisecond)

	if err != nil {
		job.Stage = domain.StageFailed
		outcome := domain.Outcome{
			Status:   domain.OutcomeFailed,
			Stage:    failedAt,
			Reason:   err.Error(),
			Duration: elapsed,
		}
		o.emitFailure(job, failedAt, err, elapsed)
		return outcome
	}

	job.Stage = domain.StageDone
	var totalBytes int64
	for _, a := range store.All() {
		totalBytes += a.SizeBytes
	}
	o.deps.Notifier.Emit(domain.SeverityInfo, "backup completed", map[string]any{
		"job":     job.ID,
		"source":  job.SourceName,
		"stage":   string(domain.StageDone),
		"elapsed": elapsed.String(),
		"size_mb": fmt.Sprintf("%.2f", float64(totalBytes)/(1024*1024)),
		"report":  report.Summary(),
	})
	return domain.Outcome{Status: domain.OutcomeDone, Stage: domain.StageDone, Duration: elapsed}
}

func (o *Orchestrator) run(ctx context.Context, job *domain.BackupJob, guards *guardStack, store *artifactStore) (*verify.Report, error) {
	// INIT: preflight before any tool runs.
	if err := o.transition(ctx, job, domain.StageInit); err != nil {
		return nil, err
	}
	if err := o.preflight(ctx); err != nil {
		return nil, err
	}

	// CAPTURING
	if err := o.transition(ctx, job, domain.StageCapturing); err != nil {
		return nil, err
	}
	artifact, err := o.capture(ctx, guards)
	if err != nil {
		return nil, err
	}
	store.Add(artifact)

	// STAGED
	if err := o.transition(ctx, job, domain.StageStaged); err != nil {
		return nil, err
	}
	if err := o.transfer.Stage(ctx, artifact); err != nil {
		return nil, err
	}
	guards.Push("staged artifact "+artifact.Name, func() error {
		return o.deps.Staging.Delete(context.Background(), filepath.Base(artifact.LocalPath))
	})

	// RESTORING
	if err := o.transition(ctx, job, domain.StageRestoring); err != nil {
		return nil, err
	}
	namespace, err := o.restore(ctx, job, guards, artifact)
	if err != nil {
		return nil, err
	}

	// VALIDATING
	if err := o.transition(ctx, job, domain.StageValidating); err != nil {
		return nil, err
	}
	report, err := o.validate(ctx, namespace)
	if err != nil {
		return report, err
	}

	// VALIDATED
	if err := o.transition(ctx, job, domain.StageValidated); err != nil {
		return report, err
	}
	o.deps.Notifier.Emit(domain.SeverityInfo, "validation report", map[string]any{
		"job":    job.ID,
		"source": job.SourceName,
		"report": report.Summary(),
	})

	// PROMOTING
	if err := o.transition(ctx, job, domain.StagePromoting); err != nil {
		return report, err
	}
	if err := o.promote(ctx, guards, artifact, namespace); err != nil {
		return report, err
	}
	o.sweepRetention(ctx)

	return report, nil
}

func (o *Orchestrator) preflight(ctx context.Context) error {
	if err := o.deps.Source.Ping(ctx); err != nil {
		return errs.Wrap(errs.KindConnectivity, "source unreachable", err).WithStage(string(domain.StageInit))
	}
	if err := checkFreeSpace(o.cfg.WorkDir, o.cfg.RequiredFreeSpaceMB); err != nil {
		return err
	}
	for _, dst := range o.deps.Destinations {
		if dst.Addr == "" {
			continue
		}
		if !o.deps.Transport.ValidateReachable(ctx, dst.Addr) {
			return errs.New(errs.KindConnectivity,
				fmt.Sprintf("destination %s unreachable", dst.Addr)).WithStage(string(domain.StageInit))
		}
	}
	return nil
}

func (o *Orchestrator) capture(ctx context.Context, guards *guardStack) (*domain.BackupArtifact, error) {
	source := o.deps.Source
	filename := captureFilename(source.GetName(), source.GetType())
	outputPath := filepath.Join(o.cfg.WorkDir, filename)

	guards.Push("capture temp file "+filename, func() error {
		if err := os.RemoveAll(outputPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})

	o.deps.Logger.Infof("[%s] capturing to %s", source.GetName(), outputPath)
	if err := source.Capture(ctx, outputPath, o.cfg.Mode); err != nil {
		return nil, errs.Wrap(errs.KindCapture, "capture failed", err).WithStage(string(domain.StageCapturing))
	}

	size, err := sizeOf(outputPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindCapture, "stat captured artifact", err).WithStage(string(domain.StageCapturing))
	}
	o.deps.Logger.Infof("[%s] captured %.2f MB", source.GetName(), float64(size)/(1024*1024))

	return &domain.BackupArtifact{
		Name:       source.GetName(),
		Format:     formatFor(source.GetType()),
		SizeBytes:  size,
		LocalPath:  outputPath,
		CapturedAt: time.Now(),
	}, nil
}

func (o *Orchestrator) restore(ctx context.Context, job *domain.BackupJob, guards *guardStack, artifact *domain.BackupArtifact) (string, error) {
	releaseTarget, err := o.deps.Targets.Acquire(o.deps.TargetID)
	if err != nil {
		return "", errs.Wrap(errs.KindRestore, "lease verification target", err).WithStage(string(domain.StageRestoring))
	}
	guards.Push("verification target lease "+o.deps.TargetID, func() error {
		releaseTarget()
		return nil
	})

	if err := waitReady(ctx, o.deps.Target.IsReady, o.cfg.ReadinessAttempts, o.cfg.ReadinessInterval); err != nil {
		return "", err
	}

	namespace := verifyNamespace(job)
	// Drop guard registered before the restore starts, so a partial
	// restore is still swept away.
	guards.Push("verification namespace "+namespace, func() error {
		return o.deps.Target.DropNamespace(context.Background(), namespace)
	})

	o.deps.Logger.Infof("[%s] test-restoring into namespace %s", artifact.Name, namespace)
	if err := o.deps.Target.Restore(ctx, artifact.LocalPath, namespace); err != nil {
		return "", errs.Wrap(errs.KindRestore, "test restore failed", err).WithStage(string(domain.StageRestoring))
	}
	return namespace, nil
}

func (o *Orchestrator) validate(ctx context.Context, namespace string) (*verify.Report, error) {
	restored, err := o.deps.NewTarget(namespace)
	if err != nil {
		return nil, errs.Wrap(errs.KindRestore, "open restored namespace", err).WithStage(string(domain.StageValidating))
	}
	defer func() {
		if cerr := restored.Close(); cerr != nil {
			o.deps.Logger.Warnf("close restored namespace handle: %v", cerr)
		}
	}()

	report, err := o.deps.Verifier.Verify(ctx, o.deps.Source, restored, o.cfg.TolerancePct, o.cfg.Retry)
	if err != nil {
		return nil, errs.Wrap(errs.KindRestore, "verification could not run", err).WithStage(string(domain.StageValidating))
	}
	if !report.Success() {
		return report, validationError(report).WithStage(string(domain.StageValidating))
	}
	return report, nil
}

func (o *Orchestrator) promote(ctx context.Context, guards *guardStack, artifact *domain.BackupArtifact, namespace string) error {
	localPath := artifact.LocalPath
	remoteName := filepath.Base(localPath)

	if o.cfg.Compress && artifact.Format == domain.FormatPlainText {
		compressedPath := localPath + ".gz"
		guards.Push("compressed artifact "+remoteName, func() error {
			if err := os.Remove(compressedPath); err != nil && !os.IsNotExist(err) {
				return err
			}
			return nil
		})
		if err := o.deps.Compressor.Compress(localPath, compressedPath); err != nil {
			return errs.Wrap(errs.KindTransfer, "compress artifact", err).WithStage(string(domain.StagePromoting))
		}
		localPath = compressedPath
		remoteName += ".gz"
	}

	for _, dst := range o.deps.Destinations {
		o.deps.Logger.Infof("[%s] promoting to %s", artifact.Name, dst.Name)
		var err error
		switch {
		case dst.Store != nil:
			err = dst.Store.Upload(ctx, localPath, remoteName)
		case dst.SurfaceID != "":
			err = o.deps.Transport.CopyToSurface(ctx, localPath, dst.SurfaceID, filepath.Join(dst.Path, remoteName))
		default:
			err = o.deps.Transport.CopyToHost(ctx, localPath, dst.Addr, filepath.Join(dst.Path, remoteName))
		}
		if err != nil {
			return errs.Wrap(errs.KindTransfer,
				fmt.Sprintf("promote to %s", dst.Name), err).WithStage(string(domain.StagePromoting))
		}
	}

	if o.cfg.PostSQL != "" {
		restored, err := o.deps.NewTarget(namespace)
		if err != nil {
			return errs.Wrap(errs.KindRestore, "open namespace for post-sql", err).WithStage(string(domain.StagePromoting))
		}
		defer func() {
			if cerr := restored.Close(); cerr != nil {
				o.deps.Logger.Warnf("close post-sql namespace handle: %v", cerr)
			}
		}()
		o.deps.Logger.Infof("[%s] running post-migration script %s", artifact.Name, o.cfg.PostSQL)
		if err := restored.Exec(ctx, o.cfg.PostSQL); err != nil {
			return errs.Wrap(errs.KindRestore, "post-migration script failed", err).WithStage(string(domain.StagePromoting))
		}
	}
	return nil
}

// sweepRetention removes destination artifacts older than the
// retention window. Sweep failures are logged, never fatal: the new
// backup has already been promoted.
func (o *Orchestrator) sweepRetention(ctx context.Context) {
	if o.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -o.cfg.RetentionDays)

	for _, dst := range o.deps.Destinations {
		if dst.Store == nil {
			continue
		}
		old, err := dst.Store.GetOldFiles(ctx, cutoff)
		if err != nil {
			o.deps.Logger.Warnf("retention sweep on %s failed: %v", dst.Name, err)
			continue
		}
		for _, name := range old {
			if err := dst.Store.Delete(ctx, name); err != nil {
				o.deps.Logger.Warnf("failed to delete %s from %s: %v", name, dst.Name, err)
			} else {
				o.deps.Logger.Infof("retention: deleted %s from %s", name, dst.Name)
			}
		}
	}
}

// transition moves the job to the next stage, emitting one event per
// transition. A cancelled context is treated exactly like a stage
// error so interruption flows through the same cleanup path.
func (o *Orchestrator) transition(ctx context.Context, job *domain.BackupJob, stage domain.Stage) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.KindInterrupted, "interrupted before "+string(stage), err).WithStage(string(job.Stage))
	}
	job.Stage = stage
	o.deps.Notifier.Emit(domain.SeverityInfo, "stage transition", map[string]any{
		"job":     job.ID,
		"source":  job.SourceName,
		"stage":   string(stage),
		"elapsed": time.Since(job.StartedAt).Round(time.Millisecond).String(),
	})
	return nil
}

func (o *Orchestrator) emitFailure(job *domain.BackupJob, failedAt domain.Stage, err error, elapsed time.Duration) {
	message := "backup failed"
	if errs.KindOf(err) == errs.KindInterrupted {
		message = "backup interrupted"
	}
	o.deps.Notifier.Emit(domain.SeverityError, message, map[string]any{
		"job":     job.ID,
		"source":  job.SourceName,
		"stage":   string(failedAt),
		"reason":  err.Error(),
		"elapsed": elapsed.String(),
	})
}

func validationError(report *verify.Report) *errs.Error {
	if len(report.MissingUnits) > 0 || len(report.ExtraUnits) > 0 {
		return errs.New(errs.KindSchemaMismatch, report.Summary())
	}
	for _, u := range report.Units {
		if !u.Passed() {
			kind := errs.KindCardinalityTolerance
			if u.Check == verify.CheckStructure {
				kind = errs.KindSchemaMismatch
			}
			return errs.New(kind, report.Summary()).WithUnit(u.Name)
		}
	}
	return errs.New(errs.KindSchemaMismatch, report.Summary())
}

func failingStage(err error, current domain.Stage) domain.Stage {
	if err == nil {
		return current
	}
	var e *errs.Error
	if errors.As(err, &e) && e.Stage != "" {
		return domain.Stage(e.Stage)
	}
	return current
}

func captureFilename(name, engine string) string {
	timestamp := time.Now().Format("20060102_150405")
	ext := map[string]string{
		"mysql":      ".sql",
		"postgresql": ".dump",
		"mongodb":    ".archive",
		"s3":         "",
	}[engine]
	if ext == "" && engine != "s3" {
		ext = ".backup"
	}
	return fmt.Sprintf("%s_%s_%s%s", name, engine, timestamp, ext)
}

func formatFor(engine string) domain.ArtifactFormat {
	switch engine {
	case "mysql":
		return domain.FormatPlainText
	case "s3":
		return domain.FormatRawTree
	default:
		return domain.FormatBinaryDump
	}
}

func verifyNamespace(job *domain.BackupJob) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '_'
	}, job.SourceName)
	return fmt.Sprintf("verify_%s_%s", name, strings.ReplaceAll(job.ID, "-", "")[:8])
}
