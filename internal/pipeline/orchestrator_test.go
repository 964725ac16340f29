package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"veriback/internal/domain"
	"veriback/internal/retry"
	"veriback/internal/verify"
)

type fakeDB struct {
	name       string
	engine     string
	pingErr    error
	captureErr error
	restoreFn  func(ctx context.Context, namespace string) error
	ready      bool

	mu        sync.Mutex
	captured  []string
	restored  []string
	dropped   []string
	execedSQL []string
	closed    int
}

func newFakeDB(name, engine string) *fakeDB {
	return &fakeDB{name: name, engine: engine, ready: true}
}

func (f *fakeDB) ListUnits(ctx context.Context) ([]string, error) { return []string{"users"}, nil }
func (f *fakeDB) UnitSignature(ctx context.Context, unit string) (domain.Signature, error) {
	return nil, nil
}
func (f *fakeDB) CountRows(ctx context.Context, unit string) (int64, error) { return 0, nil }

func (f *fakeDB) Capture(ctx context.Context, outputPath string, mode domain.CaptureMode) error {
	if f.captureErr != nil {
		return f.captureErr
	}
	f.mu.Lock()
	f.captured = append(f.captured, outputPath)
	f.mu.Unlock()
	return os.WriteFile(outputPath, []byte("-- dump payload --\n"), 0644)
}

func (f *fakeDB) Restore(ctx context.Context, artifactPath, namespace string) error {
	if f.restoreFn != nil {
		return f.restoreFn(ctx, namespace)
	}
	f.mu.Lock()
	f.restored = append(f.restored, namespace)
	f.mu.Unlock()
	return nil
}

func (f *fakeDB) DropNamespace(ctx context.Context, namespace string) error {
	f.mu.Lock()
	f.dropped = append(f.dropped, namespace)
	f.mu.Unlock()
	return nil
}

func (f *fakeDB) Exec(ctx context.Context, scriptPath string) error {
	f.mu.Lock()
	f.execedSQL = append(f.execedSQL, scriptPath)
	f.mu.Unlock()
	return nil
}

func (f *fakeDB) Ping(ctx context.Context) error   { return f.pingErr }
func (f *fakeDB) IsReady(ctx context.Context) bool { return f.ready }
func (f *fakeDB) GetName() string                  { return f.name }
func (f *fakeDB) GetType() string                  { return f.engine }

func (f *fakeDB) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

type fakeStaging struct {
	dir string

	mu      sync.Mutex
	deleted []string
}

func (s *fakeStaging) Upload(ctx context.Context, localPath, remoteName string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, remoteName), data, 0644)
}

func (s *fakeStaging) Delete(ctx context.Context, remoteName string) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, remoteName)
	s.mu.Unlock()
	return os.RemoveAll(filepath.Join(s.dir, remoteName))
}

func (s *fakeStaging) GetPath(filename string) string {
	return filepath.Join(s.dir, filename)
}

type fakeTransport struct {
	mu            sync.Mutex
	hostCopies    []string
	surfaceCopies []string
}

func (t *fakeTransport) CopyToHost(ctx context.Context, localPath, remoteAddr, remotePath string) error {
	t.mu.Lock()
	t.hostCopies = append(t.hostCopies, remoteAddr+":"+remotePath)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) CopyFromSurface(ctx context.Context, surfaceID, srcPath, localPath string) error {
	return nil
}

func (t *fakeTransport) CopyToSurface(ctx context.Context, localPath, surfaceID, dstPath string) error {
	t.mu.Lock()
	t.surfaceCopies = append(t.surfaceCopies, surfaceID+":"+dstPath)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) ValidateReachable(ctx context.Context, remoteAddr string) bool { return true }

type fakeStore struct {
	mu       sync.Mutex
	uploads  []string
	oldFiles []string
	deleted  []string
}

func (s *fakeStore) Upload(ctx context.Context, localPath, remoteName string) error {
	s.mu.Lock()
	s.uploads = append(s.uploads, remoteName)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) List(ctx context.Context) ([]string, error) { return s.uploads, nil }

func (s *fakeStore) Delete(ctx context.Context, filename string) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, filename)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) GetOldFiles(ctx context.Context, olderThan time.Time) ([]string, error) {
	return s.oldFiles, nil
}

type emitted struct {
	severity domain.Severity
	message  string
	fields   map[string]any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []emitted
}

func (n *fakeNotifier) Emit(severity domain.Severity, message string, fields map[string]any) {
	n.mu.Lock()
	n.events = append(n.events, emitted{severity, message, fields})
	n.mu.Unlock()
}

func (n *fakeNotifier) stages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		if e.message == "stage transition" {
			out = append(out, e.fields["stage"].(string))
		}
	}
	return out
}

func (n *fakeNotifier) find(message string) (emitted, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.message == message {
			return e, true
		}
	}
	return emitted{}, false
}

type fakeVerifier struct {
	report *verify.Report
	err    error

	mu    sync.Mutex
	calls int
}

func (v *fakeVerifier) Verify(ctx context.Context, source, restored domain.Inspector, tolerancePct float64, pol retry.Policy) (*verify.Report, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	return v.report, v.err
}

func passingReport() *verify.Report {
	return &verify.Report{Units: []verify.UnitResult{
		{Name: "users", Check: verify.CheckCardinality, Status: verify.StatusExact},
	}}
}

func failingReport() *verify.Report {
	return &verify.Report{Units: []verify.UnitResult{
		{Name: "orders", Check: verify.CheckCardinality, Status: verify.StatusFailed,
			SourceCount: 1000, RestoredCount: 1020, DiffPct: 2},
	}}
}

type testHarness struct {
	source    *fakeDB
	target    *fakeDB
	staging   *fakeStaging
	transport *fakeTransport
	store     *fakeStore
	notifier  *fakeNotifier
	verifier  *fakeVerifier
	targets   *TargetRegistry
	cfg       Config
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	return &testHarness{
		source:    newFakeDB("appdb", "postgresql"),
		target:    newFakeDB("appdb-verify", "postgresql"),
		staging:   &fakeStaging{dir: t.TempDir()},
		transport: &fakeTransport{},
		store:     &fakeStore{},
		notifier:  &fakeNotifier{},
		verifier:  &fakeVerifier{report: passingReport()},
		targets:   NewTargetRegistry(),
		cfg: Config{
			TolerancePct:      1.0,
			Retry:             retry.Policy{Retries: 0},
			ReadinessAttempts: 1,
			ReadinessInterval: time.Millisecond,
			WorkDir:           t.TempDir(),
			Mode:              domain.CaptureFull,
		},
	}
}

func (h *testHarness) orchestrator(destinations ...Destination) *Orchestrator {
	if len(destinations) == 0 {
		destinations = []Destination{{Name: "s3://backups", Store: h.store}}
	}
	return NewOrchestrator(h.cfg, Deps{
		Source:       h.source,
		Target:       h.target,
		NewTarget:    func(namespace string) (domain.Database, error) { return h.target, nil },
		Targets:      h.targets,
		TargetID:     "verify-host:5432",
		Staging:      h.staging,
		Transport:    h.transport,
		Destinations: destinations,
		Verifier:     h.verifier,
		Notifier:     h.notifier,
		Logger:       zap.NewNop().Sugar(),
	})
}

func TestOrchestratorHappyPath(t *testing.T) {
	h := newHarness(t)
	outcome := h.orchestrator().Run(context.Background())

	require.True(t, outcome.Success(), "reason: %s", outcome.Reason)
	assert.Equal(t, domain.StageDone, outcome.Stage)

	assert.Equal(t, []string{
		"INIT", "CAPTURING", "STAGED", "RESTORING",
		"VALIDATING", "VALIDATED", "PROMOTING", "CLEANING",
	}, h.notifier.stages())

	_, ok := h.notifier.find("validation report")
	assert.True(t, ok)
	done, ok := h.notifier.find("backup completed")
	require.True(t, ok)
	assert.Equal(t, domain.SeverityInfo, done.severity)

	// The artifact reached the destination and cleanup swept everything.
	require.Len(t, h.store.uploads, 1)
	require.Len(t, h.target.restored, 1)
	assert.Equal(t, h.target.restored, h.target.dropped)
	assert.Len(t, h.staging.deleted, 1)

	// The namespace handle opened for validation is closed; the source
	// and target handles belong to the caller.
	assert.Equal(t, 1, h.target.closed)
	assert.Equal(t, 0, h.source.closed)

	entries, err := os.ReadDir(h.cfg.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "capture temp files must be removed")
}

func TestOrchestratorValidationFailureRoutesThroughCleanup(t *testing.T) {
	h := newHarness(t)
	h.verifier.report = failingReport()

	outcome := h.orchestrator().Run(context.Background())

	assert.False(t, outcome.Success())
	assert.Equal(t, domain.StageValidating, outcome.Stage)
	assert.Contains(t, outcome.Reason, "cardinality_tolerance")

	// No promotion happened, but the namespace was still dropped.
	assert.Empty(t, h.store.uploads)
	require.Len(t, h.target.restored, 1)
	assert.Equal(t, h.target.restored, h.target.dropped)

	failed, ok := h.notifier.find("backup failed")
	require.True(t, ok)
	assert.Equal(t, domain.SeverityError, failed.severity)
	assert.Equal(t, "VALIDATING", failed.fields["stage"])
}

func TestOrchestratorInterruptedDuringRestore(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	// Operator interrupt lands mid-restore.
	h.target.restoreFn = func(restoreCtx context.Context, namespace string) error {
		h.target.mu.Lock()
		h.target.restored = append(h.target.restored, namespace)
		h.target.mu.Unlock()
		cancel()
		return restoreCtx.Err()
	}

	outcome := h.orchestrator().Run(ctx)

	assert.False(t, outcome.Success())
	assert.Equal(t, domain.StageRestoring, outcome.Stage)

	// Interruption never skips cleanup: the partial restore is swept and
	// the target lease is free for the next job.
	require.Len(t, h.target.dropped, 1)
	release, err := h.targets.Acquire("verify-host:5432")
	require.NoError(t, err)
	release()

	_, ok := h.notifier.find("backup interrupted")
	assert.True(t, ok)
	assert.NotContains(t, h.notifier.stages(), "VALIDATING")
	assert.Contains(t, h.notifier.stages(), "CLEANING")
}

func TestOrchestratorSourceUnreachable(t *testing.T) {
	h := newHarness(t)
	h.source.pingErr = errors.New("connection refused")

	outcome := h.orchestrator().Run(context.Background())

	assert.False(t, outcome.Success())
	assert.Equal(t, domain.StageInit, outcome.Stage)
	assert.Contains(t, outcome.Reason, "source unreachable")
	assert.Empty(t, h.target.restored)
}

func TestOrchestratorTargetNotReady(t *testing.T) {
	h := newHarness(t)
	h.target.ready = false
	h.cfg.ReadinessAttempts = 2

	outcome := h.orchestrator().Run(context.Background())

	assert.False(t, outcome.Success())
	assert.Contains(t, outcome.Reason, "not ready after 2 attempts")
	assert.Empty(t, h.target.restored)
}

func TestOrchestratorTargetLeaseConflict(t *testing.T) {
	h := newHarness(t)
	release, err := h.targets.Acquire("verify-host:5432")
	require.NoError(t, err)
	defer release()

	outcome := h.orchestrator().Run(context.Background())

	assert.False(t, outcome.Success())
	assert.Equal(t, domain.StageRestoring, outcome.Stage)
	assert.Contains(t, outcome.Reason, "already in use")
}

func TestOrchestratorPostSQLRunsAgainstRestoredCopy(t *testing.T) {
	h := newHarness(t)
	h.cfg.PostSQL = "/etc/veriback/post.sql"

	outcome := h.orchestrator().Run(context.Background())

	require.True(t, outcome.Success(), "reason: %s", outcome.Reason)
	assert.Equal(t, []string{"/etc/veriback/post.sql"}, h.target.execedSQL)

	// One handle for validation, one for the post-sql run, both closed.
	assert.Equal(t, 2, h.target.closed)
}

func TestOrchestratorPromotesToHostAndSurface(t *testing.T) {
	h := newHarness(t)
	outcome := h.orchestrator(
		Destination{Name: "backup01", Addr: "backup01.internal", Path: "/var/backups"},
		Destination{Name: "surface://archive", SurfaceID: "archive", Path: "/backups"},
	).Run(context.Background())

	require.True(t, outcome.Success(), "reason: %s", outcome.Reason)
	require.Len(t, h.transport.hostCopies, 1)
	assert.Contains(t, h.transport.hostCopies[0], "backup01.internal:/var/backups/")
	require.Len(t, h.transport.surfaceCopies, 1)
	assert.Contains(t, h.transport.surfaceCopies[0], "archive:/backups/")
}

func TestOrchestratorRetentionSweep(t *testing.T) {
	h := newHarness(t)
	h.cfg.RetentionDays = 7
	h.store.oldFiles = []string{"appdb_postgresql_20200101_000000.dump"}

	outcome := h.orchestrator().Run(context.Background())

	require.True(t, outcome.Success(), "reason: %s", outcome.Reason)
	assert.Equal(t, []string{"appdb_postgresql_20200101_000000.dump"}, h.store.deleted)
}

func TestVerifyNamespaceSanitized(t *testing.T) {
	job := &domain.BackupJob{ID: "a1b2c3d4-e5f6-7890-abcd-ef1234567890", SourceName: "My App-DB"}
	ns := verifyNamespace(job)
	assert.Equal(t, "verify_my_app_db_a1b2c3d4", ns)
}
