package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"veriback/internal/adapter/compressor"
	"veriback/internal/adapter/database"
	"veriback/internal/adapter/notifier"
	"veriback/internal/adapter/storage"
	"veriback/internal/adapter/transport"
	"veriback/internal/config"
	"veriback/internal/domain"
	"veriback/internal/infrastructure/logger"
	"veriback/internal/infrastructure/scheduler"
	"veriback/internal/pipeline"
	"veriback/internal/retry"
	"veriback/internal/verify"
)

// RunOptions carries the per-invocation CLI selections.
type RunOptions struct {
	Mode    domain.CaptureMode
	PostSQL string
	Bucket  string
}

type App struct {
	cfg          *config.Config
	logger       *logger.Logger
	notifier     *notifier.Fanout
	staging      *storage.LocalStorage
	transport    domain.Transport
	destinations []pipeline.Destination
	targets      *pipeline.TargetRegistry
	verifier     *verify.Verifier
	compressor   domain.Compressor
	workDir      string
}

func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Infof("Starting %s", cfg.App.Name)
	log.Infof("Found %d source(s) configured", len(cfg.GetEnabledSources()))

	workDir := cfg.App.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	staging, err := storage.NewLocal(filepath.Join(workDir, "staging"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize staging storage: %w", err)
	}

	trans, err := transport.New(cfg.Pipeline.TransferMethod)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize transport: %w", err)
	}

	sink := notifier.NewFanout(notifier.NewLogSink(log))
	for _, nCfg := range cfg.GetEnabledNotifications() {
		switch nCfg.Type {
		case "telegram":
			tg, err := notifier.NewTelegram(nCfg.BotToken, nCfg.ChatID, log)
			if err != nil {
				log.Errorf("Failed to initialize Telegram notifier: %v", err)
				continue
			}
			sink.Add(tg)
			log.Infof("✓ Telegram notifications enabled")
		case "log":
			// Always wired in above.
		default:
			log.Warnf("Unknown notification type: %s", nCfg.Type)
		}
	}

	destinations, err := initializeDestinations(cfg, log)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:          cfg,
		logger:       log,
		notifier:     sink,
		staging:      staging,
		transport:    trans,
		destinations: destinations,
		targets:      pipeline.NewTargetRegistry(),
		verifier:     verify.New(log),
		compressor:   compressor.NewGzip(),
		workDir:      workDir,
	}, nil
}

func initializeDestinations(cfg *config.Config, log *logger.Logger) ([]pipeline.Destination, error) {
	var destinations []pipeline.Destination

	for _, dstCfg := range cfg.GetEnabledDestinations() {
		switch dstCfg.Type {
		case "host":
			destinations = append(destinations, pipeline.Destination{
				Name: dstCfg.Addr,
				Addr: dstCfg.Addr,
				Path: dstCfg.Path,
			})
			log.Infof("✓ Host destination enabled: %s:%s", dstCfg.Addr, dstCfg.Path)

		case "surface":
			destinations = append(destinations, pipeline.Destination{
				Name:      "surface://" + dstCfg.SurfaceID,
				SurfaceID: dstCfg.SurfaceID,
				Path:      dstCfg.Path,
			})
			log.Infof("✓ Surface destination enabled: %s:%s", dstCfg.SurfaceID, dstCfg.Path)

		case "s3":
			store, err := storage.NewS3Destination(dstCfg)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize S3 destination: %w", err)
			}
			destinations = append(destinations, pipeline.Destination{
				Name:  "s3://" + dstCfg.Bucket,
				Store: store,
			})
			log.Infof("✓ S3 destination enabled (bucket: %s)", dstCfg.Bucket)
		}
	}
	return destinations, nil
}

// RunOnce executes one pipeline run per enabled source, sequentially,
// and reports failure if any job failed.
func (a *App) RunOnce(ctx context.Context, opts RunOptions) error {
	sources := a.selectSources(opts)
	if len(sources) == 0 {
		return fmt.Errorf("no matching enabled sources")
	}

	failures := 0
	for _, src := range sources {
		outcome, err := a.runSource(ctx, src, opts)
		if err != nil {
			a.logger.Errorf("[%s] could not start job: %v", src.Name, err)
			failures++
			continue
		}
		if !outcome.Success() {
			failures++
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d backup job(s) failed", failures, len(sources))
	}
	return nil
}

// RunScheduled registers every enabled source on its cron schedule and
// blocks until the context is cancelled.
func (a *App) RunScheduled(ctx context.Context, opts RunOptions) error {
	sched := scheduler.New(ctx)

	for _, src := range a.selectSources(opts) {
		if src.Schedule == "" {
			a.logger.Warnf("[%s] no schedule configured, skipping", src.Name)
			continue
		}
		src := src
		if err := sched.AddJob(src.Schedule, func(jobCtx context.Context) error {
			a.logger.Infof("=== Triggered scheduled backup for %s ===", src.Name)
			outcome, err := a.runSource(jobCtx, src, opts)
			if err != nil {
				return err
			}
			if !outcome.Success() {
				return fmt.Errorf("backup of %s failed: %s", src.Name, outcome.Reason)
			}
			return nil
		}); err != nil {
			return fmt.Errorf("failed to schedule backup for %s: %w", src.Name, err)
		}
		a.logger.Infof("✓ Scheduled backup for %s: %s", src.Name, src.Schedule)
	}

	sched.Start()
	defer sched.Stop()

	<-ctx.Done()
	return nil
}

func (a *App) selectSources(opts RunOptions) []config.SourceConfig {
	var out []config.SourceConfig
	for _, src := range a.cfg.GetEnabledSources() {
		if opts.Bucket != "" && (src.Engine != "s3" || src.Bucket != opts.Bucket) {
			continue
		}
		out = append(out, src)
	}
	return out
}

func (a *App) runSource(ctx context.Context, src config.SourceConfig, opts RunOptions) (domain.Outcome, error) {
	pipeCfg := pipeline.Config{
		TolerancePct:        a.cfg.Pipeline.TolerancePct,
		Retry:               retry.Policy{Retries: a.cfg.Pipeline.RetryCount, Delay: a.cfg.Pipeline.RetryDelay()},
		RetentionDays:       a.cfg.Pipeline.RetentionDays,
		RequiredFreeSpaceMB: a.cfg.Pipeline.RequiredFreeSpaceMB,
		AllowEmptyArtifacts: a.cfg.Pipeline.AllowEmptyArtifacts,
		ReadinessAttempts:   a.cfg.Pipeline.ReadinessAttempts,
		ReadinessInterval:   a.cfg.Pipeline.ReadinessInterval(),
		WorkDir:             a.workDir,
		Mode:                opts.Mode,
		PostSQL:             opts.PostSQL,
		Compress:            a.cfg.Pipeline.Compress,
	}

	if src.Engine == "s3" {
		store, err := storage.NewS3(storage.S3Options{
			Region:    src.Region,
			Bucket:    src.Bucket,
			AccessKey: src.AccessKey,
			SecretKey: src.SecretKey,
			Prefix:    src.Prefix,
		})
		if err != nil {
			return domain.Outcome{}, fmt.Errorf("initialize bucket source %s: %w", src.Name, err)
		}
		orch := pipeline.NewBucketOrchestrator(pipeCfg, pipeline.BucketDeps{
			Name:         src.Name,
			Store:        store,
			Staging:      a.staging,
			Transport:    a.transport,
			Destinations: a.destinations,
			Verifier:     a.verifier,
			Notifier:     a.notifier,
			Logger:       a.logger,
		})
		return orch.Run(ctx), nil
	}

	sourceEP := endpointFromSource(src)
	sourceDB, err := database.New(src.Name, sourceEP)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("initialize source %s: %w", src.Name, err)
	}
	defer sourceDB.Close()

	targetEP := a.targetEndpoint(src)
	targetDB, err := database.New(src.Name+"-verify", targetEP)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("initialize verification target: %w", err)
	}
	defer targetDB.Close()

	orch := pipeline.NewOrchestrator(pipeCfg, pipeline.Deps{
		Source: sourceDB,
		Target: targetDB,
		NewTarget: func(namespace string) (domain.Database, error) {
			return database.New(src.Name+"-restored", targetEP.WithDatabase(namespace))
		},
		Targets:      a.targets,
		TargetID:     targetEP.Addr(),
		Staging:      a.staging,
		Transport:    a.transport,
		Destinations: a.destinations,
		Compressor:   a.compressor,
		Verifier:     a.verifier,
		Notifier:     a.notifier,
		Logger:       a.logger,
	})
	return orch.Run(ctx), nil
}

func endpointFromSource(src config.SourceConfig) domain.Endpoint {
	return domain.Endpoint{
		Engine:       src.Engine,
		Host:         src.Host,
		Port:         src.Port,
		Username:     src.Username,
		Password:     src.Password,
		Database:     src.Database,
		SSLMode:      src.SSLMode,
		AuthDatabase: src.AuthDatabase,
	}
}

// targetEndpoint builds the endpoint the verification-target adapter is
// bound to for the given source.
func (a *App) targetEndpoint(src config.SourceConfig) domain.Endpoint {
	vt := a.cfg.VerifyTarget
	ep := domain.Endpoint{
		Engine:    vt.Engine,
		Host:      vt.Host,
		Port:      vt.Port,
		Username:  vt.Username,
		Password:  vt.Password,
		SSLMode:   vt.SSLMode,
		SurfaceID: vt.SurfaceID,
	}

	switch src.Engine {
	case "postgresql":
		ep.Database = "postgres"
	case "mysql":
		ep.Database = "information_schema"
	case "mongodb":
		// mongorestore remaps namespaces relative to the endpoint's
		// database, so the target handle must carry the logical database
		// the archive was dumped from, authenticating against admin.
		ep.Database = src.Database
		ep.AuthDatabase = "admin"
	}
	return ep
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down %s...", a.cfg.App.Name)
	a.logger.Close()
}
