package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"veriback/internal/app"
	"veriback/internal/config"
	"veriback/internal/domain"
)

var (
	configPath string
	modeFlag   string
	postSQL    string
	bucketName string
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "veriback",
		Short: "Backup databases and buckets with test-restore verification",
		Long: `veriback captures backups, test-restores them into an isolated
verification target, reconciles the restored copy against the live
source, and only then promotes the artifact to its destinations.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")

	root.AddCommand(newRunCommand())
	root.AddCommand(newScheduleCommand())
	return root
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one backup-validate-promote run for every enabled source",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, opts, ctx, cancel, err := setup()
			if err != nil {
				return err
			}
			defer cancel()
			defer application.Shutdown()

			return application.RunOnce(ctx, opts)
		},
	}
	addRunFlags(cmd)
	return cmd
}

func newScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run pipelines on their configured cron schedules until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, opts, ctx, cancel, err := setup()
			if err != nil {
				return err
			}
			defer cancel()
			defer application.Shutdown()

			return application.RunScheduled(ctx, opts)
		},
	}
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&modeFlag, "mode", "full", "capture mode: full, schema-only, or data-only")
	cmd.Flags().StringVar(&postSQL, "post-sql", "", "SQL script to run against the restored copy after promotion")
	cmd.Flags().StringVar(&bucketName, "bucket", "", "restrict the run to a single bucket source")
}

func setup() (*app.App, app.RunOptions, context.Context, context.CancelFunc, error) {
	mode, ok := domain.ParseCaptureMode(modeFlag)
	if !ok {
		return nil, app.RunOptions{}, nil, nil, fmt.Errorf("invalid mode %q", modeFlag)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, app.RunOptions{}, nil, nil, fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return nil, app.RunOptions{}, nil, nil, fmt.Errorf("initialize app: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	opts := app.RunOptions{
		Mode:    mode,
		PostSQL: postSQL,
		Bucket:  bucketName,
	}
	return application, opts, ctx, cancel, nil
}
