// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/crowdtiles/crowdtiles/internal/sync2"
	"github.com/crowdtiles/crowdtiles/pkg/lifecycle"
	"github.com/crowdtiles/crowdtiles/pkg/process"
	"github.com/crowdtiles/crowdtiles/pkg/progress"
	"github.com/crowdtiles/crowdtiles/pkg/resultsync"
	"github.com/crowdtiles/crowdtiles/storage"
	"github.com/crowdtiles/crowdtiles/storage/postgres"
	"github.com/crowdtiles/crowdtiles/storage/redis"
)

var (
	rootCmd = &cobra.Command{
		Use:   "crowdtiles",
		Short: "Crowdsourced geospatial labeling backend",
	}
	importCmd = &cobra.Command{
		Use:   "import",
		Short: "Import pending project drafts",
		RunE:  cmdImport,
	}
	progressCmd = &cobra.Command{
		Use:   "progress",
		Short: "Recompute progress for every project",
		RunE:  cmdProgress,
	}
	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Sync pending contribution events into the database",
		RunE:  cmdSync,
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [project-id]",
		Short: "Delete a project from both stores",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdDelete,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the periodic import, sync and progress loop",
		RunE:  cmdRun,
	}

	runCfg struct {
		CoordinationURL string
		DatabaseURL     string
		Workers         int
		BufferDir       string
		HistoryDir      string
		Interval        time.Duration
		MaxIterations   int
	}
)

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(runCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&runCfg.CoordinationURL, "coordination-url",
		"redis://127.0.0.1:6379?db=0", "coordination store URL")
	flags.StringVar(&runCfg.DatabaseURL, "database-url",
		"postgres://crowdtiles@127.0.0.1/crowdtiles?sslmode=disable", "relational store URL")
	flags.IntVar(&runCfg.Workers, "workers",
		progress.DefaultWorkers, "group fetch concurrency for progress recomputation")
	flags.StringVar(&runCfg.BufferDir, "buffer-dir",
		"buffers", "directory for result sync spool files")
	flags.StringVar(&runCfg.HistoryDir, "history-dir",
		"history", "directory for per-project progress history logs")
	runCmd.Flags().DurationVar(&runCfg.Interval, "interval",
		10*time.Minute, "time between loop iterations")
	runCmd.Flags().IntVar(&runCfg.MaxIterations, "max-iterations",
		0, "stop after this many iterations, 0 runs forever")
}

// app holds the shared clients behind every subcommand.
type app struct {
	log   *zap.Logger
	coord storage.KeyValueStore
	db    *postgres.Client
}

func openApp() (*app, error) {
	log, err := process.NewLogger()
	if err != nil {
		return nil, err
	}
	coord, err := redis.NewClientFrom(runCfg.CoordinationURL)
	if err != nil {
		return nil, err
	}
	db, err := postgres.New(runCfg.DatabaseURL)
	if err != nil {
		return nil, errs.Combine(err, coord.Close())
	}
	return &app{log: log, coord: coord, db: db}, nil
}

func (a *app) close() error {
	return errs.Combine(a.coord.Close(), a.db.Close(), a.log.Sync())
}

func cmdImport(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, a.close()) }()

	manager := lifecycle.NewManager(a.log, a.coord, a.db)
	created, err := manager.ImportDrafts(ctx)
	if err != nil {
		return err
	}
	a.log.Info("import pass finished", zap.Int("created", created))
	return nil
}

func cmdProgress(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, a.close()) }()

	service := progress.NewService(a.log, a.coord, a.db, progress.Config{
		Workers:    runCfg.Workers,
		HistoryDir: runCfg.HistoryDir,
	})
	return service.RecomputeAll(ctx)
}

func cmdSync(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, a.close()) }()

	pipeline := resultsync.NewPipeline(a.log, a.coord, a.db, runCfg.BufferDir)
	_, err = pipeline.Run(ctx)
	return err
}

func cmdDelete(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, a.close()) }()

	manager := lifecycle.NewManager(a.log, a.coord, a.db)
	return manager.DeleteProject(ctx, args[0])
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, a.close()) }()

	manager := lifecycle.NewManager(a.log, a.coord, a.db)
	pipeline := resultsync.NewPipeline(a.log, a.coord, a.db, runCfg.BufferDir)
	service := progress.NewService(a.log, a.coord, a.db, progress.Config{
		Workers:    runCfg.Workers,
		HistoryDir: runCfg.HistoryDir,
	})

	cycle := sync2.NewCycle(runCfg.Interval, runCfg.MaxIterations)
	return cycle.Run(ctx, func(ctx context.Context) error {
		// a failing stage is logged and retried next iteration; the loop
		// itself keeps running
		if _, err := manager.ImportDrafts(ctx); err != nil {
			a.log.Error("import pass failed", zap.Error(err))
		}
		if _, err := pipeline.Run(ctx); err != nil {
			a.log.Error("sync pass failed", zap.Error(err))
		}
		if err := service.RecomputeAll(ctx); err != nil {
			a.log.Error("progress pass failed", zap.Error(err))
		}
		return nil
	})
}

func main() {
	process.Exec(rootCmd)
}
