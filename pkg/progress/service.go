// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

// Package progress recomputes per-project completion from the group
// documents on the coordination store and writes the derived numbers back
// to both stores.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/crowdtiles/crowdtiles/internal/sync2"
	"github.com/crowdtiles/crowdtiles/pkg/project"
	"github.com/crowdtiles/crowdtiles/storage"
)

var (
	// Error is the errs class for progress failures.
	Error = errs.Class("progress error")

	mon = monkit.Package()
)

// DefaultWorkers is the default group fetch concurrency.
const DefaultWorkers = 24

// DB is the relational store surface the progress service needs.
type DB interface {
	CountContributors(ctx context.Context, projectID string) (count int, err error)
	UpdateProjectStats(ctx context.Context, projectID string, progress, contributors int) error
}

// Config holds progress service parameters.
type Config struct {
	Workers    int
	HistoryDir string
}

// Service recomputes project progress and contributor counts.
type Service struct {
	log   *zap.Logger
	coord storage.KeyValueStore
	db    DB

	workers    int
	historyDir string
}

// NewService creates a progress service.
func NewService(log *zap.Logger, coord storage.KeyValueStore, db DB, config Config) *Service {
	workers := config.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Service{
		log:        log,
		coord:      coord,
		db:         db,
		workers:    workers,
		historyDir: config.HistoryDir,
	}
}

// Recompute derives a project's progress as the mean of its per-group
// progress, fetches the contributor count, and writes both back to the
// coordination document, the relational row and the history log.
func (service *Service) Recompute(ctx context.Context, projectID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	keys, err := service.coord.List(project.GroupsPrefix(projectID))
	if err != nil {
		return err
	}

	perGroup := make([]int, len(keys))
	limiter := sync2.NewLimiter(service.workers)
	for i, key := range keys {
		i, key := i, key
		started := limiter.Go(ctx, func() {
			perGroup[i] = service.groupProgress(key)
		})
		if !started {
			limiter.Wait()
			return Error.Wrap(ctx.Err())
		}
	}
	limiter.Wait()

	progress := 0
	if len(keys) > 0 {
		total := 0
		for _, value := range perGroup {
			total += value
		}
		progress = total / len(keys)
	}

	contributors, err := service.db.CountContributors(ctx, projectID)
	if err != nil {
		return err
	}

	if err := service.updateProjectDoc(projectID, progress, contributors); err != nil {
		return err
	}
	if err := service.db.UpdateProjectStats(ctx, projectID, progress, contributors); err != nil {
		return err
	}
	if err := service.appendHistory(projectID, progress, contributors); err != nil {
		service.log.Warn("history append failed",
			zap.String("projectID", projectID), zap.Error(err))
	}

	service.log.Debug("progress recomputed",
		zap.String("projectID", projectID),
		zap.Int("progress", progress),
		zap.Int("contributors", contributors))
	return nil
}

// groupProgress computes one group's completion percentage. An unreadable
// group document counts as zero so progress never overstates completion.
// A group that requires no verifications counts as complete.
func (service *Service) groupProgress(key storage.Key) int {
	value, err := service.coord.Get(key)
	if err != nil {
		service.log.Warn("group unreadable", zap.Stringer("key", key), zap.Error(err))
		return 0
	}
	var g project.Group
	if err := json.Unmarshal(value, &g); err != nil {
		service.log.Warn("group undecodable", zap.Stringer("key", key), zap.Error(err))
		return 0
	}

	if g.RequiredCount <= 0 {
		return 100
	}
	progress := 100 * g.FinishedCount / g.RequiredCount
	if progress > 100 {
		progress = 100
	}
	return progress
}

func (service *Service) updateProjectDoc(projectID string, progress, contributors int) error {
	key := project.ProjectKey(projectID)
	value, err := service.coord.Get(key)
	if err != nil {
		return err
	}
	var p project.Project
	if err := json.Unmarshal(value, &p); err != nil {
		return Error.Wrap(err)
	}
	p.Progress = progress
	p.ContributorCount = contributors

	doc, err := json.Marshal(&p)
	if err != nil {
		return Error.Wrap(err)
	}
	return service.coord.Put(key, doc)
}

// appendHistory writes a timestamped progress sample to the project's
// append-only history file.
func (service *Service) appendHistory(projectID string, progress, contributors int) error {
	if service.historyDir == "" {
		return nil
	}
	if err := os.MkdirAll(service.historyDir, 0755); err != nil {
		return Error.Wrap(err)
	}

	path := filepath.Join(service.historyDir, projectID+".log")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return Error.Wrap(err)
	}
	_, err = fmt.Fprintf(file, "%s\t%d\t%d\n",
		time.Now().UTC().Format(time.RFC3339), progress, contributors)
	return Error.Wrap(errs.Combine(err, file.Close()))
}

// RecomputeAll recomputes every project on the coordination store. A failed
// project does not stop the others.
func (service *Service) RecomputeAll(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	keys, err := service.coord.List(project.ProjectsPrefix())
	if err != nil {
		return err
	}

	var failed int
	prefix := project.ProjectsPrefix().String()
	for _, key := range keys {
		projectID := strings.TrimPrefix(key.String(), prefix)
		if err := service.Recompute(ctx, projectID); err != nil {
			service.log.Error("recompute failed",
				zap.String("projectID", projectID), zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		return Error.New("recompute failed for %d of %d projects", failed, len(keys))
	}
	return nil
}
