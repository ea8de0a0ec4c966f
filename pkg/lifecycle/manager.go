// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

// Package lifecycle orchestrates validation, partitioning, task expansion
// and dual-store writes for a project. Import is all-or-nothing from the
// caller's perspective even though it is not a single database transaction:
// failures trigger compensating deletes before the error surfaces.
package lifecycle

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/crowdtiles/crowdtiles/pkg/project"
	"github.com/crowdtiles/crowdtiles/storage"
)

var (
	// Error is the errs class for lifecycle failures.
	Error = errs.Class("lifecycle error")

	mon = monkit.Package()
)

// DB is the relational store surface the lifecycle manager needs.
type DB interface {
	SaveImport(ctx context.Context, draft *project.Draft) error
	SetImportComplete(ctx context.Context, importID string) error
	SaveProject(ctx context.Context, p *project.Project) error
	BulkLoadGroups(ctx context.Context, groups []project.Group) error
	BulkLoadTasks(ctx context.Context, tasks []project.Task) error
	DeleteProject(ctx context.Context, projectID string) error
}

// Manager orchestrates the project lifecycle across both stores.
type Manager struct {
	log   *zap.Logger
	coord storage.KeyValueStore
	db    DB

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// NewManager creates a lifecycle manager.
func NewManager(log *zap.Logger, coord storage.KeyValueStore, db DB) *Manager {
	return &Manager{
		log:      log,
		coord:    coord,
		db:       db,
		inflight: map[string]*sync.Mutex{},
	}
}

// lockProject serializes operations per project id. No two imports may run
// against the same project concurrently.
func (m *Manager) lockProject(projectID string) func() {
	m.mu.Lock()
	lock, ok := m.inflight[projectID]
	if !ok {
		lock = &sync.Mutex{}
		m.inflight[projectID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// CreateProject validates the draft, partitions it, expands tasks and
// writes the full aggregate to both stores. The coordination-store project
// document is written last: a project is visible to clients only once every
// group and task has been durably written.
func (m *Manager) CreateProject(ctx context.Context, draft *project.Draft) (_ *project.Project, err error) {
	defer mon.Task()(&ctx)(&err)
	defer m.lockProject(draft.ID)()

	handler, err := project.HandlerFor(draft.Type)
	if err != nil {
		return nil, err
	}

	extent, err := handler.Validate(draft)
	if err != nil {
		return nil, err
	}

	p := project.New(draft, extent)
	groups, err := handler.Groups(p, draft)
	if err != nil {
		return nil, err
	}

	taskSets := make([][]project.Task, 0, len(groups))
	var tasks []project.Task
	for i := range groups {
		set, err := handler.Tasks(p, draft, &groups[i])
		if err != nil {
			return nil, err
		}
		groups[i].NumberOfTasks = len(set)
		taskSets = append(taskSets, set)
		tasks = append(tasks, set...)
	}

	p.State = project.StateActive
	if err := m.writeProject(ctx, p, draft, groups, tasks, taskSets, handler.TasksOnCoordination()); err != nil {
		m.log.Error("import failed, rolling back",
			zap.String("projectID", p.ID), zap.Error(err))
		if cleanupErr := m.removeArtifacts(ctx, p.ID); cleanupErr != nil {
			m.log.Error("rollback incomplete",
				zap.String("projectID", p.ID), zap.Error(cleanupErr))
		}
		return nil, err
	}

	if err := m.db.SetImportComplete(ctx, draft.ID); err != nil {
		m.log.Warn("import row not marked complete",
			zap.String("projectID", p.ID), zap.Error(err))
	}

	m.log.Info("project created",
		zap.String("projectID", p.ID),
		zap.Stringer("projectType", p.Type),
		zap.Int("groups", len(groups)),
		zap.Int("tasks", len(tasks)))
	return p, nil
}

// writeProject writes the aggregate: relational rows first via staged bulk
// loads, then coordination group and task documents, then the coordination
// project document last.
func (m *Manager) writeProject(ctx context.Context, p *project.Project, draft *project.Draft, groups []project.Group, tasks []project.Task, taskSets [][]project.Task, tasksOnCoord bool) error {
	if err := m.db.SaveImport(ctx, draft); err != nil {
		return err
	}
	if err := m.db.SaveProject(ctx, p); err != nil {
		return err
	}
	if err := m.db.BulkLoadGroups(ctx, groups); err != nil {
		return err
	}
	if err := m.db.BulkLoadTasks(ctx, tasks); err != nil {
		return err
	}

	for i := range groups {
		doc, err := json.Marshal(&groups[i])
		if err != nil {
			return Error.Wrap(err)
		}
		if err := m.coord.Put(project.GroupKey(p.ID, groups[i].GroupID), doc); err != nil {
			return err
		}
		if tasksOnCoord {
			payload, err := json.Marshal(taskSets[i])
			if err != nil {
				return Error.Wrap(err)
			}
			if err := m.coord.Put(project.TasksKey(p.ID, groups[i].GroupID), payload); err != nil {
				return err
			}
		}
	}

	doc, err := json.Marshal(p)
	if err != nil {
		return Error.Wrap(err)
	}
	return m.coord.Put(project.ProjectKey(p.ID), doc)
}

// removeArtifacts deletes everything belonging to a project from both
// stores. The coordination project entry goes last so a client never
// observes a partially deleted project.
func (m *Manager) removeArtifacts(ctx context.Context, projectID string) error {
	var group errs.Group
	group.Add(m.coord.DeletePrefix(project.TasksPrefix(projectID)))
	group.Add(m.coord.DeletePrefix(project.GroupsPrefix(projectID)))
	group.Add(m.coord.DeletePrefix(project.ResultsProjectPrefix(projectID)))
	group.Add(m.db.DeleteProject(ctx, projectID))

	if err := m.coord.Delete(project.ProjectKey(projectID)); err != nil && !storage.ErrKeyNotFound.Has(err) {
		group.Add(err)
	}
	return group.Err()
}

// DeleteProject cascades a delete across both stores.
func (m *Manager) DeleteProject(ctx context.Context, projectID string) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer m.lockProject(projectID)()

	if err := m.removeArtifacts(ctx, projectID); err != nil {
		return err
	}
	m.log.Info("project deleted", zap.String("projectID", projectID))
	return nil
}

// ImportDrafts drains pending import drafts from the coordination store and
// runs the create lifecycle on each. A failed draft is left pending for the
// next import pass, never silently marked complete, and never affects the
// other drafts.
func (m *Manager) ImportDrafts(ctx context.Context) (created int, err error) {
	defer mon.Task()(&ctx)(&err)

	keys, err := m.coord.List(project.DraftsPrefix())
	if err != nil {
		return 0, err
	}

	for _, key := range keys {
		value, err := m.coord.Get(key)
		if err != nil {
			m.log.Error("draft unreadable", zap.Stringer("key", key), zap.Error(err))
			continue
		}

		var draft project.Draft
		if err := json.Unmarshal(value, &draft); err != nil {
			m.log.Error("draft undecodable", zap.Stringer("key", key), zap.Error(err))
			continue
		}
		if draft.ID == "" {
			m.log.Error("draft without project id", zap.Stringer("key", key))
			continue
		}

		if _, err := m.CreateProject(ctx, &draft); err != nil {
			m.log.Error("draft import failed, will retry next pass",
				zap.String("projectID", draft.ID), zap.Error(err))
			continue
		}

		if err := m.coord.Delete(key); err != nil {
			m.log.Warn("imported draft not removed", zap.Stringer("key", key), zap.Error(err))
		}
		created++
	}
	return created, nil
}
