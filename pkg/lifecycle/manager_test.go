// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"github.com/crowdtiles/crowdtiles/pkg/project"
	"github.com/crowdtiles/crowdtiles/pkg/tile"
	"github.com/crowdtiles/crowdtiles/storage"
	"github.com/crowdtiles/crowdtiles/storage/teststore"
)

type fakeDB struct {
	mu       sync.Mutex
	imports  map[string]bool
	projects map[string]*project.Project
	groups   map[string][]project.Group
	tasks    map[string][]project.Task

	failTasks bool
	deleted   []string
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		imports:  map[string]bool{},
		projects: map[string]*project.Project{},
		groups:   map[string][]project.Group{},
		tasks:    map[string][]project.Task{},
	}
}

func (db *fakeDB) SaveImport(ctx context.Context, draft *project.Draft) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.imports[draft.ID] = false
	return nil
}

func (db *fakeDB) SetImportComplete(ctx context.Context, importID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.imports[importID] = true
	return nil
}

func (db *fakeDB) SaveProject(ctx context.Context, p *project.Project) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.projects[p.ID] = p
	return nil
}

func (db *fakeDB) BulkLoadGroups(ctx context.Context, groups []project.Group) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, g := range groups {
		db.groups[g.ProjectID] = append(db.groups[g.ProjectID], g)
	}
	return nil
}

func (db *fakeDB) BulkLoadTasks(ctx context.Context, tasks []project.Task) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.failTasks {
		return errs.New("disk full")
	}
	for _, t := range tasks {
		db.tasks[t.ProjectID] = append(db.tasks[t.ProjectID], t)
	}
	return nil
}

func (db *fakeDB) DeleteProject(ctx context.Context, projectID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.deleted = append(db.deleted, projectID)
	delete(db.projects, projectID)
	delete(db.groups, projectID)
	delete(db.tasks, projectID)
	delete(db.imports, projectID)
	return nil
}

func squareFeature(lon, lat, size float64) string {
	return fmt.Sprintf(`{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[%[1]f,%[2]f],[%[3]f,%[2]f],[%[3]f,%[4]f],[%[1]f,%[4]f],[%[1]f,%[2]f]]]}}`,
		lon, lat, lon+size, lat+size)
}

func buildAreaDraft(id string) *project.Draft {
	return &project.Draft{
		ID:         id,
		Name:       "test area",
		Type:       project.TypeBuildArea,
		TileServer: tile.Server{Name: "bing", APIKey: "key"},
		GeoJSON: json.RawMessage(`{"type":"FeatureCollection","features":[` +
			squareFeature(11.0, 48.0, 0.004) + `]}`),
	}
}

func footprintDraft(id string) *project.Draft {
	return &project.Draft{
		ID:   id,
		Name: "test footprints",
		Type: project.TypeFootprint,
		GeoJSON: json.RawMessage(`{"type":"FeatureCollection","features":[` +
			squareFeature(11.0, 48.0, 0.001) + `,` +
			squareFeature(11.2, 48.2, 0.001) + `,` +
			squareFeature(11.4, 48.4, 0.001) + `]}`),
	}
}

func TestCreateProjectWritesBothStores(t *testing.T) {
	ctx := context.Background()
	coord, db := teststore.New(), newFakeDB()
	manager := NewManager(zaptest.NewLogger(t), coord, db)

	p, err := manager.CreateProject(ctx, buildAreaDraft("p1"))
	require.NoError(t, err)
	require.Equal(t, project.StateActive, p.State)

	doc, err := coord.Get(project.ProjectKey("p1"))
	require.NoError(t, err)
	var stored project.Project
	require.NoError(t, json.Unmarshal(doc, &stored))
	assert.Equal(t, "p1", stored.ID)
	assert.Equal(t, project.StateActive, stored.State)

	groupKeys, err := coord.List(project.GroupsPrefix("p1"))
	require.NoError(t, err)
	require.NotEmpty(t, db.groups["p1"])
	assert.Len(t, groupKeys, len(db.groups["p1"]))

	// grid types never put task payloads on the coordination store
	taskKeys, err := coord.List(project.TasksPrefix("p1"))
	require.NoError(t, err)
	assert.Empty(t, taskKeys)

	total := 0
	for _, g := range db.groups["p1"] {
		assert.Equal(t, g.Box.Tiles(), g.NumberOfTasks)
		total += g.NumberOfTasks
	}
	assert.Len(t, db.tasks["p1"], total)
	assert.True(t, db.imports["p1"])
}

func TestCreateProjectTaskPayloads(t *testing.T) {
	ctx := context.Background()
	coord, db := teststore.New(), newFakeDB()
	manager := NewManager(zaptest.NewLogger(t), coord, db)

	_, err := manager.CreateProject(ctx, footprintDraft("p2"))
	require.NoError(t, err)

	payload, err := coord.Get(project.TasksKey("p2", 100))
	require.NoError(t, err)
	var tasks []project.Task
	require.NoError(t, json.Unmarshal(payload, &tasks))
	require.Len(t, tasks, 3)
	assert.Equal(t, "p2-100-0", tasks[0].TaskID)
	assert.NotEmpty(t, tasks[0].Feature)
}

func TestCreateProjectRollbackOnDatabaseFailure(t *testing.T) {
	ctx := context.Background()
	coord, db := teststore.New(), newFakeDB()
	db.failTasks = true
	manager := NewManager(zaptest.NewLogger(t), coord, db)

	_, err := manager.CreateProject(ctx, buildAreaDraft("p3"))
	require.Error(t, err)

	assert.Equal(t, 0, coord.Len())
	assert.Contains(t, db.deleted, "p3")
	assert.Empty(t, db.projects)
	assert.Empty(t, db.groups)
}

func TestCreateProjectRollbackOnCoordinationFailure(t *testing.T) {
	ctx := context.Background()
	coord, db := teststore.New(), newFakeDB()
	coord.PutHook = func(key storage.Key) error {
		if key.Equal(project.ProjectKey("p4")) {
			return errs.New("connection reset")
		}
		return nil
	}
	manager := NewManager(zaptest.NewLogger(t), coord, db)

	_, err := manager.CreateProject(ctx, buildAreaDraft("p4"))
	require.Error(t, err)

	assert.Equal(t, 0, coord.Len())
	assert.Contains(t, db.deleted, "p4")
	assert.Empty(t, db.projects)
}

func TestDeleteProject(t *testing.T) {
	ctx := context.Background()
	coord, db := teststore.New(), newFakeDB()
	manager := NewManager(zaptest.NewLogger(t), coord, db)

	_, err := manager.CreateProject(ctx, buildAreaDraft("p5"))
	require.NoError(t, err)
	require.NotZero(t, coord.Len())

	require.NoError(t, manager.DeleteProject(ctx, "p5"))
	assert.Equal(t, 0, coord.Len())
	assert.Empty(t, db.projects)
	assert.Empty(t, db.tasks)
}

func TestImportDrafts(t *testing.T) {
	ctx := context.Background()
	coord, db := teststore.New(), newFakeDB()
	manager := NewManager(zaptest.NewLogger(t), coord, db)

	valid, err := json.Marshal(buildAreaDraft("p6"))
	require.NoError(t, err)
	require.NoError(t, coord.Put(project.DraftKey("p6"), valid))

	broken, err := json.Marshal(&project.Draft{ID: "p7", Type: project.TypeBuildArea})
	require.NoError(t, err)
	require.NoError(t, coord.Put(project.DraftKey("p7"), broken))

	created, err := manager.ImportDrafts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	_, err = coord.Get(project.ProjectKey("p6"))
	assert.NoError(t, err)
	_, err = coord.Get(project.DraftKey("p6"))
	assert.True(t, storage.ErrKeyNotFound.Has(err))

	// the invalid draft stays pending for the next pass
	_, err = coord.Get(project.DraftKey("p7"))
	assert.NoError(t, err)
	_, err = coord.Get(project.ProjectKey("p7"))
	assert.True(t, storage.ErrKeyNotFound.Has(err))
}
