// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

package progress

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/crowdtiles/crowdtiles/internal/testcontext"
	"github.com/crowdtiles/crowdtiles/pkg/project"
	"github.com/crowdtiles/crowdtiles/storage/teststore"
)

type statsDB struct {
	mu           sync.Mutex
	contributors map[string]int
	progress     map[string]int
}

func newStatsDB() *statsDB {
	return &statsDB{
		contributors: map[string]int{},
		progress:     map[string]int{},
	}
}

func (db *statsDB) CountContributors(ctx context.Context, projectID string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.contributors[projectID], nil
}

func (db *statsDB) UpdateProjectStats(ctx context.Context, projectID string, progress, contributors int) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.progress[projectID] = progress
	return nil
}

func putProject(t *testing.T, coord *teststore.Client, projectID string) {
	t.Helper()
	doc, err := json.Marshal(&project.Project{ID: projectID, Type: project.TypeBuildArea})
	require.NoError(t, err)
	require.NoError(t, coord.Put(project.ProjectKey(projectID), doc))
}

func putGroup(t *testing.T, coord *teststore.Client, projectID string, groupID, finished, required int) {
	t.Helper()
	doc, err := json.Marshal(&project.Group{
		ProjectID:     projectID,
		GroupID:       groupID,
		FinishedCount: finished,
		RequiredCount: required,
	})
	require.NoError(t, err)
	require.NoError(t, coord.Put(project.GroupKey(projectID, groupID), doc))
}

func TestRecomputeMeanOfGroups(t *testing.T) {
	coord, db := teststore.New(), newStatsDB()
	db.contributors["p1"] = 7
	service := NewService(zaptest.NewLogger(t), coord, db, Config{Workers: 4})

	putProject(t, coord, "p1")
	putGroup(t, coord, "p1", 100, 3, 3) // 100
	putGroup(t, coord, "p1", 101, 1, 3) // 33
	putGroup(t, coord, "p1", 102, 0, 3) // 0

	require.NoError(t, service.Recompute(context.Background(), "p1"))

	doc, err := coord.Get(project.ProjectKey("p1"))
	require.NoError(t, err)
	var p project.Project
	require.NoError(t, json.Unmarshal(doc, &p))
	assert.Equal(t, 44, p.Progress)
	assert.Equal(t, 7, p.ContributorCount)
	assert.Equal(t, 44, db.progress["p1"])
}

func TestRecomputeProgressBounds(t *testing.T) {
	coord, db := teststore.New(), newStatsDB()
	service := NewService(zaptest.NewLogger(t), coord, db, Config{})

	putProject(t, coord, "p2")
	// more finished than required never pushes a group past 100
	putGroup(t, coord, "p2", 100, 9, 3)
	putGroup(t, coord, "p2", 101, 5, 3)

	require.NoError(t, service.Recompute(context.Background(), "p2"))

	doc, err := coord.Get(project.ProjectKey("p2"))
	require.NoError(t, err)
	var p project.Project
	require.NoError(t, json.Unmarshal(doc, &p))
	assert.Equal(t, 100, p.Progress)
}

func TestRecomputeUnreadableGroupCountsZero(t *testing.T) {
	coord, db := teststore.New(), newStatsDB()
	service := NewService(zaptest.NewLogger(t), coord, db, Config{})

	putProject(t, coord, "p3")
	putGroup(t, coord, "p3", 100, 3, 3)
	require.NoError(t, coord.Put(project.GroupKey("p3", 101), []byte("{broken")))

	require.NoError(t, service.Recompute(context.Background(), "p3"))

	doc, err := coord.Get(project.ProjectKey("p3"))
	require.NoError(t, err)
	var p project.Project
	require.NoError(t, json.Unmarshal(doc, &p))
	assert.Equal(t, 50, p.Progress)
}

func TestRecomputeWritesHistory(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	coord, db := teststore.New(), newStatsDB()
	db.contributors["p4"] = 2
	dir := ctx.Dir("history")
	service := NewService(zaptest.NewLogger(t), coord, db, Config{HistoryDir: dir})

	putProject(t, coord, "p4")
	putGroup(t, coord, "p4", 100, 3, 3)

	require.NoError(t, service.Recompute(ctx, "p4"))
	require.NoError(t, service.Recompute(ctx, "p4"))

	data, err := os.ReadFile(filepath.Join(dir, "p4.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "\t100\t2"))
}

func TestRecomputeAll(t *testing.T) {
	coord, db := teststore.New(), newStatsDB()
	service := NewService(zaptest.NewLogger(t), coord, db, Config{})

	putProject(t, coord, "a")
	putGroup(t, coord, "a", 100, 0, 3)
	putProject(t, coord, "b")
	putGroup(t, coord, "b", 100, 3, 3)

	require.NoError(t, service.RecomputeAll(context.Background()))
	assert.Equal(t, 0, db.progress["a"])
	assert.Equal(t, 100, db.progress["b"])
}
