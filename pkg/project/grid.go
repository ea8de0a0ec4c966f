// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

package project

import (
	"fmt"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/crowdtiles/crowdtiles/pkg/partition"
	"github.com/crowdtiles/crowdtiles/pkg/tile"
)

// gridHandler implements the tile grid project types. Change detection sets
// dual and emits a second imagery URL per task.
type gridHandler struct {
	dual bool
}

// Validate accepts exactly one polygon or multipolygon root geometry.
func (gridHandler) Validate(draft *Draft) (geom.Geometry, error) {
	geometries, err := rootGeometries(draft.GeoJSON)
	if err != nil {
		return geom.Geometry{}, ErrValidation.Wrap(err)
	}
	if len(geometries) == 0 {
		return geom.Geometry{}, ErrValidation.Wrap(ErrEmptyInput.New("draft %s has no geometry", draft.ID))
	}
	if len(geometries) > 1 {
		return geom.Geometry{}, ErrValidation.Wrap(ErrTooManyGeometries.New("draft %s has %d root geometries", draft.ID, len(geometries)))
	}

	extent := geometries[0]
	if !isAreal(extent) {
		return geom.Geometry{}, ErrValidation.Wrap(ErrInvalidGeometry.New("draft %s: %s is not areal", draft.ID, extent.Type()))
	}
	if err := extent.Validate(); err != nil {
		return geom.Geometry{}, ErrValidation.Wrap(ErrInvalidGeometry.Wrap(err))
	}
	return extent, nil
}

// Groups partitions the extent into tile grid groups.
func (gridHandler) Groups(p *Project, _ *Draft) ([]Group, error) {
	cfg := partition.DefaultConfig
	cfg.MaxGroupWidth = p.MaxGroupWidth

	slices, err := partition.Grid(p.Extent, p.ZoomLevel, cfg)
	if err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(slices))
	for _, slice := range slices {
		groups = append(groups, Group{
			ProjectID:     p.ID,
			GroupID:       slice.ID,
			NumberOfTasks: slice.Box.Tiles(),
			RequiredCount: p.VerificationCount,
			Box:           slice.Box,
		})
	}
	return groups, nil
}

// Tasks enumerates every tile in the group's bounding box, inclusive. Task
// ids derive from tile coordinates, not insertion order, so re-expansion of
// an unchanged group yields identical ids.
func (h gridHandler) Tasks(p *Project, _ *Draft, g *Group) ([]Task, error) {
	tasks := make([]Task, 0, g.Box.Tiles())
	for ty := g.Box.YMin; ty <= g.Box.YMax; ty++ {
		for tx := g.Box.XMin; tx <= g.Box.XMax; tx++ {
			task := Task{
				ProjectID:   p.ID,
				GroupID:     g.GroupID,
				TaskID:      fmt.Sprintf("%d-%d-%d", p.ZoomLevel, tx, ty),
				TaskX:       tx,
				TaskY:       ty,
				URL:         tile.URL(tx, ty, p.ZoomLevel, p.TileServer),
				GeometryWKT: tile.Polygon(tx, ty, p.ZoomLevel),
			}
			if h.dual {
				if p.TileServerB == nil {
					return nil, Error.New("project %s: dual imagery type without second tile server", p.ID)
				}
				task.URLB = tile.URL(tx, ty, p.ZoomLevel, *p.TileServerB)
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// TasksOnCoordination is false for grid types: clients derive tile tasks
// from the group's bounding box on their own.
func (gridHandler) TasksOnCoordination() bool { return false }
