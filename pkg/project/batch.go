// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

package project

import (
	"encoding/json"
	"fmt"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/crowdtiles/crowdtiles/pkg/partition"
)

// batchHandler implements the arbitrary-geometry project types. Footprint
// projects batch polygon features from a GeoJSON feature collection; media
// classification batches a list of media URLs.
type batchHandler struct {
	media bool
}

// Validate filters out individually invalid or non-polygon features and
// fails only if zero valid features remain. The extent geometry is unused
// for batch types.
func (h batchHandler) Validate(draft *Draft) (geom.Geometry, error) {
	if h.media {
		if len(draft.Media) == 0 {
			return geom.Geometry{}, ErrValidation.Wrap(ErrEmptyInput.New("draft %s has no media items", draft.ID))
		}
		return geom.Geometry{}, nil
	}

	if len(draft.GeoJSON) == 0 {
		return geom.Geometry{}, ErrValidation.Wrap(ErrEmptyInput.New("draft %s has no features", draft.ID))
	}
	var fc geom.GeoJSONFeatureCollection
	if err := json.Unmarshal(draft.GeoJSON, &fc); err != nil {
		return geom.Geometry{}, ErrValidation.Wrap(ErrInvalidGeometry.Wrap(err))
	}

	draft.features = draft.features[:0]
	for _, feature := range fc {
		if !isAreal(feature.Geometry) || feature.Geometry.Validate() != nil {
			continue
		}
		draft.features = append(draft.features, feature)
	}
	if len(draft.features) == 0 {
		return geom.Geometry{}, ErrValidation.Wrap(ErrEmptyInput.New("draft %s has no valid features", draft.ID))
	}
	return geom.Geometry{}, nil
}

// Groups assigns input features to sequential fixed-size batches.
func (h batchHandler) Groups(p *Project, draft *Draft) ([]Group, error) {
	spans, err := partition.Batches(h.featureCount(draft), p.GroupSize)
	if err != nil {
		return nil, err
	}
	groups := make([]Group, 0, len(spans))
	for _, span := range spans {
		groups = append(groups, Group{
			ProjectID:     p.ID,
			GroupID:       span.ID,
			NumberOfTasks: span.Count(),
			RequiredCount: p.VerificationCount,
		})
	}
	return groups, nil
}

// Tasks emits one task per input feature in the group's span, in file
// order. Task ids derive from project, group and sequence number.
func (h batchHandler) Tasks(p *Project, draft *Draft, g *Group) ([]Task, error) {
	first := (g.GroupID - partition.FirstGroupID) * p.GroupSize
	last := first + g.NumberOfTasks - 1
	if first < 0 || last >= h.featureCount(draft) {
		return nil, Error.New("project %s group %d: span %d..%d out of range", p.ID, g.GroupID, first, last)
	}

	tasks := make([]Task, 0, g.NumberOfTasks)
	for i := first; i <= last; i++ {
		task := Task{
			ProjectID: p.ID,
			GroupID:   g.GroupID,
			TaskID:    fmt.Sprintf("%s-%d-%d", p.ID, g.GroupID, i),
		}
		if h.media {
			task.URL = draft.Media[i]
		} else {
			feature := draft.features[i]
			raw, err := json.Marshal(feature)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			task.Feature = raw
			task.GeometryWKT = feature.Geometry.AsText()
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// TasksOnCoordination is true for batch types: clients cannot derive the
// input features themselves.
func (batchHandler) TasksOnCoordination() bool { return true }

func (h batchHandler) featureCount(draft *Draft) int {
	if h.media {
		return len(draft.Media)
	}
	return len(draft.features)
}
