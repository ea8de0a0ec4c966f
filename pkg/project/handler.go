// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

package project

import (
	"encoding/json"

	"github.com/peterstace/simplefeatures/geom"
	"github.com/zeebo/errs"
)

// Validation error taxonomy. A validation failure means the project is
// never created; the draft stays pending.
var (
	ErrValidation        = errs.Class("validation error")
	ErrEmptyInput        = errs.Class("empty input")
	ErrTooManyGeometries = errs.Class("too many geometries")
	ErrInvalidGeometry   = errs.Class("invalid geometry")

	// Error is the errs class for other project failures.
	Error = errs.Class("project error")
)

// Handler is the capability set a project type must provide. The lifecycle
// manager calls only through this interface, dispatched by the Type tag.
type Handler interface {
	// Validate checks the draft's raw input and returns the extent geometry
	// (zero geometry for non-grid types).
	Validate(draft *Draft) (geom.Geometry, error)
	// Groups partitions the project into groups.
	Groups(p *Project, draft *Draft) ([]Group, error)
	// Tasks expands one group into concrete tasks.
	Tasks(p *Project, draft *Draft, g *Group) ([]Task, error)
	// TasksOnCoordination reports whether clients need explicit task
	// payloads in the coordination store.
	TasksOnCoordination() bool
}

var handlers = map[Type]Handler{
	TypeBuildArea:           gridHandler{},
	TypeCompleteness:        gridHandler{},
	TypeChangeDetection:     gridHandler{dual: true},
	TypeFootprint:           batchHandler{},
	TypeMediaClassification: batchHandler{media: true},
}

// HandlerFor returns the Handler for a project type.
func HandlerFor(t Type) (Handler, error) {
	h, ok := handlers[t]
	if !ok {
		return nil, Error.New("unknown project type %d", int(t))
	}
	return h, nil
}

// rootGeometries extracts the top level geometries from raw GeoJSON, which
// may be a bare geometry, a Feature, or a FeatureCollection.
func rootGeometries(raw []byte) ([]geom.Geometry, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, ErrInvalidGeometry.Wrap(err)
	}

	switch probe.Type {
	case "FeatureCollection":
		var fc geom.GeoJSONFeatureCollection
		if err := json.Unmarshal(raw, &fc); err != nil {
			return nil, ErrInvalidGeometry.Wrap(err)
		}
		geometries := make([]geom.Geometry, 0, len(fc))
		for _, feature := range fc {
			geometries = append(geometries, feature.Geometry)
		}
		return geometries, nil
	case "Feature":
		var feature geom.GeoJSONFeature
		if err := json.Unmarshal(raw, &feature); err != nil {
			return nil, ErrInvalidGeometry.Wrap(err)
		}
		return []geom.Geometry{feature.Geometry}, nil
	default:
		g, err := geom.UnmarshalGeoJSON(raw)
		if err != nil {
			return nil, ErrInvalidGeometry.Wrap(err)
		}
		return []geom.Geometry{g}, nil
	}
}

func isAreal(g geom.Geometry) bool {
	return g.Type() == geom.TypePolygon || g.Type() == geom.TypeMultiPolygon
}
