// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

// Package project defines the project/group/task/result data model and the
// per-project-type behavior behind a small capability interface.
package project

import (
	"encoding/json"
	"time"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/crowdtiles/crowdtiles/pkg/partition"
	"github.com/crowdtiles/crowdtiles/pkg/tile"
)

// Type tags the project variant and selects its Handler.
type Type int

// Known project types.
const (
	TypeBuildArea           Type = 1
	TypeFootprint           Type = 2
	TypeChangeDetection     Type = 3
	TypeCompleteness        Type = 4
	TypeMediaClassification Type = 5
)

func (t Type) String() string {
	switch t {
	case TypeBuildArea:
		return "build_area"
	case TypeFootprint:
		return "footprint"
	case TypeChangeDetection:
		return "change_detection"
	case TypeCompleteness:
		return "completeness"
	case TypeMediaClassification:
		return "media_classification"
	}
	return "unknown"
}

// Grid reports whether the type partitions a tile grid.
func (t Type) Grid() bool {
	switch t {
	case TypeBuildArea, TypeChangeDetection, TypeCompleteness:
		return true
	}
	return false
}

// State is the project lifecycle state.
type State int

// Project lifecycle states.
const (
	StateDraft    State = 0
	StateActive   State = 1
	StateInactive State = 2
	StateArchived State = 3
)

// Project is one crowdsourced labeling job over a geographic extent.
type Project struct {
	ID                string       `json:"projectId"`
	Name              string       `json:"name"`
	Type              Type         `json:"projectType"`
	LookFor           string       `json:"lookFor,omitempty"`
	ProjectDetails    string       `json:"projectDetails,omitempty"`
	ZoomLevel         int          `json:"zoomLevel,omitempty"`
	GroupSize         int          `json:"groupSize,omitempty"`
	VerificationCount int          `json:"verificationCount"`
	State             State        `json:"state"`
	Progress          int          `json:"progress"`
	ContributorCount  int          `json:"contributorCount"`
	TileServer        tile.Server  `json:"tileServer"`
	TileServerB       *tile.Server `json:"tileServerB,omitempty"`

	// MaxGroupWidth caps group width in tiles; tuned per project type.
	MaxGroupWidth int `json:"-"`
	// Extent is the validated extent geometry (grid types only).
	Extent geom.Geometry `json:"-"`
	// ExtentWKT is the extent in well-known text for the relational store.
	ExtentWKT string `json:"-"`
}

// Group is a bounded batch of tasks within a project, the unit of
// completion tracking. Grid groups carry a tile bounding box; batch groups
// only an ordinal id.
type Group struct {
	ProjectID     string `json:"projectId"`
	GroupID       int    `json:"groupId"`
	NumberOfTasks int    `json:"numberOfTasks"`
	FinishedCount int    `json:"finishedCount"`
	RequiredCount int    `json:"requiredCount"`

	partition.Box
}

// Task is the smallest unit of work: one tile or one input feature.
// Immutable once created.
type Task struct {
	ProjectID string `json:"projectId"`
	GroupID   int    `json:"groupId"`
	TaskID    string `json:"taskId"`
	TaskX     int    `json:"taskX,omitempty"`
	TaskY     int    `json:"taskY,omitempty"`
	URL       string `json:"url,omitempty"`
	URLB      string `json:"urlB,omitempty"`

	// Feature carries the input feature geometry for clients that need an
	// explicit task payload.
	Feature json.RawMessage `json:"geojson,omitempty"`

	// GeometryWKT is the task geometry for the relational store.
	GeometryWKT string `json:"-"`
}

// Result is one worker's answer for one task within a mapping session.
// Append-only in the coordination store; merged in the relational store.
type Result struct {
	TaskID     string    `json:"taskId"`
	ProjectID  string    `json:"projectId"`
	GroupID    int       `json:"groupId"`
	UserID     string    `json:"userId"`
	Timestamp  time.Time `json:"timestamp"`
	Result     int       `json:"result"`
	Duplicates int       `json:"duplicates,omitempty"`
}

// Draft is a pending import submission awaiting validation. It transitions
// to complete only after the full create lifecycle succeeds.
type Draft struct {
	ID                string          `json:"projectId"`
	Name              string          `json:"name"`
	Type              Type            `json:"projectType"`
	LookFor           string          `json:"lookFor,omitempty"`
	ProjectDetails    string          `json:"projectDetails,omitempty"`
	ZoomLevel         int             `json:"zoomLevel,omitempty"`
	GroupSize         int             `json:"groupSize,omitempty"`
	MaxGroupWidth     int             `json:"maxGroupWidth,omitempty"`
	VerificationCount int             `json:"verificationCount,omitempty"`
	TileServer        tile.Server     `json:"tileServer"`
	TileServerB       *tile.Server    `json:"tileServerB,omitempty"`
	GeoJSON           json.RawMessage `json:"geometry,omitempty"`
	Media             []string        `json:"media,omitempty"`

	// parsed input features, cached between Validate and Tasks
	features []geom.GeoJSONFeature
}

// Defaults per project type.
const (
	DefaultZoomLevel         = 18
	DefaultVerificationCount = 3
	DefaultGroupSize         = 50
)

func defaultMaxGroupWidth(t Type) int {
	switch t {
	case TypeChangeDetection:
		return 120
	case TypeCompleteness:
		return 80
	}
	return 40
}

// New builds a Project from a validated draft and extent.
func New(draft *Draft, extent geom.Geometry) *Project {
	p := &Project{
		ID:                draft.ID,
		Name:              draft.Name,
		Type:              draft.Type,
		LookFor:           draft.LookFor,
		ProjectDetails:    draft.ProjectDetails,
		ZoomLevel:         draft.ZoomLevel,
		GroupSize:         draft.GroupSize,
		VerificationCount: draft.VerificationCount,
		State:             StateDraft,
		TileServer:        draft.TileServer,
		TileServerB:       draft.TileServerB,
		MaxGroupWidth:     draft.MaxGroupWidth,
		Extent:            extent,
	}
	if p.Type.Grid() {
		if p.ZoomLevel == 0 {
			p.ZoomLevel = DefaultZoomLevel
		}
		if p.MaxGroupWidth == 0 {
			p.MaxGroupWidth = defaultMaxGroupWidth(p.Type)
		}
		if !extent.IsEmpty() {
			p.ExtentWKT = extent.AsText()
		}
	} else if p.GroupSize == 0 {
		p.GroupSize = DefaultGroupSize
	}
	if p.VerificationCount == 0 {
		p.VerificationCount = DefaultVerificationCount
	}
	return p
}
