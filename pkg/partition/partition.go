// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

// Package partition cuts a project extent into non-overlapping, size-bounded
// groups of map tiles. It performs no I/O; group ids and boxes are assigned
// in a stable north-to-south, west-to-east order so that re-running the
// partitioner on unchanged input is reproducible.
package partition

import (
	"math"
	"sort"

	"github.com/peterstace/simplefeatures/geom"
	"github.com/zeebo/errs"

	"github.com/crowdtiles/crowdtiles/pkg/tile"
)

// Error is the errs class for partitioning failures.
var Error = errs.Class("partition error")

// FirstGroupID is the lowest synthetic group id; ids below it are reserved.
const FirstGroupID = 100

// boundaryEpsilon is the longitude slack (degrees) used to decide whether a
// fragment edge sits exactly on a tile boundary.
const boundaryEpsilon = 1e-9

// Box is an inclusive tile bounding box.
type Box struct {
	XMin int `json:"xMin"`
	XMax int `json:"xMax"`
	YMin int `json:"yMin"`
	YMax int `json:"yMax"`
}

// Width returns the box width in tiles.
func (b Box) Width() int { return b.XMax - b.XMin + 1 }

// Height returns the box height in tiles.
func (b Box) Height() int { return b.YMax - b.YMin + 1 }

// Tiles returns the number of tiles covered by the box.
func (b Box) Tiles() int { return b.Width() * b.Height() }

// Group is one partition result: a synthetic group id plus its tile box.
type Group struct {
	ID  int
	Box Box
}

// Config carries the grid partitioning tunables.
type Config struct {
	// RowHeight is the fixed height of a partition row in tiles.
	RowHeight int
	// MaxGroupWidth caps the width of a single group in tiles.
	MaxGroupWidth int
	// AreaEpsilon rejects degenerate intersection slivers (square degrees).
	AreaEpsilon float64
}

// DefaultConfig matches the production tuning for tile grid projects.
var DefaultConfig = Config{
	RowHeight:     3,
	MaxGroupWidth: 40,
	AreaEpsilon:   1e-12,
}

// Grid partitions a validated polygon or multipolygon extent at the given
// zoom level. Every tile intersecting the extent lands in exactly one group
// and no tile is shared between groups.
func Grid(extent geom.Geometry, zoom int, cfg Config) ([]Group, error) {
	if cfg.RowHeight <= 0 || cfg.MaxGroupWidth <= 0 {
		return nil, Error.New("invalid config: row height %d, max width %d", cfg.RowHeight, cfg.MaxGroupWidth)
	}
	if extent.IsEmpty() {
		return nil, Error.New("empty extent")
	}

	min, max, ok := extent.Envelope().MinMaxXYs()
	if !ok {
		return nil, Error.New("extent has no envelope")
	}

	west, east := min.X, max.X
	north, south := max.Y, min.Y

	tyMin := tile.LatToTileY(north, zoom)
	tyMax := tile.LatToTileY(south, zoom)
	maxTileY := (1 << uint(zoom)) - 1

	var groups []Group
	nextID := FirstGroupID

	// Horizontal pass: walk north to south in steps of RowHeight tiles. The
	// row's top/bottom tile Y comes from the step loop, never re-derived from
	// a fragment's own latitudes: the Mercator round-trip makes re-derivation
	// the dominant source of off-by-one row heights.
	for rowTop := tyMin; rowTop <= tyMax; rowTop += cfg.RowHeight {
		rowBottom := rowTop + cfg.RowHeight - 1
		if rowBottom > maxTileY {
			rowBottom = maxTileY
		}

		rowNorth, _ := tile.TileToLatLon(0, rowTop, zoom)
		rowSouth, _ := tile.TileToLatLon(0, rowBottom+1, zoom)

		row := geom.NewEnvelope(
			geom.XY{X: west, Y: rowSouth},
			geom.XY{X: east, Y: rowNorth},
		).AsGeometry()

		clipped, err := geom.Intersection(row, extent)
		if err != nil {
			return nil, Error.New("row intersection: %v", err)
		}

		fragments := polygonFragments(clipped, cfg.AreaEpsilon)
		sort.Slice(fragments, func(i, j int) bool {
			iMin, _, _ := fragments[i].Envelope().MinMaxXYs()
			jMin, _, _ := fragments[j].Envelope().MinMaxXYs()
			return iMin.X < jMin.X
		})

		// Vertical pass: split each fragment's tile X span into near-equal
		// segments no wider than MaxGroupWidth. The last segment absorbs the
		// remainder instead of being clipped, so there are no sliver groups.
		//
		// Facing edges of two fragments can land inside the same tile
		// column (disjoint multipolygons, notches narrower than a tile).
		// The western fragment claims the column; later fragments start
		// east of every column already claimed in this row.
		claimed := -1
		for _, fragment := range fragments {
			fMin, fMax, ok := fragment.Envelope().MinMaxXYs()
			if !ok {
				continue
			}
			xMin, xMax, ok := tileSpan(fMin.X, fMax.X, zoom)
			if !ok {
				continue
			}
			if xMin <= claimed {
				xMin = claimed + 1
			}
			if xMax < xMin {
				continue
			}
			claimed = xMax

			width := xMax - xMin + 1
			segments := (width + cfg.MaxGroupWidth - 1) / cfg.MaxGroupWidth
			base := width / segments

			start := xMin
			for i := 0; i < segments; i++ {
				end := start + base - 1
				if i == segments-1 {
					end = xMax
				}
				groups = append(groups, Group{
					ID:  nextID,
					Box: Box{XMin: start, XMax: end, YMin: rowTop, YMax: rowBottom},
				})
				nextID++
				start = end + 1
			}
		}
	}

	if len(groups) == 0 {
		return nil, Error.New("extent produced no groups")
	}
	return groups, nil
}

// tileSpan maps a longitude interval onto an inclusive tile column span.
// An eastern edge sitting exactly on a tile boundary belongs to the tile
// west of it; a degenerate span is skipped.
func tileSpan(west, east float64, zoom int) (xMin, xMax int, ok bool) {
	xMin = tile.LonToTileX(west, zoom)
	xMax = tile.LonToTileX(east, zoom)
	if xMax > xMin {
		_, edge := tile.TileToLatLon(xMax, 0, zoom)
		if edge >= east-boundaryEpsilon {
			xMax--
		}
	}
	if xMax < xMin {
		return 0, 0, false
	}
	return xMin, xMax, true
}

// polygonFragments extracts the polygonal parts of an intersection result,
// dropping anything with area at or below epsilon.
func polygonFragments(g geom.Geometry, epsilon float64) []geom.Geometry {
	var out []geom.Geometry
	keep := func(p geom.Geometry) {
		if !p.IsEmpty() && p.Area() > epsilon {
			out = append(out, p)
		}
	}
	switch g.Type() {
	case geom.TypePolygon:
		keep(g)
	case geom.TypeMultiPolygon:
		mp := g.MustAsMultiPolygon()
		for i := 0; i < mp.NumPolygons(); i++ {
			keep(mp.PolygonN(i).AsGeometry())
		}
	case geom.TypeGeometryCollection:
		gc := g.MustAsGeometryCollection()
		for i := 0; i < gc.NumGeometries(); i++ {
			sub := gc.GeometryN(i)
			if sub.Type() == geom.TypePolygon || sub.Type() == geom.TypeMultiPolygon {
				out = append(out, polygonFragments(sub, epsilon)...)
			}
		}
	}
	return out
}

// Batches assigns a fixed-size batching for non tile grid project types:
// features are consumed in input order and assigned to sequential groups of
// groupSize features, the final group keeping the remainder.
func Batches(featureCount, groupSize int) ([]Span, error) {
	if featureCount <= 0 {
		return nil, Error.New("no features to batch")
	}
	if groupSize <= 0 {
		return nil, Error.New("invalid group size %d", groupSize)
	}
	count := int(math.Ceil(float64(featureCount) / float64(groupSize)))
	spans := make([]Span, 0, count)
	for i := 0; i < count; i++ {
		first := i * groupSize
		last := first + groupSize - 1
		if last >= featureCount {
			last = featureCount - 1
		}
		spans = append(spans, Span{
			ID:    FirstGroupID + i,
			First: first,
			Last:  last,
		})
	}
	return spans, nil
}

// Span is one batch group: an inclusive range of feature indexes.
type Span struct {
	ID    int
	First int
	Last  int
}

// Count returns the number of features in the span.
func (s Span) Count() int { return s.Last - s.First + 1 }
