// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

// Package tile implements pure spherical-Mercator tile math. Task ids and
// imagery URLs derived here are persisted and compared across runs, so every
// function must be bit-for-bit reproducible.
package tile

import (
	"math"
	"strconv"
	"strings"
)

// Size is the edge length of a map tile in pixels.
const Size = 256

// Web-Mercator latitude clamp.
const (
	MinLatitude = -85.05112878
	MaxLatitude = 85.05112878

	MinLongitude = -180.0
	MaxLongitude = 180.0
)

func clip(n, min, max float64) float64 {
	return math.Min(math.Max(n, min), max)
}

// MapSize returns the width/height of the world map in pixels at a zoom level.
func MapSize(zoom int) float64 {
	return float64(uint64(Size) << uint(zoom))
}

// LatLonToPixel converts WGS84 coordinates into global pixel coordinates at
// the given zoom level.
func LatLonToPixel(lat, lon float64, zoom int) (px, py float64) {
	lat = clip(lat, MinLatitude, MaxLatitude)
	lon = clip(lon, MinLongitude, MaxLongitude)

	x := (lon + 180) / 360
	sinLat := math.Sin(lat * math.Pi / 180)
	y := 0.5 - math.Log((1+sinLat)/(1-sinLat))/(4*math.Pi)

	size := MapSize(zoom)
	px = clip(x*size+0.5, 0, size-1)
	py = clip(y*size+0.5, 0, size-1)
	return px, py
}

// PixelToTile converts global pixel coordinates into a tile address.
func PixelToTile(px, py float64) (tx, ty int) {
	return int(px / Size), int(py / Size)
}

// TileToLatLon returns the WGS84 coordinates of the north-west corner of a
// tile. The south-east corner is the north-west corner of (tx+1, ty+1).
func TileToLatLon(tx, ty, zoom int) (lat, lon float64) {
	size := MapSize(zoom)
	x := clip(float64(tx)*Size, 0, size)/size - 0.5
	y := 0.5 - clip(float64(ty)*Size, 0, size)/size

	lat = 90 - 360*math.Atan(math.Exp(-y*2*math.Pi))/math.Pi
	lon = 360 * x
	return lat, lon
}

// LonToTileX returns the tile column containing the given longitude.
func LonToTileX(lon float64, zoom int) int {
	px, _ := LatLonToPixel(0, lon, zoom)
	tx, _ := PixelToTile(px, 0)
	return tx
}

// LatToTileY returns the tile row containing the given latitude.
func LatToTileY(lat float64, zoom int) int {
	_, py := LatLonToPixel(lat, 0, zoom)
	_, ty := PixelToTile(0, py)
	return ty
}

// Bounds returns the WGS84 bounding box of a tile.
func Bounds(tx, ty, zoom int) (north, west, south, east float64) {
	north, west = TileToLatLon(tx, ty, zoom)
	south, east = TileToLatLon(tx+1, ty+1, zoom)
	return north, west, south, east
}

// Polygon renders a tile's bounding box as well-known text.
func Polygon(tx, ty, zoom int) string {
	north, west, south, east := Bounds(tx, ty, zoom)

	coord := func(lon, lat float64) string {
		return strconv.FormatFloat(lon, 'f', -1, 64) + " " + strconv.FormatFloat(lat, 'f', -1, 64)
	}
	ring := []string{
		coord(west, north),
		coord(east, north),
		coord(east, south),
		coord(west, south),
		coord(west, north),
	}
	return "POLYGON((" + strings.Join(ring, ",") + "))"
}

// QuadKey encodes a tile address as a base-4 string, one digit per zoom
// level, from the interleaved bits of tx and ty.
func QuadKey(tx, ty, zoom int) string {
	digits := make([]byte, 0, zoom)
	for i := zoom; i > 0; i-- {
		digit := byte('0')
		mask := 1 << uint(i-1)
		if tx&mask != 0 {
			digit++
		}
		if ty&mask != 0 {
			digit += 2
		}
		digits = append(digits, digit)
	}
	return string(digits)
}
