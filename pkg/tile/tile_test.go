// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

package tile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuadKey(t *testing.T) {
	assert.Equal(t, "0", QuadKey(0, 0, 1))
	assert.Equal(t, "1", QuadKey(1, 0, 1))
	assert.Equal(t, "2", QuadKey(0, 1, 1))
	assert.Equal(t, "3", QuadKey(1, 1, 1))

	// one digit per zoom level
	assert.Len(t, QuadKey(35210, 21493, 16), 16)
	assert.Equal(t, "000", QuadKey(0, 0, 3))
}

func TestPixelRoundTrip(t *testing.T) {
	lat, lon := 48.208, 16.373 // Vienna
	zoom := 14

	px, py := LatLonToPixel(lat, lon, zoom)
	tx, ty := PixelToTile(px, py)

	nwLat, nwLon := TileToLatLon(tx, ty, zoom)
	seLat, seLon := TileToLatLon(tx+1, ty+1, zoom)

	assert.True(t, nwLat >= lat && lat >= seLat, "latitude outside tile: %v..%v", seLat, nwLat)
	assert.True(t, nwLon <= lon && lon <= seLon, "longitude outside tile: %v..%v", nwLon, seLon)
}

func TestLonToTileXBoundary(t *testing.T) {
	zoom := 18
	_, edge := TileToLatLon(131072, 0, zoom)

	// a longitude exactly on a tile boundary belongs to the eastern tile
	assert.Equal(t, 131072, LonToTileX(edge, zoom))
}

func TestPolygonBounds(t *testing.T) {
	north, west, south, east := Bounds(137316, 87338, 18)
	assert.Greater(t, north, south)
	assert.Greater(t, east, west)

	wkt := Polygon(137316, 87338, 18)
	assert.True(t, strings.HasPrefix(wkt, "POLYGON(("))
	assert.True(t, strings.HasSuffix(wkt, "))"))
}

func TestURLTemplates(t *testing.T) {
	bing := Server{Name: "bing", APIKey: "secret"}
	url := URL(1, 1, 1, bing)
	require.Contains(t, url, "a3.jpeg")
	require.Contains(t, url, "token=secret")

	esri := Server{Name: "esri"}
	assert.Equal(t,
		"https://services.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/18/87338/137316",
		URL(137316, 87338, 18, esri))

	custom := Server{Name: "custom", URL: "https://tiles.example.com/{z}/{x}/{y}.png?key={key}", APIKey: "k"}
	assert.Equal(t, "https://tiles.example.com/3/5/2.png?key=k", URL(5, 2, 3, custom))
}

func TestURLFlipsYForTMSProviders(t *testing.T) {
	srv := Server{Name: "maxar_standard", APIKey: "k"}
	url := URL(0, 0, 2, srv)

	// y' = 2^zoom - y - 1
	assert.Contains(t, url, "/2/0/3.jpg")
}

func TestURLDeterminism(t *testing.T) {
	srv := Server{Name: "bing", APIKey: "abc"}
	first := URL(35210, 21493, 16, srv)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, URL(35210, 21493, 16, srv))
	}
}
