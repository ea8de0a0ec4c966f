// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

package tile

import (
	"strconv"
	"strings"
)

// Server describes one tile imagery provider. The core never fetches
// imagery itself; a Server is only a URL template plus an API key.
type Server struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	APIKey  string `json:"apiKey"`
	Credits string `json:"credits"`
}

// Default URL templates per provider family.
var defaultTemplates = map[string]string{
	"bing":           "https://ecn.t0.tiles.virtualearth.net/tiles/a{quad_key}.jpeg?g=7505&mkt=en-US&token={key}",
	"maxar_standard": "https://services.digitalglobe.com/earthservice/tmsaccess/tms/1.0.0/DigitalGlobe%3AImageryTileService@EPSG%3A3857@jpg/{z}/{x}/{-y}.jpg?connectId={key}",
	"maxar_premium":  "https://services.digitalglobe.com/earthservice/tmsaccess/tms/1.0.0/DigitalGlobe%3AImageryTileService@EPSG%3A3857@jpg/{z}/{x}/{-y}.jpg?connectId={key}",
	"esri":           "https://services.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
	"mapbox":         "https://d.tiles.mapbox.com/v4/mapbox.satellite/{z}/{x}/{y}.jpg?access_token={key}",
}

// Template returns the server's URL template, falling back to the default
// for its provider family.
func (srv Server) Template() string {
	if srv.URL != "" {
		return srv.URL
	}
	return defaultTemplates[srv.Name]
}

// URL builds the imagery URL for one tile. The bing family encodes the tile
// address as a quad key; other providers substitute {x}, {y}, {z} and {key}
// into their template. Providers that index tile rows from the opposite pole
// use {-y}, which substitutes y' = 2^zoom - y - 1.
func URL(tx, ty, zoom int, srv Server) string {
	tpl := srv.Template()

	if strings.Contains(tpl, "{quad_key}") {
		tpl = strings.Replace(tpl, "{quad_key}", QuadKey(tx, ty, zoom), 1)
		return strings.Replace(tpl, "{key}", srv.APIKey, 1)
	}

	if strings.Contains(tpl, "{-y}") {
		flipped := (1 << uint(zoom)) - ty - 1
		tpl = strings.Replace(tpl, "{-y}", strconv.Itoa(flipped), 1)
	}
	tpl = strings.Replace(tpl, "{x}", strconv.Itoa(tx), 1)
	tpl = strings.Replace(tpl, "{y}", strconv.Itoa(ty), 1)
	tpl = strings.Replace(tpl, "{z}", strconv.Itoa(zoom), 1)
	return strings.Replace(tpl, "{key}", srv.APIKey, 1)
}
