// Package geo loads country boundary geometry from GeoJSON.
package geo

import (
	"context"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"co2trend/internal/config"
	"co2trend/internal/logging"
)

// Region is the merged geometry of every feature sharing one code.
type Region struct {
	Code     string
	Name     string
	Geometry orb.MultiPolygon
}

// Bound returns the region's bounding box.
func (r Region) Bound() orb.Bound {
	return r.Geometry.Bound()
}

// Boundaries indexes regions by their three-letter code.
type Boundaries struct {
	Regions []Region
	// Skipped counts features without a code or without areal geometry.
	Skipped int

	byCode map[string]int
}

// NormalizeCode trims and upper-cases a region code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Lookup returns the region for code, ignoring case and surrounding space.
func (b *Boundaries) Lookup(code string) (Region, bool) {
	i, ok := b.byCode[NormalizeCode(code)]
	if !ok {
		return Region{}, false
	}
	return b.Regions[i], true
}

// Load reads and parses the boundary file named by src.
func Load(ctx context.Context, src config.BoundarySource, log *zap.Logger) (*Boundaries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: read %s", src.Path)
	}
	b, err := Parse(data, src.CodeProperty)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: %s", src.Path)
	}
	logging.OrNop(log).Info("geo: boundaries loaded",
		zap.String("path", src.Path),
		zap.Int("regions", len(b.Regions)),
		zap.Int("skipped", b.Skipped),
	)
	return b, nil
}

// Parse decodes a FeatureCollection and keys its polygons by the string
// property codeProperty. Codes are upper-cased.
func Parse(data []byte, codeProperty string) (*Boundaries, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrap(err, "geo: decode feature collection")
	}

	b := &Boundaries{byCode: map[string]int{}}
	for _, f := range fc.Features {
		code, _ := f.Properties[codeProperty].(string)
		code = NormalizeCode(code)
		polys := polygons(f.Geometry)
		if code == "" || len(polys) == 0 {
			b.Skipped++
			continue
		}

		if i, ok := b.byCode[code]; ok {
			b.Regions[i].Geometry = append(b.Regions[i].Geometry, polys...)
			continue
		}
		name, _ := f.Properties["name"].(string)
		b.byCode[code] = len(b.Regions)
		b.Regions = append(b.Regions, Region{Code: code, Name: name, Geometry: polys})
	}
	return b, nil
}

func polygons(g orb.Geometry) orb.MultiPolygon {
	switch g := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{g}
	case orb.MultiPolygon:
		return g
	case orb.Collection:
		var out orb.MultiPolygon
		for _, sub := range g {
			out = append(out, polygons(sub)...)
		}
		return out
	default:
		return nil
	}
}
