package geo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultNameProperty is the feature property carrying the neighborhood name in census
// neighborhood exports.
const DefaultNameProperty = "NAMELSAD"

// RadiusProperty marks a Point feature as a circular area of that many meters.
const RadiusProperty = "radius"

// LoadGeoJSON reads a FeatureCollection of named regions. Polygon and MultiPolygon features become
// polygon areas, Point features with a radius property become circles. Features that cannot be
// turned into a valid area are reported as joined *MalformedAreaError values next to the areas
// that could be built.
func LoadGeoJSON(r io.Reader, nameProperty string) ([]Area, error) {
	if nameProperty == "" {
		nameProperty = DefaultNameProperty
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}

	var (
		areas []Area
		errs  []error
	)
	for i, f := range fc.Features {
		name := featureName(f, nameProperty)
		if name == "" {
			errs = append(errs, &MalformedAreaError{Index: i, Reason: fmt.Sprintf("missing %q property", nameProperty)})
			continue
		}
		b, err := featureBoundary(f)
		if err == nil {
			err = b.Validate()
		}
		if err != nil {
			errs = append(errs, &MalformedAreaError{Name: name, Index: i, Reason: err.Error()})
			continue
		}
		areas = append(areas, Area{Name: name, Boundary: b})
	}
	return areas, errors.Join(errs...)
}

// LoadFile opens path and calls LoadGeoJSON.
func LoadFile(path, nameProperty string) ([]Area, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open areas: %w", err)
	}
	defer f.Close()
	return LoadGeoJSON(f, nameProperty)
}

func featureName(f *geojson.Feature, prop string) string {
	for _, key := range []string{prop, "name"} {
		if s, ok := f.Properties[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func featureBoundary(f *geojson.Feature) (Boundary, error) {
	switch g := f.Geometry.(type) {
	case orb.Polygon:
		return Polygon(g), nil
	case orb.MultiPolygon:
		return MultiPolygon(g), nil
	case orb.Point:
		radius, ok := f.Properties[RadiusProperty].(float64)
		if !ok {
			return nil, fmt.Errorf("point feature needs a numeric %q property", RadiusProperty)
		}
		return Circle{Center: g, RadiusMeters: radius}, nil
	case nil:
		return nil, fmt.Errorf("missing geometry")
	default:
		return nil, fmt.Errorf("unsupported geometry type %s", g.GeoJSONType())
	}
}
