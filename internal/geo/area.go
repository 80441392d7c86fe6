package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Boundary is the region covered by an Area.
type Boundary interface {
	Contains(p orb.Point) bool
	// Validate returns a human readable reason when the boundary cannot be used.
	Validate() error
}

// Area is a named geofence region. Areas are immutable once loaded.
type Area struct {
	Name     string
	Boundary Boundary
}

// Contains reports whether the area covers lat/lon.
func (a Area) Contains(lat, lon float64) bool {
	return a.Boundary != nil && a.Boundary.Contains(orb.Point{lon, lat})
}

// Polygon is an outer ring followed by optional holes.
type Polygon orb.Polygon

func (p Polygon) Contains(pt orb.Point) bool {
	if len(p) == 0 || !orb.Polygon(p).Bound().Contains(pt) {
		return false
	}
	return ContainsPolygon(pt, orb.Polygon(p))
}

func (p Polygon) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("polygon has no rings")
	}
	for i, ring := range p {
		if err := validateRing(ring); err != nil {
			return fmt.Errorf("ring %d: %w", i, err)
		}
	}
	return nil
}

// MultiPolygon covers the union of its polygons.
type MultiPolygon orb.MultiPolygon

func (m MultiPolygon) Contains(pt orb.Point) bool {
	for _, p := range m {
		if Polygon(p).Contains(pt) {
			return true
		}
	}
	return false
}

func (m MultiPolygon) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("multipolygon has no polygons")
	}
	for i, p := range m {
		if err := Polygon(p).Validate(); err != nil {
			return fmt.Errorf("polygon %d: %w", i, err)
		}
	}
	return nil
}

// Circle is a center point and a radius in meters.
type Circle struct {
	Center       orb.Point
	RadiusMeters float64
}

// NewCircle builds a circle from latitude/longitude order.
func NewCircle(lat, lon, radiusMeters float64) Circle {
	return Circle{Center: orb.Point{lon, lat}, RadiusMeters: radiusMeters}
}

func (c Circle) Contains(pt orb.Point) bool {
	return ContainsCircle(pt, c.Center, c.RadiusMeters)
}

func (c Circle) Validate() error {
	if err := validatePoint(c.Center); err != nil {
		return fmt.Errorf("center: %w", err)
	}
	if math.IsNaN(c.RadiusMeters) || math.IsInf(c.RadiusMeters, 0) || c.RadiusMeters <= 0 {
		return fmt.Errorf("radius must be a positive number of meters, got %v", c.RadiusMeters)
	}
	return nil
}

func validatePoint(p orb.Point) error {
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range", lon)
	}
	return nil
}

func validateRing(ring orb.Ring) error {
	distinct := make(map[orb.Point]struct{}, len(ring))
	for _, pt := range ring {
		if err := validatePoint(pt); err != nil {
			return err
		}
		distinct[pt] = struct{}{}
	}
	if len(distinct) < 3 {
		return fmt.Errorf("need at least 3 distinct vertices, got %d", len(distinct))
	}
	return nil
}

// ValidateArea checks the name and boundary of a single area.
func ValidateArea(a Area) error {
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	if a.Boundary == nil {
		return fmt.Errorf("boundary is required")
	}
	return a.Boundary.Validate()
}
