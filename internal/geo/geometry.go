// Package geo resolves coordinates to named areas.
//
// Points are orb.Point values in GeoJSON order ([lon, lat]). Polygon containment uses the
// even-odd ray casting rule directly on latitude/longitude; circles use great-circle distance.
//
// Boundary policy: rings are half-open. A point lying exactly on an edge is inside when the edge
// bounds the polygon from the west or the north, and outside when it bounds it from the east or
// the south. Circles are boundary-inclusive.
package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// ContainsRing reports whether p lies inside ring. The ring is treated as closed whether or not its
// last vertex repeats the first. Rings with fewer than three vertices never contain anything.
func ContainsRing(p orb.Point, ring orb.Ring) bool {
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	if n < 3 {
		return false
	}
	lat, lon := p.Lat(), p.Lon()
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := ring[i], ring[j]
		// exactly one endpoint at or above the point's latitude
		if (a.Lat() >= lat) == (b.Lat() >= lat) {
			continue
		}
		x := a.Lon() + (lat-a.Lat())*(b.Lon()-a.Lon())/(b.Lat()-a.Lat())
		if lon < x {
			inside = !inside
		}
	}
	return inside
}

// ContainsPolygon reports whether p is inside the outer ring of poly and outside all of its holes.
func ContainsPolygon(p orb.Point, poly orb.Polygon) bool {
	if len(poly) == 0 || !ContainsRing(p, poly[0]) {
		return false
	}
	for _, hole := range poly[1:] {
		if ContainsRing(p, hole) {
			return false
		}
	}
	return true
}

// ContainsCircle reports whether the great-circle distance from center to p is at most radius meters.
func ContainsCircle(p, center orb.Point, radiusMeters float64) bool {
	if radiusMeters <= 0 {
		return false
	}
	return geo.DistanceHaversine(center, p) <= radiusMeters
}
