package geo

import (
	"errors"
	"sync/atomic"
)

// Index resolves a coordinate to the first containing area in load order.
// Resolve is safe to call concurrently with Load.
type Index struct {
	areas atomic.Pointer[[]Area]
}

func NewIndex() *Index {
	ix := &Index{}
	empty := []Area{}
	ix.areas.Store(&empty)
	return ix
}

// Load replaces the active area set. Malformed areas are rejected individually, each reported as a
// *MalformedAreaError in the joined error; every valid area is published in a single swap.
func (ix *Index) Load(areas []Area) error {
	valid := make([]Area, 0, len(areas))
	seen := make(map[string]struct{}, len(areas))
	var errs []error
	for i, a := range areas {
		if err := ValidateArea(a); err != nil {
			errs = append(errs, &MalformedAreaError{Name: a.Name, Index: i, Reason: err.Error()})
			continue
		}
		if _, dup := seen[a.Name]; dup {
			errs = append(errs, &MalformedAreaError{Name: a.Name, Index: i, Reason: "duplicate name"})
			continue
		}
		seen[a.Name] = struct{}{}
		valid = append(valid, a)
	}
	ix.areas.Store(&valid)
	return errors.Join(errs...)
}

// Resolve returns the first area, in load order, whose boundary contains lat/lon.
func (ix *Index) Resolve(lat, lon float64) (Area, bool) {
	for _, a := range *ix.areas.Load() {
		if a.Contains(lat, lon) {
			return a, true
		}
	}
	return Area{}, false
}

// Areas returns a copy of the active set in load order.
func (ix *Index) Areas() []Area {
	cur := *ix.areas.Load()
	out := make([]Area, len(cur))
	copy(out, cur)
	return out
}

func (ix *Index) Len() int { return len(*ix.areas.Load()) }
