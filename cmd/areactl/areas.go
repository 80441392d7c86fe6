package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"example.com/geosurvey/internal/geo"
)

var errRejected = errors.New("one or more areas were rejected")

// loadIndex loads path into a fresh index. Rejected areas are returned next to the index.
func loadIndex(path, prop string) (*geo.Index, []*geo.MalformedAreaError, error) {
	areas, err := geo.LoadFile(path, prop)
	bad := geo.MalformedAreas(err)
	if err != nil && len(bad) == 0 {
		return nil, nil, err
	}
	ix := geo.NewIndex()
	bad = append(bad, geo.MalformedAreas(ix.Load(areas))...)
	return ix, bad, nil
}

func boundaryKind(b geo.Boundary) string {
	switch v := b.(type) {
	case geo.Circle:
		return fmt.Sprintf("circle r=%gm", v.RadiusMeters)
	case geo.MultiPolygon:
		return fmt.Sprintf("multipolygon (%d parts)", len(v))
	case geo.Polygon:
		if len(v) > 1 {
			return fmt.Sprintf("polygon (%d holes)", len(v)-1)
		}
		return "polygon"
	default:
		return fmt.Sprintf("%T", b)
	}
}

func runValidate(path, prop string, out io.Writer) error {
	ix, bad, err := loadIndex(path, prop)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tAREA\tDETAIL")
	for _, a := range ix.Areas() {
		fmt.Fprintf(tw, "ok\t%s\t%s\n", a.Name, boundaryKind(a.Boundary))
	}
	for _, m := range bad {
		name := m.Name
		if name == "" {
			name = "#" + strconv.Itoa(m.Index)
		}
		fmt.Fprintf(tw, "rejected\t%s\t%s\n", name, m.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d accepted, %d rejected\n", ix.Len(), len(bad))
	if len(bad) > 0 {
		return errRejected
	}
	return nil
}

func runResolve(path, latArg, lonArg, prop string, out io.Writer) error {
	lat, err := strconv.ParseFloat(latArg, 64)
	if err != nil || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %q: must be a number within [-90, 90]", latArg)
	}
	lon, err := strconv.ParseFloat(lonArg, 64)
	if err != nil || lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %q: must be a number within [-180, 180]", lonArg)
	}
	ix, _, err := loadIndex(path, prop)
	if err != nil {
		return err
	}
	if a, ok := ix.Resolve(lat, lon); ok {
		fmt.Fprintln(out, a.Name)
		return nil
	}
	fmt.Fprintln(out, "none")
	return nil
}
