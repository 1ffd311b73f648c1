package mesh

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature kinds written to the "kind" property of exported features
const (
	KindBeacon    = "beacon"
	KindScanner   = "scanner"
	KindFootprint = "footprint"
)

// projectXY drops the z component; z is kept as a feature property.
func projectXY(p Point3D) orb.Point {
	return orb.Point{float64(p.X), float64(p.Y)}
}

// FootprintBound returns the XY bounding box of all beacons and scanner
// origins in the report.
func FootprintBound(r *Report) orb.Bound {
	mp := make(orb.MultiPoint, 0, len(r.Beacons)+len(r.Scanners))
	for _, b := range r.Beacons {
		mp = append(mp, projectXY(b))
	}
	for _, s := range r.Scanners {
		mp = append(mp, projectXY(s.Origin))
	}
	if len(mp) == 0 {
		return orb.Bound{}
	}
	return mp.Bound()
}

// ReportToGeoJSON exports a top-down (x,y) view of the merged frame: one Point
// feature per beacon, one per scanner origin, and the footprint polygon.
// Coordinates are frame units, not geographic degrees.
func ReportToGeoJSON(r *Report) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, b := range r.Beacons {
		f := geojson.NewFeature(projectXY(b))
		f.Properties["kind"] = KindBeacon
		f.Properties["z"] = b.Z
		fc.Append(f)
	}

	for _, s := range r.Scanners {
		f := geojson.NewFeature(projectXY(s.Origin))
		f.ID = fmt.Sprintf("scanner-%d", s.ID)
		f.Properties["kind"] = KindScanner
		f.Properties["scannerId"] = s.ID
		f.Properties["z"] = s.Origin.Z
		f.Properties["rotation"] = s.Rotation
		f.Properties["anchor"] = s.ID == r.AnchorID
		fc.Append(f)
	}

	if len(r.Beacons)+len(r.Scanners) > 0 {
		f := geojson.NewFeature(FootprintBound(r).ToPolygon())
		f.Properties["kind"] = KindFootprint
		f.Properties["beaconCount"] = r.BeaconCount
		f.Properties["maxScannerSpread"] = r.MaxScannerSpread
		fc.Append(f)
	}

	return fc
}
