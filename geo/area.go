// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package geo parses request geometries and computes their area in hectares.
package geo

import (
	"encoding/json"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/zeebo/errs"
)

// ErrGeometry is returned for malformed input polygons. It marks a user
// input error, not a transient failure.
var ErrGeometry = errs.Class("geometry")

// earthRadius is the authalic earth radius in meters, matching the sphere
// used by the Mollweide projection below.
const earthRadius = 6371008.0

// ParsePolygon decodes a request geometry. Accepted forms: a GeoJSON
// Polygon/MultiPolygon object, or a bbox array [minLon, minLat, maxLon, maxLat].
func ParsePolygon(data []byte) (orb.Geometry, error) {
	if len(data) == 0 {
		return nil, ErrGeometry.New("empty geometry")
	}

	var bbox []float64
	if err := json.Unmarshal(data, &bbox); err == nil {
		if len(bbox) != 4 {
			return nil, ErrGeometry.New("bbox must have 4 elements, got %d", len(bbox))
		}
		bound := orb.Bound{
			Min: orb.Point{bbox[0], bbox[1]},
			Max: orb.Point{bbox[2], bbox[3]},
		}
		if bound.Min.X() >= bound.Max.X() || bound.Min.Y() >= bound.Max.Y() {
			return nil, ErrGeometry.New("degenerate bbox %v", bbox)
		}
		return bound.ToPolygon(), nil
	}

	decoded, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, ErrGeometry.Wrap(err)
	}

	geometry := decoded.Geometry()
	switch geometry.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return geometry, nil
	default:
		return nil, ErrGeometry.New("unsupported geometry type %q", geometry.GeoJSONType())
	}
}

// AreaHectares computes the area of a lon/lat geometry in hectares using an
// equal-area (Mollweide) projection. The approximation is deliberate:
// geodesic precision is not required for quota accounting.
func AreaHectares(geometry orb.Geometry) (float64, error) {
	if geometry == nil {
		return 0, ErrGeometry.New("no geometry")
	}
	switch shape := geometry.(type) {
	case orb.Polygon:
		return polygonHectares(shape)
	case orb.MultiPolygon:
		var total float64
		for _, polygon := range shape {
			ha, err := polygonHectares(polygon)
			if err != nil {
				return 0, err
			}
			total += ha
		}
		return total, nil
	case orb.Bound:
		return polygonHectares(shape.ToPolygon())
	default:
		return 0, ErrGeometry.New("unsupported geometry type %q", geometry.GeoJSONType())
	}
}

// Bound returns the lon/lat bounding box of the geometry.
func Bound(geometry orb.Geometry) orb.Bound {
	return geometry.Bound()
}

func polygonHectares(polygon orb.Polygon) (float64, error) {
	if len(polygon) == 0 || len(polygon[0]) < 4 {
		return 0, ErrGeometry.New("polygon must have at least 3 distinct vertices")
	}

	projected := make(orb.Polygon, 0, len(polygon))
	for _, ring := range polygon {
		out := make(orb.Ring, 0, len(ring))
		for _, point := range ring {
			x, y, err := mollweide(point.X(), point.Y())
			if err != nil {
				return 0, err
			}
			out = append(out, orb.Point{x, y})
		}
		projected = append(projected, out)
	}

	areaM2 := math.Abs(planar.Area(projected))
	return areaM2 / 10000, nil
}

// mollweide projects lon/lat degrees to equal-area meters.
func mollweide(lon, lat float64) (x, y float64, err error) {
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return 0, 0, ErrGeometry.New("coordinate out of range: %v, %v", lon, lat)
	}

	lambda := lon * math.Pi / 180
	phi := lat * math.Pi / 180

	// solve 2θ + sin 2θ = π sin φ by Newton iteration;
	// the iteration is singular at the poles, where θ = φ exactly
	theta := phi
	if math.Abs(lat) < 90 {
		for i := 0; i < 50; i++ {
			delta := (2*theta + math.Sin(2*theta) - math.Pi*math.Sin(phi)) / (2 + 2*math.Cos(2*theta))
			theta -= delta
			if math.Abs(delta) < 1e-10 {
				break
			}
		}
	}

	x = earthRadius * math.Sqrt(8) / math.Pi * lambda * math.Cos(theta)
	y = earthRadius * math.Sqrt2 * math.Sin(theta)
	return x, y, nil
}
