// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package index implements vegetation index arithmetic and zonal statistics
// over band rasters.
package index

import (
	"math"
	"strings"

	"github.com/zeebo/errs"
)

// Error is the default index errs class.
var Error = errs.Class("index")

// Type identifies a vegetation index formula.
type Type string

// Supported vegetation indices.
const (
	NDVI  Type = "NDVI"
	EVI   Type = "EVI"
	SAVI  Type = "SAVI"
	GNDVI Type = "GNDVI"
	NDRE  Type = "NDRE"
)

// Sentinel-2 band names used by the formulas.
const (
	BandBlue    = "B02"
	BandGreen   = "B03"
	BandRed     = "B04"
	BandNIR     = "B08"
	BandRedEdge = "B8A"
)

// saviSoilFactor is the canonical L constant for SAVI.
const saviSoilFactor = 0.5

// Normalize maps an index name onto its canonical constant. Clients send
// lowercase names; matching is case-insensitive.
func Normalize(typ Type) Type {
	return Type(strings.ToUpper(string(typ)))
}

// RequiredBands returns the spectral bands a formula needs.
func RequiredBands(typ Type) ([]string, error) {
	switch Normalize(typ) {
	case NDVI, SAVI:
		return []string{BandRed, BandNIR}, nil
	case EVI:
		return []string{BandBlue, BandRed, BandNIR}, nil
	case GNDVI:
		return []string{BandGreen, BandNIR}, nil
	case NDRE:
		return []string{BandRedEdge, BandNIR}, nil
	default:
		return nil, Error.New("unsupported index type %q", typ)
	}
}

// Valid reports whether typ names a supported index.
func Valid(typ Type) bool {
	_, err := RequiredBands(typ)
	return err == nil
}

// Compute derives the index raster from band rasters. All bands must share
// the same dimensions. The result is clamped to [-1, 1]; pixels that are NaN
// in any input stay NaN.
func Compute(typ Type, bands map[string]*Raster) (*Raster, error) {
	typ = Normalize(typ)
	required, err := RequiredBands(typ)
	if err != nil {
		return nil, err
	}

	var width, height int
	for _, name := range required {
		band, ok := bands[name]
		if !ok {
			return nil, Error.New("band %q missing for %s", name, typ)
		}
		if width == 0 {
			width, height = band.Width, band.Height
		} else if band.Width != width || band.Height != height {
			return nil, Error.New("band %q is %dx%d, want %dx%d",
				name, band.Width, band.Height, width, height)
		}
	}

	out := NewRaster(width, height)
	for i := range out.Values {
		out.Values[i] = clamp(formula(typ, bands, i))
	}
	return out, nil
}

func formula(typ Type, bands map[string]*Raster, i int) float64 {
	switch typ {
	case NDVI:
		nir, red := bands[BandNIR].Values[i], bands[BandRed].Values[i]
		return ratio(nir-red, nir+red)
	case EVI:
		nir := bands[BandNIR].Values[i]
		red := bands[BandRed].Values[i]
		blue := bands[BandBlue].Values[i]
		return 2.5 * ratio(nir-red, nir+6*red-7.5*blue+1)
	case SAVI:
		nir, red := bands[BandNIR].Values[i], bands[BandRed].Values[i]
		return ratio(nir-red, nir+red+saviSoilFactor) * (1 + saviSoilFactor)
	case GNDVI:
		nir, green := bands[BandNIR].Values[i], bands[BandGreen].Values[i]
		return ratio(nir-green, nir+green)
	case NDRE:
		nir, rededge := bands[BandNIR].Values[i], bands[BandRedEdge].Values[i]
		return ratio(nir-rededge, nir+rededge)
	default:
		return math.NaN()
	}
}

// ratio divides, mapping a zero denominator to 0 and propagating NaN inputs.
func ratio(num, den float64) float64 {
	if math.IsNaN(num) || math.IsNaN(den) {
		return math.NaN()
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func clamp(value float64) float64 {
	if math.IsNaN(value) {
		return value
	}
	return math.Max(-1, math.Min(1, value))
}

// Statistics are zonal aggregates over the valid pixels of an index raster.
type Statistics struct {
	Mean       float64 `json:"mean"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	StdDev     float64 `json:"std"`
	PixelCount int     `json:"pixel_count"`
}

// Stats computes aggregates over all non-NaN pixels. An all-invalid raster
// yields zero statistics.
func Stats(raster *Raster) Statistics {
	var stats Statistics
	var sum float64
	first := true

	for _, value := range raster.Values {
		if math.IsNaN(value) {
			continue
		}
		if first {
			stats.Min, stats.Max = value, value
			first = false
		} else {
			stats.Min = math.Min(stats.Min, value)
			stats.Max = math.Max(stats.Max, value)
		}
		sum += value
		stats.PixelCount++
	}
	if stats.PixelCount == 0 {
		return Statistics{}
	}
	stats.Mean = sum / float64(stats.PixelCount)

	var sq float64
	for _, value := range raster.Values {
		if math.IsNaN(value) {
			continue
		}
		diff := value - stats.Mean
		sq += diff * diff
	}
	stats.StdDev = math.Sqrt(sq / float64(stats.PixelCount))
	return stats
}
