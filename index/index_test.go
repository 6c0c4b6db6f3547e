// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package index

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raster2x2(values ...float64) *Raster {
	raster := NewRaster(2, 2)
	copy(raster.Values, values)
	return raster
}

func TestComputeNDVI(t *testing.T) {
	bands := map[string]*Raster{
		BandRed: raster2x2(0.2, 0.5, 0.0, math.NaN()),
		BandNIR: raster2x2(0.8, 0.5, 0.0, 0.7),
	}

	out, err := Compute(NDVI, bands)
	require.NoError(t, err)

	assert.InDelta(t, 0.6, out.Values[0], 1e-9)
	assert.InDelta(t, 0.0, out.Values[1], 1e-9)
	// zero denominator maps to zero, not infinity
	assert.Equal(t, 0.0, out.Values[2])
	// invalid input pixels stay invalid
	assert.True(t, math.IsNaN(out.Values[3]))
}

func TestComputeEVI(t *testing.T) {
	bands := map[string]*Raster{
		BandBlue: raster2x2(0.1, 0.1, 0.1, 0.1),
		BandRed:  raster2x2(0.2, 0.2, 0.2, 0.2),
		BandNIR:  raster2x2(0.8, 0.8, 0.8, 0.8),
	}

	out, err := Compute(EVI, bands)
	require.NoError(t, err)

	want := 2.5 * (0.8 - 0.2) / (0.8 + 6*0.2 - 7.5*0.1 + 1)
	assert.InDelta(t, want, out.Values[0], 1e-9)
}

func TestComputeClampsRange(t *testing.T) {
	bands := map[string]*Raster{
		BandRed: raster2x2(-0.4, 0, 0, 0),
		BandNIR: raster2x2(0.5, 0, 0, 0),
	}

	out, err := Compute(SAVI, bands)
	require.NoError(t, err)
	for _, value := range out.Values {
		if math.IsNaN(value) {
			continue
		}
		assert.GreaterOrEqual(t, value, -1.0)
		assert.LessOrEqual(t, value, 1.0)
	}
}

func TestComputeMissingBand(t *testing.T) {
	_, err := Compute(GNDVI, map[string]*Raster{
		BandNIR: raster2x2(1, 1, 1, 1),
	})
	require.Error(t, err)
}

func TestComputeDimensionMismatch(t *testing.T) {
	_, err := Compute(NDVI, map[string]*Raster{
		BandRed: NewRaster(2, 2),
		BandNIR: NewRaster(3, 3),
	})
	require.Error(t, err)
}

func TestRequiredBands(t *testing.T) {
	for typ, want := range map[Type][]string{
		NDVI:  {BandRed, BandNIR},
		EVI:   {BandBlue, BandRed, BandNIR},
		SAVI:  {BandRed, BandNIR},
		GNDVI: {BandGreen, BandNIR},
		NDRE:  {BandRedEdge, BandNIR},
	} {
		bands, err := RequiredBands(typ)
		require.NoError(t, err)
		assert.Equal(t, want, bands)
	}

	_, err := RequiredBands("MAGIC")
	require.Error(t, err)
	assert.False(t, Valid("MAGIC"))
}

func TestLowercaseNames(t *testing.T) {
	// clients send lowercase index names, the API routes pass them through
	for _, name := range []Type{"ndvi", "evi", "savi", "gndvi", "ndre"} {
		assert.True(t, Valid(name), "index %q", name)
	}

	bands, err := RequiredBands("ndvi")
	require.NoError(t, err)
	assert.Equal(t, []string{BandRed, BandNIR}, bands)

	input := map[string]*Raster{
		BandRed: raster2x2(0.2, 0.2, 0.2, 0.2),
		BandNIR: raster2x2(0.8, 0.8, 0.8, 0.8),
	}
	lower, err := Compute("ndvi", input)
	require.NoError(t, err)
	upper, err := Compute(NDVI, input)
	require.NoError(t, err)
	assert.Equal(t, upper.Values, lower.Values)
}

func TestStats(t *testing.T) {
	raster := raster2x2(0.1, 0.3, 0.5, math.NaN())
	stats := Stats(raster)

	assert.InDelta(t, 0.3, stats.Mean, 1e-9)
	assert.InDelta(t, 0.1, stats.Min, 1e-9)
	assert.InDelta(t, 0.5, stats.Max, 1e-9)
	assert.InDelta(t, math.Sqrt(2.0/75), stats.StdDev, 1e-9)
	assert.Equal(t, 3, stats.PixelCount)
}

func TestStatsAllInvalid(t *testing.T) {
	raster := raster2x2(math.NaN(), math.NaN(), math.NaN(), math.NaN())
	assert.Equal(t, Statistics{}, Stats(raster))
}

func TestRasterRoundTrip(t *testing.T) {
	raster := raster2x2(0.25, -1, 1, math.NaN())

	decoded, err := DecodeRaster(raster.Encode())
	require.NoError(t, err)
	require.Equal(t, raster.Width, decoded.Width)
	require.Equal(t, raster.Height, decoded.Height)

	for i := range raster.Values {
		if math.IsNaN(raster.Values[i]) {
			assert.True(t, math.IsNaN(decoded.Values[i]))
			continue
		}
		assert.Equal(t, raster.Values[i], decoded.Values[i])
	}
}

func TestDecodeRasterRejectsGarbage(t *testing.T) {
	_, err := DecodeRaster(nil)
	require.Error(t, err)

	_, err = DecodeRaster([]byte("not a raster at all"))
	require.Error(t, err)

	// truncated values section
	data := NewRaster(4, 4).Encode()
	_, err = DecodeRaster(data[:len(data)-2])
	require.Error(t, err)
}
