// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolygonGeoJSON(t *testing.T) {
	geometry, err := ParsePolygon([]byte(`{
		"type": "Polygon",
		"coordinates": [[[10.0, 45.0], [10.01, 45.0], [10.01, 45.01], [10.0, 45.01], [10.0, 45.0]]]
	}`))
	require.NoError(t, err)
	require.NotNil(t, geometry)
}

func TestParsePolygonBBox(t *testing.T) {
	geometry, err := ParsePolygon([]byte(`[10.0, 45.0, 10.01, 45.01]`))
	require.NoError(t, err)
	require.NotNil(t, geometry)
}

func TestParsePolygonRejectsInvalid(t *testing.T) {
	for _, input := range []string{
		``,
		`{}`,
		`{"type": "Point", "coordinates": [1, 2]}`,
		`[10.0, 45.0]`,
		`[10.01, 45.01, 10.0, 45.0]`,
		`not json`,
	} {
		_, err := ParsePolygon([]byte(input))
		require.Error(t, err, "input: %q", input)
		assert.True(t, ErrGeometry.Has(err), "input: %q", input)
	}
}

func TestAreaHectares(t *testing.T) {
	geometry, err := ParsePolygon([]byte(`[0.0, 0.0, 0.1, 0.1]`))
	require.NoError(t, err)

	ha, err := AreaHectares(geometry)
	require.NoError(t, err)

	// 0.1 deg at the equator is ~11.1 km, so ~12300 ha, within projection error
	assert.InEpsilon(t, 12300.0, ha, 0.02)
}

func TestAreaHectaresIdempotent(t *testing.T) {
	geometry, err := ParsePolygon([]byte(`{
		"type": "Polygon",
		"coordinates": [[[10.0, 45.0], [10.02, 45.0], [10.02, 45.015], [10.0, 45.015], [10.0, 45.0]]]
	}`))
	require.NoError(t, err)

	first, err := AreaHectares(geometry)
	require.NoError(t, err)
	second, err := AreaHectares(geometry)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Greater(t, first, 0.0)
}

func TestAreaHectaresDegeneratePolygon(t *testing.T) {
	_, err := AreaHectares(nil)
	require.Error(t, err)
}
