// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package index

import (
	"encoding/binary"
	"math"

	"github.com/zeebo/errs"
)

// rasterMagic identifies the grid codec used for band and index payloads.
var rasterMagic = []byte("CSR1")

// ErrRaster is returned for malformed raster payloads.
var ErrRaster = errs.Class("raster")

// Raster is a single-band raster grid. Invalid pixels are NaN.
type Raster struct {
	Width  int
	Height int
	Values []float64
}

// NewRaster allocates a raster of the given dimensions.
func NewRaster(width, height int) *Raster {
	return &Raster{
		Width:  width,
		Height: height,
		Values: make([]float64, width*height),
	}
}

// At returns the value at (x, y).
func (raster *Raster) At(x, y int) float64 {
	return raster.Values[y*raster.Width+x]
}

// Set assigns the value at (x, y).
func (raster *Raster) Set(x, y int, value float64) {
	raster.Values[y*raster.Width+x] = value
}

// Encode serializes the raster to the wire format: a 4-byte magic, width and
// height as uint32 little endian, then float32 values row by row.
func (raster *Raster) Encode() []byte {
	out := make([]byte, 0, len(rasterMagic)+8+4*len(raster.Values))
	out = append(out, rasterMagic...)
	out = binary.LittleEndian.AppendUint32(out, uint32(raster.Width))
	out = binary.LittleEndian.AppendUint32(out, uint32(raster.Height))
	for _, value := range raster.Values {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(value)))
	}
	return out
}

// DecodeRaster parses the wire format produced by Encode.
func DecodeRaster(data []byte) (*Raster, error) {
	if len(data) < len(rasterMagic)+8 {
		return nil, ErrRaster.New("payload too short: %d bytes", len(data))
	}
	for i, b := range rasterMagic {
		if data[i] != b {
			return nil, ErrRaster.New("bad magic")
		}
	}
	data = data[len(rasterMagic):]

	width := int(binary.LittleEndian.Uint32(data[0:4]))
	height := int(binary.LittleEndian.Uint32(data[4:8]))
	data = data[8:]

	if width <= 0 || height <= 0 {
		return nil, ErrRaster.New("invalid dimensions %dx%d", width, height)
	}
	if len(data) != 4*width*height {
		return nil, ErrRaster.New("expected %d value bytes, got %d", 4*width*height, len(data))
	}

	raster := NewRaster(width, height)
	for i := range raster.Values {
		bits := binary.LittleEndian.Uint32(data[4*i:])
		raster.Values[i] = float64(math.Float32frombits(bits))
	}
	return raster, nil
}
