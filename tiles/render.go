// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package tiles renders vegetation index rasters as PNG map tiles.
package tiles

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/zeebo/errs"

	"github.com/cropsight/cropsight/index"
)

// Error is the default error class for the tiles package.
var Error = errs.Class("tiles")

// TileSize is the edge length of a rendered map tile in pixels.
const TileSize = 256

// rampStop anchors one color on the index value scale.
type rampStop struct {
	value float64
	color color.NRGBA
}

// ramp maps index values to a brown-yellow-green vegetation scale.
// Values between stops are interpolated linearly.
var ramp = []rampStop{
	{-1.0, color.NRGBA{R: 0x6e, G: 0x46, B: 0x2c, A: 0xff}},
	{0.0, color.NRGBA{R: 0xc9, G: 0xa2, B: 0x5c, A: 0xff}},
	{0.2, color.NRGBA{R: 0xe8, G: 0xe3, B: 0x5c, A: 0xff}},
	{0.4, color.NRGBA{R: 0x8f, G: 0xc0, B: 0x4a, A: 0xff}},
	{0.6, color.NRGBA{R: 0x3e, G: 0x8f, B: 0x2f, A: 0xff}},
	{1.0, color.NRGBA{R: 0x0b, G: 0x52, B: 0x1e, A: 0xff}},
}

// Colorize maps an index value to its ramp color. Invalid pixels come
// out fully transparent.
func Colorize(value float64) color.NRGBA {
	if math.IsNaN(value) {
		return color.NRGBA{}
	}
	if value <= ramp[0].value {
		return ramp[0].color
	}
	for i := 1; i < len(ramp); i++ {
		if value <= ramp[i].value {
			return lerp(ramp[i-1], ramp[i], value)
		}
	}
	return ramp[len(ramp)-1].color
}

func lerp(low, high rampStop, value float64) color.NRGBA {
	t := (value - low.value) / (high.value - low.value)
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + t*(float64(b)-float64(a))))
	}
	return color.NRGBA{
		R: mix(low.color.R, high.color.R),
		G: mix(low.color.G, high.color.G),
		B: mix(low.color.B, high.color.B),
		A: 0xff,
	}
}

// Render draws a raster as a PNG tile of TileSize by TileSize pixels,
// scaling with nearest neighbor sampling. The whole raster is drawn into
// every tile: the encoded rasters carry no georeferencing, so tiles are
// not windowed to web-mercator tile bounds.
func Render(raster *index.Raster) ([]byte, error) {
	return RenderSized(raster, TileSize, TileSize)
}

// RenderSized draws a raster as a PNG of the given dimensions.
func RenderSized(raster *index.Raster, width, height int) ([]byte, error) {
	if raster == nil || raster.Width == 0 || raster.Height == 0 {
		return nil, Error.New("empty raster")
	}
	if width <= 0 || height <= 0 {
		return nil, Error.New("invalid tile size %dx%d", width, height)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		sourceY := y * raster.Height / height
		for x := 0; x < width; x++ {
			sourceX := x * raster.Width / width
			img.SetNRGBA(x, y, Colorize(raster.At(sourceX, sourceY)))
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, Error.Wrap(err)
	}
	return buf.Bytes(), nil
}
