package stitching

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, width, height int, fill color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, fill)
		}
	}
	var buffer bytes.Buffer
	require.NoError(t, png.Encode(&buffer, img))
	return buffer.Bytes()
}

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buffer bytes.Buffer
	require.NoError(t, jpeg.Encode(&buffer, image.NewGray(image.Rect(0, 0, width, height)), nil))
	return buffer.Bytes()
}

func TestStitchStacksImagesVertically(t *testing.T) {
	stitcher := NewVerticalStitcher(nil)
	black := color.RGBA{A: 255}

	output, err := stitcher.Stitch(context.Background(), [][]byte{
		encodePNG(t, 10, 4, black),
		encodeJPEG(t, 6, 3),
		encodePNG(t, 8, 5, black),
	})
	require.NoError(t, err)

	result, format, err := image.Decode(bytes.NewReader(output))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 10, result.Bounds().Dx())
	assert.Equal(t, 12, result.Bounds().Dy())

	margin, _, _, _ := result.At(0, 8).RGBA()
	assert.Equal(t, uint32(0xffff), margin, "narrow source leaves a white margin")
	inked, _, _, _ := result.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), inked)
}

func TestStitchRequiresTwoImages(t *testing.T) {
	_, err := NewVerticalStitcher(nil).Stitch(context.Background(), [][]byte{encodeJPEG(t, 2, 2)})
	assert.ErrorIs(t, err, ErrStitchFailed)
}

func TestStitchRejectsUndecodableSource(t *testing.T) {
	_, err := NewVerticalStitcher(nil).Stitch(context.Background(), [][]byte{encodeJPEG(t, 2, 2), []byte("not an image")})
	assert.ErrorIs(t, err, ErrStitchFailed)
}
