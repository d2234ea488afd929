// Package stitching combines several scans of one sheet into a single image.
package stitching

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"go.uber.org/zap"
)

// ErrStitchFailed wraps every reason a stitch could not produce an image.
var ErrStitchFailed = errors.New("stitching: failed")

const minimumImages = 2

// Engine merges ordered source images into one encoded image.
type Engine interface {
	Stitch(ctx context.Context, images [][]byte) ([]byte, error)
}

// VerticalStitcher stacks images top to bottom, centred on a white canvas as wide as the widest source.
type VerticalStitcher struct {
	logger *zap.Logger
}

// NewVerticalStitcher constructs a VerticalStitcher.
func NewVerticalStitcher(logger *zap.Logger) *VerticalStitcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerticalStitcher{logger: logger}
}

// Stitch decodes the PNG, JPEG or GIF sources and returns the stacked image encoded as PNG.
func (s *VerticalStitcher) Stitch(ctx context.Context, images [][]byte) ([]byte, error) {
	if len(images) < minimumImages {
		return nil, fmt.Errorf("%w: at least %d images required, got %d", ErrStitchFailed, minimumImages, len(images))
	}

	decoded := make([]image.Image, 0, len(images))
	width, height := 0, 0
	for index, data := range images {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStitchFailed, err)
		}
		img, format, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: decode image %d: %w", ErrStitchFailed, index+1, err)
		}
		bounds := img.Bounds()
		if bounds.Empty() {
			return nil, fmt.Errorf("%w: image %d is empty", ErrStitchFailed, index+1)
		}
		s.logger.Debug("stitch source decoded",
			zap.Int("index", index),
			zap.String("format", format),
			zap.Int("width", bounds.Dx()),
			zap.Int("height", bounds.Dy()),
		)
		if bounds.Dx() > width {
			width = bounds.Dx()
		}
		height += bounds.Dy()
		decoded = append(decoded, img)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	offset := 0
	for _, img := range decoded {
		bounds := img.Bounds()
		left := (width - bounds.Dx()) / 2
		target := image.Rect(left, offset, left+bounds.Dx(), offset+bounds.Dy())
		draw.Draw(canvas, target, img, bounds.Min, draw.Over)
		offset += bounds.Dy()
	}

	var buffer bytes.Buffer
	if err := png.Encode(&buffer, canvas); err != nil {
		return nil, fmt.Errorf("%w: encode result: %w", ErrStitchFailed, err)
	}
	return buffer.Bytes(), nil
}
