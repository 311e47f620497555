package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/disintegration/imaging"
)

// EncodedImage is a PNG rendition of an image ready for transport.
type EncodedImage struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// DecodeRegion fills dst with the pixels of rect downscaled by sampleSize.
//
// dst must start at (0,0). Its size is normally rect divided by sampleSize,
// rounded up, but any non-empty size is accepted: the region is resampled to
// fit. The image must have been prepared.
func (l *LargeImage) DecodeRegion(ctx context.Context, rect image.Rectangle, sampleSize int, dst *image.RGBA) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := l.source()
	if full == nil {
		return ErrNotPrepared
	}

	bounds := full.Bounds()
	if rect.Empty() || !rect.In(bounds) {
		return fmt.Errorf("region %v outside image bounds %v", rect, bounds)
	}
	if sampleSize < 1 {
		return fmt.Errorf("invalid sample size %d", sampleSize)
	}
	out := dst.Bounds()
	if out.Empty() {
		return fmt.Errorf("empty destination for region %v", rect)
	}

	region := imaging.Crop(full, rect)
	if region.Bounds().Size() != out.Size() {
		region = imaging.Resize(region, out.Dx(), out.Dy(), imaging.Box)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	draw.Draw(dst, out, region, image.Point{}, draw.Src)
	return nil
}

// EncodePNG encodes img as a base64 PNG.
func EncodePNG(img image.Image) (*EncodedImage, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	b := img.Bounds()
	return &EncodedImage{
		Width:       b.Dx(),
		Height:      b.Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}
