package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/anthonynsimon/bild/blend"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TileLayer is one tile as seen by the compositor.
type TileLayer struct {
	// Rect is the tile's cell in source pixels.
	Rect image.Rectangle

	// State is the tile's lifecycle state name. It selects the outline colour.
	State string

	// Label is drawn in the outline's top-left corner when tile rects are shown.
	Label string

	// Image holds the decoded pixels, or nil if the tile is not ready.
	Image image.Image
}

// Scene describes what to composite.
type Scene struct {
	// Preview is the low-resolution rendition of the whole image.
	Preview image.Image

	// SourceSize is the full-resolution image size.
	SourceSize image.Point

	// Region is the part of the image to render, in source pixels.
	Region image.Rectangle

	// Scale converts source pixels to output pixels.
	Scale float64

	Tiles []TileLayer

	// ShowTileRect outlines every tile and labels it.
	ShowTileRect bool
}

// Compose renders the scene the way a viewer draws it: the preview stretched
// over the region as a fallback, ready tiles pasted on top, then the optional
// tile outlines.
//
// Returns an error if the region is empty, lies outside the image, or there is
// no preview to draw from.
func Compose(s Scene) (*image.NRGBA, error) {
	if s.Preview == nil {
		return nil, fmt.Errorf("no preview to render")
	}
	bounds := image.Rectangle{Max: s.SourceSize}
	region := s.Region.Intersect(bounds)
	if region.Empty() || s.Scale <= 0 {
		return nil, fmt.Errorf("invalid render region %v at scale %g", s.Region, s.Scale)
	}

	outW := int(math.Ceil(float64(region.Dx()) * s.Scale))
	outH := int(math.Ceil(float64(region.Dy()) * s.Scale))
	out := imaging.Resize(previewRegion(s.Preview, s.SourceSize, region), outW, outH, imaging.Linear)

	for _, t := range s.Tiles {
		if t.Image == nil {
			continue
		}
		dst := placeRect(t.Rect, region, s.Scale)
		if dst.Empty() {
			continue
		}
		scaled := imaging.Resize(t.Image, dst.Dx(), dst.Dy(), imaging.Box)
		out = imaging.Paste(out, scaled, dst.Min)
	}

	if !s.ShowTileRect {
		return out, nil
	}

	overlay := image.NewRGBA(out.Bounds())
	for _, t := range s.Tiles {
		dst := placeRect(t.Rect, region, s.Scale)
		if !dst.Overlaps(overlay.Bounds()) {
			continue
		}
		c := StateColor(t.State)
		drawOutline(overlay, dst, c)
		if t.Label != "" {
			drawLabel(overlay, dst.Min.X+3, dst.Min.Y+12, t.Label, c)
		}
	}
	return imaging.Clone(blend.Normal(out, overlay)), nil
}

// StateColor returns the outline colour for a tile state.
func StateColor(state string) color.RGBA {
	var c colorful.Color
	switch state {
	case "pending":
		c = colorful.Hsv(210, 0.8, 1)
	case "decoding":
		c = colorful.Hsv(45, 0.9, 1)
	case "ready":
		c = colorful.Hsv(120, 0.8, 0.9)
	case "expired":
		c = colorful.Hsv(0, 0.85, 1)
	default:
		c = colorful.Hsv(0, 0, 0.6)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// previewRegion crops the part of the preview that corresponds to region.
func previewRegion(preview image.Image, sourceSize image.Point, region image.Rectangle) image.Image {
	pb := preview.Bounds()
	sx := float64(pb.Dx()) / float64(sourceSize.X)
	sy := float64(pb.Dy()) / float64(sourceSize.Y)

	r := image.Rect(
		int(math.Floor(float64(region.Min.X)*sx)),
		int(math.Floor(float64(region.Min.Y)*sy)),
		int(math.Ceil(float64(region.Max.X)*sx)),
		int(math.Ceil(float64(region.Max.Y)*sy)),
	).Add(pb.Min).Intersect(pb)
	if r.Empty() {
		r = image.Rectangle{Min: pb.Min, Max: pb.Min.Add(image.Pt(1, 1))}
	}
	return imaging.Crop(preview, r)
}

// placeRect maps a source rectangle into the output of a region rendered at
// scale.
func placeRect(r, region image.Rectangle, scale float64) image.Rectangle {
	r = r.Sub(region.Min)
	return image.Rect(
		int(math.Round(float64(r.Min.X)*scale)),
		int(math.Round(float64(r.Min.Y)*scale)),
		int(math.Round(float64(r.Max.X)*scale)),
		int(math.Round(float64(r.Max.Y)*scale)),
	)
}

// drawOutline draws a one-pixel border just inside r.
func drawOutline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1),
		image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y),
		image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), u, image.Point{}, draw.Src)
	}
}

// drawLabel draws text with its baseline at (x, y).
func drawLabel(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
