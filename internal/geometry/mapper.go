package geometry

import (
	"image"
	"math"
	"sort"
)

// DefaultTileSize is the edge length of a tile in decoded pixels.
const DefaultTileSize = 512

const maxSampleSize = 1 << 16

// Viewport describes what the view currently shows.
type Viewport struct {
	// ViewRect is the visible rectangle in view space.
	ViewRect image.Rectangle

	// Scale is the number of view pixels per source pixel.
	Scale float64
}

// Cell is one tile grid cell at a particular sample size.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`

	// Rect is the cell's rectangle in source space, clipped to the image.
	Rect image.Rectangle `json:"rect"`

	SampleSize int `json:"sample_size"`

	// Margin is true for prefetch cells outside the visible rectangle.
	Margin bool `json:"margin"`

	// Dist is the squared distance from the cell centre to the centre of the
	// visible source rectangle.
	Dist float64 `json:"dist"`
}

// Key returns the cell's grid coordinates as a point (X = col, Y = row).
func (c Cell) Key() image.Point {
	return image.Pt(c.Col, c.Row)
}

// DecodedSize returns the dimensions of the cell once decoded at its sample size.
func (c Cell) DecodedSize() image.Point {
	return DecodedSize(c.Rect, c.SampleSize)
}

// Mapping is the result of mapping a viewport onto an image.
type Mapping struct {
	// SrcRect is the visible rectangle in source space.
	SrcRect image.Rectangle

	// DecodeSrcRect is the union of all cell rectangles, margin included.
	DecodeSrcRect image.Rectangle

	// DecodeRect is DecodeSrcRect expressed in view space.
	DecodeRect image.Rectangle

	SampleSize int
	Scale      float64

	// Cells are ordered by decode priority: visible before margin, then
	// nearest the centre, then ascending (row, col).
	Cells []Cell
}

// Empty reports whether the mapping requires no tiles.
func (m Mapping) Empty() bool {
	return len(m.Cells) == 0
}

// Center returns the centre of the visible source rectangle.
func (m Mapping) Center() (float64, float64) {
	return rectCenter(m.SrcRect)
}

// Mapper computes tile mappings for a fixed tile size and prefetch margin.
type Mapper struct {
	// TileSize is the tile edge in decoded pixels. Zero means DefaultTileSize.
	TileSize int

	// Margin is the number of extra cells decoded around the visible cells.
	Margin int
}

// Map maps a viewport onto an image of the given size.
//
// A degenerate viewport (empty view rectangle, non-positive scale, empty image,
// or a view entirely outside the image) yields an empty Mapping.
func (m Mapper) Map(vp Viewport, imageSize image.Point) Mapping {
	bounds := image.Rectangle{Max: imageSize}
	if vp.ViewRect.Empty() || vp.Scale <= 0 || math.IsInf(vp.Scale, 0) || math.IsNaN(vp.Scale) || bounds.Empty() {
		return Mapping{}
	}

	src := ViewToSource(vp.ViewRect, vp.Scale).Intersect(bounds)
	if src.Empty() {
		return Mapping{}
	}

	tileSize := m.TileSize
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	margin := max(m.Margin, 0)

	sample := SampleSize(vp.Scale)
	edge := tileSize * sample

	lastCol := (bounds.Dx() - 1) / edge
	lastRow := (bounds.Dy() - 1) / edge

	visCol0, visCol1 := src.Min.X/edge, (src.Max.X-1)/edge
	visRow0, visRow1 := src.Min.Y/edge, (src.Max.Y-1)/edge

	col0, col1 := max(visCol0-margin, 0), min(visCol1+margin, lastCol)
	row0, row1 := max(visRow0-margin, 0), min(visRow1+margin, lastRow)

	cx, cy := rectCenter(src)
	cells := make([]Cell, 0, (col1-col0+1)*(row1-row0+1))
	var union image.Rectangle
	for row := row0; row <= row1; row++ {
		for col := col0; col <= col1; col++ {
			r := image.Rect(col*edge, row*edge, (col+1)*edge, (row+1)*edge).Intersect(bounds)
			x, y := rectCenter(r)
			cells = append(cells, Cell{
				Row:        row,
				Col:        col,
				Rect:       r,
				SampleSize: sample,
				Margin:     row < visRow0 || row > visRow1 || col < visCol0 || col > visCol1,
				Dist:       (x-cx)*(x-cx) + (y-cy)*(y-cy),
			})
			union = union.Union(r)
		}
	}
	SortCells(cells)

	return Mapping{
		SrcRect:       src,
		DecodeSrcRect: union,
		DecodeRect:    SourceToView(union, vp.Scale),
		SampleSize:    sample,
		Scale:         vp.Scale,
		Cells:         cells,
	}
}

// SortCells orders cells by decode priority.
func SortCells(cells []Cell) {
	sort.SliceStable(cells, func(i, j int) bool {
		a, b := cells[i], cells[j]
		if a.Margin != b.Margin {
			return !a.Margin
		}
		if a.Dist != b.Dist {
			return a.Dist < b.Dist
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Col < b.Col
	})
}

// SampleSize returns the largest power of two not greater than 1/scale, and at
// least 1.
func SampleSize(scale float64) int {
	if scale <= 0 || scale >= 1 {
		return 1
	}
	sample := 1
	for sample < maxSampleSize && float64(sample*2) <= 1/scale {
		sample *= 2
	}
	return sample
}

// DecodedSize returns the size of rect after downscaling by sampleSize,
// rounding partial pixels up.
func DecodedSize(rect image.Rectangle, sampleSize int) image.Point {
	if sampleSize < 1 {
		sampleSize = 1
	}
	return image.Pt(
		(rect.Dx()+sampleSize-1)/sampleSize,
		(rect.Dy()+sampleSize-1)/sampleSize,
	)
}

// ViewToSource converts a view-space rectangle to source space. The result
// covers every source pixel that is at least partially visible.
func ViewToSource(r image.Rectangle, scale float64) image.Rectangle {
	return image.Rect(
		int(math.Floor(float64(r.Min.X)/scale)),
		int(math.Floor(float64(r.Min.Y)/scale)),
		int(math.Ceil(float64(r.Max.X)/scale)),
		int(math.Ceil(float64(r.Max.Y)/scale)),
	)
}

// SourceToView converts a source-space rectangle to view space.
func SourceToView(r image.Rectangle, scale float64) image.Rectangle {
	return image.Rect(
		int(math.Floor(float64(r.Min.X)*scale)),
		int(math.Floor(float64(r.Min.Y)*scale)),
		int(math.Ceil(float64(r.Max.X)*scale)),
		int(math.Ceil(float64(r.Max.Y)*scale)),
	)
}

func rectCenter(r image.Rectangle) (float64, float64) {
	return float64(r.Min.X+r.Max.X) / 2, float64(r.Min.Y+r.Max.Y) / 2
}
