// Package geometry maps viewport rectangles onto source-image pixel space and
// computes the tile grid the tile engine decodes.
//
// All functions are pure: they allocate their results and never retain the
// arguments.
//
// # Coordinate Systems
//
// Two coordinate systems are used:
//   - View space: pixels on screen, with the image's top-left corner drawn at
//     (0,0) and magnified by the viewport scale.
//   - Source space: pixels of the original, full-resolution image.
//
// A view coordinate v maps to the source coordinate v / scale. Rectangles follow
// the image.Rectangle convention: Min is inclusive, Max is exclusive.
//
// # Sample Size
//
// The sample size is the power-of-two downscale applied when a region is
// decoded. At scale 1 every source pixel is shown, so the sample size is 1. At
// scale 0.25 only one in four source pixels reaches the screen, so regions are
// decoded at sample size 4. Scales between powers of two round toward the finer
// decode (scale 0.3 decodes at sample size 2).
//
// # Tile Grid
//
// Tiles are squares of TileSize decoded pixels, which is TileSize*SampleSize
// source pixels. Cells along the right and bottom edges are clipped to the
// image bounds, so the grid covers the image exactly with no overlaps.
package geometry
