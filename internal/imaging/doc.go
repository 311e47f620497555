// Package imaging opens large source images and serves them to the tile engine.
//
// A LargeImage is opened from a memory-mapped file or from bytes already in
// memory. Opening reads only the header, which is enough to describe the image
// (SourceImage) and plan a tile grid. Prepare decodes the pixels once and
// builds a low-resolution preview; DecodeRegion then serves any rectangle at a
// power-of-two sample size, which is the decode capability the tile workers
// call.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - For regions, Min is inclusive (top-left) and Max is exclusive
//     (bottom-right), following image.Rectangle.
//
// # Formats
//
// PNG, JPEG and GIF are decoded by the standard library; BMP, TIFF and WebP by
// golang.org/x/image. The MIME type reported in SourceImage is derived from the
// detected format, not the file extension.
//
// # Rendering
//
// Compose draws what a viewer shows for a region: the preview stretched as a
// fallback, every ready tile on top, and optionally an outline per tile
// coloured by its state (see StateColor). EncodePNG turns the result into a
// base64 PNG for transport.
//
// # Thread Safety
//
// LargeImage is safe for concurrent use once opened. Prepare may be called from
// several goroutines; only the first call decodes.
package imaging
