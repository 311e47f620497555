// Package viewer is the façade over the tile engine for one displayed image.
//
// A Viewer owns a buffer pool, a tile manager and a set of decode workers, and
// runs a control goroutine that is the only code touching tile state. Callers
// interact with it from any goroutine:
//
//	v := viewer.New(img, viewer.DefaultConfig())
//	defer v.Destroy()
//
//	v.OnViewportChanged(geometry.Viewport{ViewRect: r, Scale: 0.5})
//	for range v.Invalidations() {
//	    frame, err := v.Render()
//	    ...
//	}
//
// # Initialization
//
// New returns at once. The source is prepared in the background; until that
// finishes IsInitializing reports true and viewport changes are held. The most
// recent one is applied as soon as the viewer becomes ready.
//
// # Viewport Changes
//
// OnViewportChanged never blocks. Viewports are kept in a single-slot mailbox,
// so a burst of pan events costs one tile computation. Queries such as
// TileList apply the pending viewport first, so a caller always observes the
// effect of its own latest change.
//
// # Teardown
//
// Destroy cancels decodes in flight, waits for every worker to hand its buffer
// back, releases all tile buffers and closes the pool. The viewer answers
// queries with zero values afterwards.
package viewer
