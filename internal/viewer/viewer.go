package viewer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ironsheep/large-image-mcp/internal/geometry"
	"github.com/ironsheep/large-image-mcp/internal/imaging"
	"github.com/ironsheep/large-image-mcp/internal/pool"
	"github.com/ironsheep/large-image-mcp/internal/tiles"
)

var (
	// ErrDestroyed is returned by operations on a destroyed viewer.
	ErrDestroyed = errors.New("viewer: destroyed")

	// ErrNotReady is returned by Render before initialization has finished.
	ErrNotReady = errors.New("viewer: not ready")
)

// Source is an image the viewer can display. *imaging.LargeImage implements it.
type Source interface {
	Descriptor() imaging.SourceImage

	// Prepare makes the source ready for region decodes and builds the
	// preview. It is called once, off the caller's goroutine.
	Prepare(ctx context.Context) error

	// Preview returns the low-resolution rendition, or nil before Prepare.
	Preview() image.Image

	tiles.Decoder
}

type lifecycle int32

const (
	initializing lifecycle = iota
	ready
	failed
	destroyed
)

// Viewer displays one large image: it owns the tile manager, the decode
// workers and the buffer pool, and runs the control goroutine that drives
// them.
//
// All methods are safe for concurrent use. Viewport changes are asynchronous;
// queries are answered by the control goroutine after it has applied the most
// recent viewport.
type Viewer struct {
	src    Source
	cfg    Config
	mapper geometry.Mapper

	pool    *pool.Pool
	workers *tiles.Workers
	mgr     *tiles.Manager // control goroutine only

	ctx    context.Context
	cancel context.CancelFunc

	state    atomic.Int32
	showRect atomic.Bool
	needed   atomic.Bool

	mu      sync.Mutex
	pending *geometry.Viewport
	err     error

	kick       chan struct{}
	calls      chan func()
	stop       chan struct{}
	done       chan struct{}
	invalidate chan struct{}
	initDone   chan struct{}

	stopOnce sync.Once
	initOnce sync.Once
}

// New starts a viewer for src. Initialization runs in the background; use
// IsReady or IsInitializing to follow it.
func New(src Source, cfg Config) *Viewer {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	quantum := cfg.TileSize * cfg.TileSize * pool.BytesPerPixel
	v := &Viewer{
		src:        src,
		cfg:        cfg,
		mapper:     geometry.Mapper{TileSize: cfg.TileSize, Margin: cfg.PrefetchMargin},
		pool:       pool.New(cfg.BudgetBytes, quantum),
		ctx:        ctx,
		cancel:     cancel,
		kick:       make(chan struct{}, 1),
		calls:      make(chan func()),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		invalidate: make(chan struct{}, 1),
		initDone:   make(chan struct{}),
	}
	v.needed.Store(true)
	v.workers = tiles.StartWorkers(ctx, cfg.Workers, src)
	v.mgr = tiles.NewManager(v.pool, v.workers, tiles.ManagerConfig{
		MaxDecoding:      cfg.Workers,
		ExpiredRetention: cfg.ExpiredRetention,
	}, v.signal)

	go v.run()
	return v
}

func (v *Viewer) run() {
	defer close(v.done)

	prepared := make(chan error, 1)
	go func() {
		prepared <- v.src.Prepare(v.ctx)
	}()

	results := v.workers.Results()
	for {
		select {
		case err := <-prepared:
			prepared = nil
			v.initialized(err)

		case <-v.kick:
			v.applyPending()

		case fn := <-v.calls:
			v.applyPending()
			fn()

		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			v.mgr.HandleResult(res)

		case <-v.stop:
			v.teardown(prepared, results)
			return
		}
	}
}

func (v *Viewer) initialized(err error) {
	defer v.initOnce.Do(func() { close(v.initDone) })

	desc := v.src.Descriptor()
	if err != nil {
		v.mu.Lock()
		v.err = fmt.Errorf("failed to initialize %s: %w", desc.URI, err)
		v.mu.Unlock()
		v.state.Store(int32(failed))
		tiles.Logger().Warn("viewer initialization failed",
			slog.String("uri", desc.URI), slog.String("error", err.Error()))
		return
	}

	// A preview that already holds every source pixel leaves nothing for
	// tiles to add.
	if p := v.src.Preview(); p != nil && p.Bounds().Size() == desc.Size() {
		v.needed.Store(false)
	}
	v.state.Store(int32(ready))
	tiles.Logger().Info("viewer ready",
		slog.String("uri", desc.URI),
		slog.Int("width", desc.Width), slog.Int("height", desc.Height),
		slog.Bool("tiles_needed", v.needed.Load()))

	v.applyPending()
	v.signal()
}

// applyPending hands the latest viewport to the manager. Viewports that
// arrive while initializing wait in the mailbox.
func (v *Viewer) applyPending() {
	if lifecycle(v.state.Load()) != ready {
		return
	}
	v.mu.Lock()
	vp := v.pending
	v.pending = nil
	v.mu.Unlock()
	if vp == nil || !v.needed.Load() {
		return
	}

	mapping := v.mapper.Map(*vp, v.src.Descriptor().Size())
	if mapping.Empty() {
		tiles.Logger().Debug("viewport ignored",
			slog.String("view_rect", vp.ViewRect.String()),
			slog.Float64("scale", vp.Scale))
		return
	}
	v.mgr.Update(mapping)
}

func (v *Viewer) teardown(prepared chan error, results <-chan tiles.Result) {
	v.mgr.Terminate()
	v.workers.Stop()
	if results != nil {
		for res := range results {
			v.mgr.HandleResult(res)
		}
	}
	// The source must not be closed under a running Prepare.
	if prepared != nil {
		<-prepared
	}
	v.pool.Close()
	v.state.Store(int32(destroyed))
	v.initOnce.Do(func() { close(v.initDone) })

	stats := v.pool.Stats()
	tiles.Logger().Info("viewer destroyed",
		slog.String("uri", v.src.Descriptor().URI),
		slog.Int64("in_use", stats.InUse),
		slog.Int("allocs", stats.Allocs),
		slog.Int("reuses", stats.Reuses))
}

// call runs fn on the control goroutine and waits for it. It reports false if
// the viewer has been destroyed.
func (v *Viewer) call(fn func()) bool {
	finished := make(chan struct{})
	select {
	case v.calls <- func() { fn(); close(finished) }:
		<-finished
		return true
	case <-v.done:
		return false
	}
}

// signal requests a redraw. Signals coalesce while nobody is listening.
func (v *Viewer) signal() {
	select {
	case v.invalidate <- struct{}{}:
	default:
	}
}

// OnViewportChanged records vp as the current viewport and returns at once.
// Only the most recent viewport is applied if several arrive before the
// control goroutine catches up. Degenerate viewports are ignored, and so is
// every viewport after Destroy.
func (v *Viewer) OnViewportChanged(vp geometry.Viewport) {
	v.mu.Lock()
	v.pending = &vp
	v.mu.Unlock()

	select {
	case v.kick <- struct{}{}:
	default:
	}
}

// IsReady reports whether initialization finished successfully and the viewer
// has not been destroyed.
func (v *Viewer) IsReady() bool {
	return lifecycle(v.state.Load()) == ready
}

// IsInitializing reports whether the source is still being prepared.
func (v *Viewer) IsInitializing() bool {
	return lifecycle(v.state.Load()) == initializing
}

// Initialized is closed once initialization has succeeded or failed, or the
// viewer has been destroyed.
func (v *Viewer) Initialized() <-chan struct{} {
	return v.initDone
}

// Err returns the initialization error, if any.
func (v *Viewer) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Source returns the descriptor of the displayed image.
func (v *Viewer) Source() imaging.SourceImage {
	return v.src.Descriptor()
}

// TileSize returns the tile edge in decoded pixels.
func (v *Viewer) TileSize() int {
	return v.cfg.TileSize
}

// Invalidations delivers a value whenever the picture may have changed: the
// preview became available, or a tile became ready or expired.
func (v *Viewer) Invalidations() <-chan struct{} {
	return v.invalidate
}

// SetShowTileRect toggles tile outlines in Render. It has no effect on
// decoding.
func (v *Viewer) SetShowTileRect(show bool) {
	v.showRect.Store(show)
}

// ShowTileRect reports whether Render outlines tiles.
func (v *Viewer) ShowTileRect() bool {
	return v.showRect.Load()
}

// TileList returns every tile the viewer tracks.
func (v *Viewer) TileList() []tiles.Info {
	var out []tiles.Info
	v.call(func() { out = v.mgr.Tiles() })
	return out
}

// TilesAllocationByteCount returns the bytes held by tile buffers.
func (v *Viewer) TilesAllocationByteCount() int64 {
	var n int64
	v.call(func() { n = v.mgr.AllocationByteCount() })
	return n
}

// DecodeRect returns the area covered by the current tiles in view space.
func (v *Viewer) DecodeRect() image.Rectangle {
	var r image.Rectangle
	v.call(func() { r = v.mgr.Mapping().DecodeRect })
	return r
}

// DecodeSrcRect returns the area covered by the current tiles in source
// pixels.
func (v *Viewer) DecodeSrcRect() image.Rectangle {
	var r image.Rectangle
	v.call(func() { r = v.mgr.Mapping().DecodeSrcRect })
	return r
}

// Snapshot collects the diagnostic state of the viewer in one consistent read.
func (v *Viewer) Snapshot() Snapshot {
	s := Snapshot{
		Source:       v.src.Descriptor(),
		Ready:        v.IsReady(),
		Initializing: v.IsInitializing(),
		Destroyed:    lifecycle(v.state.Load()) == destroyed,
		TilesNeeded:  v.needed.Load(),
		TileSize:     v.cfg.TileSize,
		ShowTileRect: v.ShowTileRect(),
	}
	if err := v.Err(); err != nil {
		s.Error = err.Error()
	}
	if p := v.src.Preview(); p != nil {
		s.PreviewSize = p.Bounds().Size()
	}

	v.call(func() {
		m := v.mgr.Mapping()
		s.Scale = m.Scale
		s.VisibleRect = m.SrcRect
		s.SampleSize = m.SampleSize
		s.DecodeRect = m.DecodeRect
		s.DecodeSrcRect = m.DecodeSrcRect
		s.Tiles = v.mgr.Tiles()
		s.TileBytes = v.mgr.AllocationByteCount()
		s.Generation = v.mgr.Generation()
		s.Pool = v.pool.Stats()
	})
	s.Destroyed = lifecycle(v.state.Load()) == destroyed
	return s
}

// Render composites the current viewport: the preview as a fallback, ready
// tiles on top, and tile outlines when enabled. Before the first viewport the
// whole image is rendered at preview resolution.
func (v *Viewer) Render() (*image.NRGBA, error) {
	var (
		out *image.NRGBA
		err error
	)
	ok := v.call(func() {
		switch lifecycle(v.state.Load()) {
		case ready:
		case failed:
			err = v.Err()
			return
		default:
			err = ErrNotReady
			return
		}
		out, err = imaging.Compose(v.scene())
	})
	if !ok {
		return nil, ErrDestroyed
	}
	return out, err
}

// scene describes the current picture. Tile images alias pool buffers, so the
// scene must be consumed on the control goroutine.
func (v *Viewer) scene() imaging.Scene {
	desc := v.src.Descriptor()
	preview := v.src.Preview()
	s := imaging.Scene{
		Preview:      preview,
		SourceSize:   desc.Size(),
		ShowTileRect: v.ShowTileRect(),
	}

	m := v.mgr.Mapping()
	if m.Empty() {
		s.Region = image.Rectangle{Max: desc.Size()}
		if preview != nil {
			s.Scale = float64(preview.Bounds().Dx()) / float64(desc.Width)
		}
		return s
	}
	s.Region = m.SrcRect
	s.Scale = m.Scale

	for _, info := range v.mgr.Tiles() {
		layer := imaging.TileLayer{
			Rect:  info.Rect,
			State: info.State,
			Label: fmt.Sprintf("%d,%d", info.Row, info.Col),
		}
		if info.State == tiles.Ready.String() {
			if t, ok := v.mgr.Tile(info.Row, info.Col); ok {
				layer.Image = t.Image()
			}
		}
		s.Tiles = append(s.Tiles, layer)
	}
	return s
}

// Destroy cancels in-flight decodes, releases every tile buffer and stops the
// control goroutine. It waits for an initialization that is still running.
// Later viewport changes are ignored. Destroy is idempotent.
func (v *Viewer) Destroy() {
	v.stopOnce.Do(func() {
		v.cancel()
		close(v.stop)
	})
	<-v.done
}
