package tiles

import (
	"errors"
	"image"
	"log/slog"
	"sort"

	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/ironsheep/large-image-mcp/internal/geometry"
	"github.com/ironsheep/large-image-mcp/internal/pool"
)

// Dispatcher accepts decode tasks. Workers implements it.
type Dispatcher interface {
	Submit(Task) bool
}

// ManagerConfig bounds the manager's concurrency and memory retention.
type ManagerConfig struct {
	// MaxDecoding is the number of tiles allowed in the Decoding state at once.
	MaxDecoding int

	// ExpiredRetention is how many expired tiles may keep their buffers
	// until the pool needs the memory. Zero releases expired tiles at once.
	ExpiredRetention int
}

// Manager owns the tile set and drives every state transition.
//
// Manager is not safe for concurrent use. All methods must be called from the
// single control goroutine; worker results reach it through HandleResult.
type Manager struct {
	pool     *pool.Pool
	dispatch Dispatcher
	cfg      ManagerConfig
	onChange func()

	mapping    geometry.Mapping
	generation uint64
	nextTask   uint64

	// active holds the one live tile per grid cell.
	active map[image.Point]*Tile
	// order lists the active tiles in decode priority.
	order []*Tile
	// inflight maps task IDs to the tile that owns the loaned buffer.
	inflight map[uint64]*Tile
	decoding int

	// retained holds expired tiles that still own a buffer, least recently
	// needed first.
	retained *simplelru.LRU

	terminated bool
}

// NewManager creates a manager that acquires buffers from p and hands tasks to
// d. onChange, if not nil, is called whenever a tile becomes Ready or Expired.
// The manager installs itself as the pool's evictor.
func NewManager(p *pool.Pool, d Dispatcher, cfg ManagerConfig, onChange func()) *Manager {
	if cfg.MaxDecoding < 1 {
		cfg.MaxDecoding = 1
	}
	m := &Manager{
		pool:     p,
		dispatch: d,
		cfg:      cfg,
		onChange: onChange,
		active:   make(map[image.Point]*Tile),
		inflight: make(map[uint64]*Tile),
	}
	if cfg.ExpiredRetention > 0 {
		// NewLRU only fails for a non-positive size.
		m.retained, _ = simplelru.NewLRU(cfg.ExpiredRetention, func(key, _ interface{}) {
			m.release(key.(*Tile), "evicted")
		})
	}
	p.SetEvictor(m.evictOne)
	return m
}

// Update applies a new viewport mapping.
//
// Tiles whose cell is still required keep their state and generation, so an
// in-flight decode for them is neither cancelled nor duplicated. Every other
// tile is expired, and cells without a tile get a new Pending tile tagged
// with a fresh generation. A scheduling pass follows.
func (m *Manager) Update(mapping geometry.Mapping) {
	if m.terminated {
		return
	}
	m.generation++
	m.mapping = mapping

	required := make(map[image.Point]geometry.Cell, len(mapping.Cells))
	for _, c := range mapping.Cells {
		required[c.Key()] = c
	}

	var stale []*Tile
	for key, t := range m.active {
		if c, ok := required[key]; ok && t.State != Expired && sameCell(t.Cell, c) {
			t.Cell = c
			continue
		}
		stale = append(stale, t)
		delete(m.active, key)
	}

	// Farthest first, so that within one update the far tiles become the
	// oldest entries of the retained list.
	cx, cy := mapping.Center()
	sort.Slice(stale, func(i, j int) bool {
		return distance(stale[i].Cell.Rect, cx, cy) > distance(stale[j].Cell.Rect, cx, cy)
	})
	for _, t := range stale {
		m.expire(t)
	}

	created := 0
	m.order = make([]*Tile, 0, len(mapping.Cells))
	for _, c := range mapping.Cells {
		t, ok := m.active[c.Key()]
		if !ok {
			t = &Tile{Cell: c, State: Pending, Generation: m.generation}
			m.active[c.Key()] = t
			created++
		}
		m.order = append(m.order, t)
	}

	Logger().Debug("viewport applied",
		slog.Uint64("generation", m.generation),
		slog.Int("cells", len(mapping.Cells)),
		slog.Int("created", created),
		slog.Int("expired", len(stale)),
		slog.Int("sample_size", mapping.SampleSize))

	m.Schedule()
}

// Schedule dispatches Pending tiles in priority order while worker slots are
// free. A buffer is acquired for each dispatched tile; if the pool is out of
// budget the tile stays Pending and the pass stops until the next result or
// viewport change.
func (m *Manager) Schedule() {
	if m.terminated {
		return
	}
	for _, t := range m.order {
		if m.decoding >= m.cfg.MaxDecoding {
			return
		}
		if t.State != Pending {
			continue
		}

		size := t.Cell.DecodedSize()
		buf, err := m.pool.Acquire(size.X * size.Y * pool.BytesPerPixel)
		if err != nil {
			if errors.Is(err, pool.ErrOutOfBudget) {
				Logger().Debug("tile memory exhausted",
					slog.Int("row", t.Cell.Row), slog.Int("col", t.Cell.Col),
					slog.String("error", err.Error()))
			}
			return
		}

		m.nextTask++
		task := Task{
			ID:         m.nextTask,
			Generation: t.Generation,
			Rect:       t.Cell.Rect,
			SampleSize: t.Cell.SampleSize,
			Size:       size,
			Buffer:     buf,
		}
		if !m.dispatch.Submit(task) {
			m.pool.Release(buf)
			return
		}

		t.State = Decoding
		t.buf = buf
		m.inflight[task.ID] = t
		m.decoding++
	}
}

// HandleResult applies a finished task. A result whose tile has been expired
// or replaced since dispatch is discarded and its buffer released.
func (m *Manager) HandleResult(res Result) {
	t, ok := m.inflight[res.TaskID]
	if !ok {
		m.pool.Release(res.Buffer)
		return
	}
	delete(m.inflight, res.TaskID)
	m.decoding--

	current := !m.terminated &&
		t.State == Decoding &&
		t.Generation == res.Generation &&
		m.active[t.Cell.Key()] == t
	if !current {
		t.State = Expired
		m.release(t, "stale result")
		m.Schedule()
		return
	}

	switch res.Kind {
	case ResultReady:
		t.State = Ready
		t.img = res.Image
		Logger().Debug("tile ready",
			slog.Int("row", t.Cell.Row), slog.Int("col", t.Cell.Col),
			slog.Uint64("generation", t.Generation))
		m.changed()

	case ResultFailed:
		t.State = Expired
		t.Err = res.Err
		m.pool.Release(t.buf)
		t.buf = nil
		Logger().Warn("tile decode failed",
			slog.Int("row", t.Cell.Row), slog.Int("col", t.Cell.Col),
			slog.String("error", errString(res.Err)))
		m.changed()

	case ResultCancelled:
		t.State = Pending
		m.pool.Release(t.buf)
		t.buf = nil
	}

	m.Schedule()
}

// Terminate releases every buffer the manager can reach and ignores further
// updates. Buffers on loan to workers are released as their results arrive.
func (m *Manager) Terminate() {
	if m.terminated {
		return
	}
	m.terminated = true

	for _, t := range m.active {
		switch t.State {
		case Decoding:
			t.State = Expired
		default:
			m.release(t, "terminated")
		}
	}
	m.active = make(map[image.Point]*Tile)
	m.order = nil

	if m.retained != nil {
		m.retained.Purge()
	}
}

// Terminated reports whether Terminate has been called.
func (m *Manager) Terminated() bool {
	return m.terminated
}

// Mapping returns the mapping of the current viewport.
func (m *Manager) Mapping() geometry.Mapping {
	return m.mapping
}

// Generation returns the generation of the current viewport.
func (m *Manager) Generation() uint64 {
	return m.generation
}

// Decoding returns the number of tasks in flight.
func (m *Manager) Decoding() int {
	return m.decoding
}

// Idle reports whether nothing is in flight and nothing can be dispatched.
func (m *Manager) Idle() bool {
	if m.decoding > 0 {
		return false
	}
	for _, t := range m.order {
		if t.State == Pending {
			return false
		}
	}
	return true
}

// Tile returns the active tile for a grid cell.
func (m *Manager) Tile(row, col int) (*Tile, bool) {
	t, ok := m.active[image.Pt(col, row)]
	return t, ok
}

// ReadyTiles returns the active Ready tiles in priority order.
func (m *Manager) ReadyTiles() []*Tile {
	var out []*Tile
	for _, t := range m.order {
		if t.State == Ready {
			out = append(out, t)
		}
	}
	return out
}

// Tiles returns a snapshot of every tile the manager tracks: active tiles in
// priority order, then expired tiles still waiting on a worker, then retained
// expired tiles from least to most recently needed.
func (m *Manager) Tiles() []Info {
	var out []Info
	m.each(func(t *Tile) {
		out = append(out, t.info())
	})
	return out
}

// AllocationByteCount returns the bytes held by all tracked tiles.
func (m *Manager) AllocationByteCount() int64 {
	var total int64
	m.each(func(t *Tile) {
		total += int64(t.Bytes())
	})
	return total
}

func (m *Manager) each(fn func(*Tile)) {
	for _, t := range m.order {
		fn(t)
	}
	for _, t := range m.inflight {
		if t.State == Expired {
			fn(t)
		}
	}
	if m.retained != nil {
		for _, k := range m.retained.Keys() {
			fn(k.(*Tile))
		}
	}
}

// expire moves a tile that is no longer required out of the active set.
func (m *Manager) expire(t *Tile) {
	switch t.State {
	case Pending:
		t.State = Released
	case Decoding:
		// The worker still writes into the buffer; HandleResult releases it.
		t.State = Expired
	case Ready:
		t.State = Expired
		t.img = nil
		m.changed()
		if m.retained != nil {
			m.retained.Add(t, nil)
		} else {
			m.release(t, "expired")
		}
	case Expired:
		t.State = Released
	}
}

// evictOne releases the least recently needed retained tile.
func (m *Manager) evictOne() bool {
	if m.retained == nil {
		return false
	}
	_, _, ok := m.retained.RemoveOldest()
	return ok
}

func (m *Manager) release(t *Tile, reason string) {
	if t.buf != nil {
		m.pool.Release(t.buf)
		t.buf = nil
	}
	t.img = nil
	t.State = Released
	Logger().Debug("tile released",
		slog.Int("row", t.Cell.Row), slog.Int("col", t.Cell.Col),
		slog.Uint64("generation", t.Generation),
		slog.String("reason", reason))
}

func (m *Manager) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}

func sameCell(a, b geometry.Cell) bool {
	return a.Rect == b.Rect && a.SampleSize == b.SampleSize
}

func distance(r image.Rectangle, cx, cy float64) float64 {
	x := float64(r.Min.X+r.Max.X) / 2
	y := float64(r.Min.Y+r.Max.Y) / 2
	return (x-cx)*(x-cx) + (y-cy)*(y-cy)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
