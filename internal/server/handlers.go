package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/ironsheep/large-image-mcp/internal/detail"
	"github.com/ironsheep/large-image-mcp/internal/geometry"
	"github.com/ironsheep/large-image-mcp/internal/imaging"
	"github.com/ironsheep/large-image-mcp/internal/tiles"
	"github.com/ironsheep/large-image-mcp/internal/viewer"
)

const (
	// openTimeout bounds how long image_open waits for the preview.
	openTimeout = 2 * time.Minute

	// maxSettle bounds settle_ms.
	maxSettle = 30 * time.Second

	settlePoll = 10 * time.Millisecond
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "image_open", "viewport_set").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(params.Name, params.Arguments)
	if err != nil {
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Opening Images
	case "image_open":
		return s.handleImageOpen(args)
	case "image_cache_store":
		return s.handleImageCacheStore(args)

	// Viewport
	case "viewport_set":
		return s.handleViewportSet(args)

	// Tiles
	case "tiles_list":
		return s.handleTilesList(args)
	case "tile_rect_toggle":
		return s.handleTileRectToggle(args)
	case "tiles_render":
		return s.handleTilesRender(args)

	// Diagnostics
	case "image_detail":
		return s.handleImageDetail(args)
	case "image_close":
		return s.handleImageClose(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// unmarshalArgs decodes tool arguments, treating missing arguments as {}.
func unmarshalArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	return json.Unmarshal(args, v)
}

// === Opening Handlers ===

type imageOpenArgs struct {
	Path string `json:"path"`
	URI  string `json:"uri"`
	Wait *bool  `json:"wait"`
}

type imageOpenResult struct {
	ImageID      string              `json:"image_id"`
	Source       imaging.SourceImage `json:"source"`
	Ready        bool                `json:"ready"`
	Initializing bool                `json:"initializing"`
	TilesNeeded  bool                `json:"tiles_needed"`
	TileSize     int                 `json:"tile_size"`
	PreviewSize  image.Point         `json:"preview_size"`
	Error        string              `json:"error,omitempty"`
}

func (s *Server) handleImageOpen(args json.RawMessage) (interface{}, error) {
	var a imageOpenArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}

	var (
		img *imaging.LargeImage
		err error
	)
	switch {
	case a.Path != "" && a.URI != "":
		return nil, errors.New("give either path or uri, not both")
	case a.Path != "":
		img, err = imaging.Open(a.Path, s.cfg.PreviewSize)
	case a.URI != "":
		img, err = s.openCached(a.URI)
	default:
		return nil, errors.New("path or uri is required")
	}
	if err != nil {
		return nil, err
	}

	sess := &session{
		localPath: a.Path,
		image:     img,
		viewer:    viewer.New(img, s.cfg.Viewer),
	}
	id := s.addSession(sess)

	if a.Wait == nil || *a.Wait {
		select {
		case <-sess.viewer.Initialized():
		case <-time.After(openTimeout):
		}
	}

	snap := sess.viewer.Snapshot()
	return &imageOpenResult{
		ImageID:      id,
		Source:       snap.Source,
		Ready:        snap.Ready,
		Initializing: snap.Initializing,
		TilesNeeded:  snap.TilesNeeded,
		TileSize:     snap.TileSize,
		PreviewSize:  snap.PreviewSize,
		Error:        snap.Error,
	}, nil
}

func (s *Server) openCached(uri string) (*imaging.LargeImage, error) {
	if s.cache == nil {
		return nil, errors.New("disk cache is not available")
	}
	data, err := s.cache.ReadAll(uri)
	if err != nil {
		return nil, err
	}
	return imaging.OpenBytes(uri, data, s.cfg.PreviewSize)
}

type imageCacheStoreArgs struct {
	URI  string `json:"uri"`
	Path string `json:"path"`
}

func (s *Server) handleImageCacheStore(args json.RawMessage) (interface{}, error) {
	var a imageCacheStoreArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if a.URI == "" || a.Path == "" {
		return nil, errors.New("uri and path are required")
	}
	if s.cache == nil {
		return nil, errors.New("disk cache is not available")
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	return s.cache.Put(a.URI, f)
}

// === Viewport Handlers ===

type viewportSetArgs struct {
	ImageID  string  `json:"image_id"`
	X1       int     `json:"x1"`
	Y1       int     `json:"y1"`
	X2       int     `json:"x2"`
	Y2       int     `json:"y2"`
	Scale    float64 `json:"scale"`
	SettleMS int     `json:"settle_ms"`
}

type viewportSetResult struct {
	ImageID       string          `json:"image_id"`
	Ready         bool            `json:"ready"`
	Settled       bool            `json:"settled"`
	Generation    uint64          `json:"generation"`
	SampleSize    int             `json:"sample_size"`
	VisibleRect   image.Rectangle `json:"visible_rect"`
	DecodeRect    image.Rectangle `json:"decode_rect"`
	DecodeSrcRect image.Rectangle `json:"decode_src_rect"`
	TileCount     int             `json:"tile_count"`
	TileBytes     int64           `json:"tile_bytes"`
}

func (s *Server) handleViewportSet(args json.RawMessage) (interface{}, error) {
	var a viewportSetArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Scale == 0 {
		a.Scale = 1.0
	}
	if a.Scale < 0 {
		return nil, fmt.Errorf("scale must be positive, got %g", a.Scale)
	}
	sess, err := s.session(a.ImageID)
	if err != nil {
		return nil, err
	}

	sess.viewer.OnViewportChanged(geometry.Viewport{
		ViewRect: image.Rect(a.X1, a.Y1, a.X2, a.Y2),
		Scale:    a.Scale,
	})

	settle := time.Duration(a.SettleMS) * time.Millisecond
	if settle > maxSettle {
		settle = maxSettle
	}
	settled := waitSettled(sess.viewer, settle)

	snap := sess.viewer.Snapshot()
	return &viewportSetResult{
		ImageID:       a.ImageID,
		Ready:         snap.Ready,
		Settled:       settled,
		Generation:    snap.Generation,
		SampleSize:    snap.SampleSize,
		VisibleRect:   snap.VisibleRect,
		DecodeRect:    snap.DecodeRect,
		DecodeSrcRect: snap.DecodeSrcRect,
		TileCount:     len(snap.Tiles),
		TileBytes:     snap.TileBytes,
	}, nil
}

// waitSettled polls until no tile is pending or decoding, or the timeout
// passes. It reports whether decoding settled.
func waitSettled(v *viewer.Viewer, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if v.IsReady() && !busy(v.TileList()) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(settlePoll)
	}
}

func busy(list []tiles.Info) bool {
	for _, t := range list {
		if t.State == tiles.Pending.String() || t.State == tiles.Decoding.String() {
			return true
		}
	}
	return false
}

// === Tile Handlers ===

type imageIDArgs struct {
	ImageID string `json:"image_id"`
}

type tilesListResult struct {
	ImageID   string       `json:"image_id"`
	TileSize  int          `json:"tile_size"`
	Count     int          `json:"count"`
	TileBytes int64        `json:"tile_bytes"`
	Tiles     []tiles.Info `json:"tiles"`
}

func (s *Server) handleTilesList(args json.RawMessage) (interface{}, error) {
	var a imageIDArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.session(a.ImageID)
	if err != nil {
		return nil, err
	}

	list := sess.viewer.TileList()
	if list == nil {
		list = []tiles.Info{}
	}
	return &tilesListResult{
		ImageID:   a.ImageID,
		TileSize:  sess.viewer.TileSize(),
		Count:     len(list),
		TileBytes: sess.viewer.TilesAllocationByteCount(),
		Tiles:     list,
	}, nil
}

type tileRectToggleArgs struct {
	ImageID string `json:"image_id"`
	Show    bool   `json:"show"`
}

func (s *Server) handleTileRectToggle(args json.RawMessage) (interface{}, error) {
	var a tileRectToggleArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.session(a.ImageID)
	if err != nil {
		return nil, err
	}
	sess.viewer.SetShowTileRect(a.Show)
	return map[string]interface{}{
		"image_id":       a.ImageID,
		"show_tile_rect": sess.viewer.ShowTileRect(),
	}, nil
}

func (s *Server) handleTilesRender(args json.RawMessage) (interface{}, error) {
	var a imageIDArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.session(a.ImageID)
	if err != nil {
		return nil, err
	}
	img, err := sess.viewer.Render()
	if err != nil {
		return nil, err
	}
	return imaging.EncodePNG(img)
}

// === Diagnostic Handlers ===

func (s *Server) handleImageDetail(args json.RawMessage) (interface{}, error) {
	var a imageIDArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.session(a.ImageID)
	if err != nil {
		return nil, err
	}
	snap := sess.viewer.Snapshot()
	disk := detail.LookupDiskUsage(s.cache, snap.Source.URI, sess.localPath)
	return detail.Build(snap, disk), nil
}

func (s *Server) handleImageClose(args json.RawMessage) (interface{}, error) {
	var a imageIDArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.removeSession(a.ImageID)
	if err != nil {
		return nil, err
	}
	sess.close()
	return map[string]interface{}{
		"image_id": a.ImageID,
		"closed":   true,
	}, nil
}
