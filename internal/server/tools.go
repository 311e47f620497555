package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func imageIDProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Image id returned by image_open",
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Opening Images
		{
			Name:        "image_open",
			Description: "Open a large image and start a tiled viewer for it. Give either a local path or a URI previously stored with image_cache_store. Returns the image id used by the other tools.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
					"uri": map[string]interface{}{
						"type":        "string",
						"description": "URI of an image in the disk cache",
					},
					"wait": map[string]interface{}{
						"type":        "boolean",
						"description": "Wait until the preview is built before returning. Default true",
						"default":     true,
					},
				},
			},
		},
		{
			Name:        "image_cache_store",
			Description: "Copy an image file into the compressed disk cache under a URI so it can be opened later with image_open.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"uri": map[string]interface{}{
						"type":        "string",
						"description": "URI to store the image under",
					},
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file to copy",
					},
				},
				"required": []string{"uri", "path"},
			},
		},

		// Viewport
		{
			Name:        "viewport_set",
			Description: "Set the visible rectangle and zoom scale. The rectangle is in view pixels, that is source pixels multiplied by scale. Tiles covering the view are decoded in the background.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image_id": imageIDProperty(),
					"x1": map[string]interface{}{
						"type":        "integer",
						"description": "Left edge of the view rectangle",
					},
					"y1": map[string]interface{}{
						"type":        "integer",
						"description": "Top edge of the view rectangle",
					},
					"x2": map[string]interface{}{
						"type":        "integer",
						"description": "Right edge of the view rectangle (exclusive)",
					},
					"y2": map[string]interface{}{
						"type":        "integer",
						"description": "Bottom edge of the view rectangle (exclusive)",
					},
					"scale": map[string]interface{}{
						"type":        "number",
						"description": "View pixels per source pixel (e.g., 0.25 to see a quarter-size image). Default 1.0",
						"default":     1.0,
					},
					"settle_ms": map[string]interface{}{
						"type":        "integer",
						"description": "Wait up to this many milliseconds for tile decoding to finish. Default 0",
						"default":     0,
					},
				},
				"required": []string{"image_id", "x1", "y1", "x2", "y2"},
			},
		},

		// Tiles
		{
			Name:        "tiles_list",
			Description: "List the tiles the viewer tracks with their grid position, source rectangle, sample size and state.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image_id": imageIDProperty(),
				},
				"required": []string{"image_id"},
			},
		},
		{
			Name:        "tile_rect_toggle",
			Description: "Show or hide tile outlines and labels in tiles_render.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image_id": imageIDProperty(),
					"show": map[string]interface{}{
						"type":        "boolean",
						"description": "Whether to draw tile outlines",
					},
				},
				"required": []string{"image_id", "show"},
			},
		},
		{
			Name:        "tiles_render",
			Description: "Render the current viewport as base64-encoded PNG: the preview as background with decoded tiles on top.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image_id": imageIDProperty(),
				},
				"required": []string{"image_id"},
			},
		},

		// Diagnostics
		{
			Name:        "image_detail",
			Description: "Report image size, disk and memory usage, preview, zoom, and tile state.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image_id": imageIDProperty(),
				},
				"required": []string{"image_id"},
			},
		},
		{
			Name:        "image_close",
			Description: "Close an image, cancel its decodes and release its tile memory.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image_id": imageIDProperty(),
				},
				"required": []string{"image_id"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
