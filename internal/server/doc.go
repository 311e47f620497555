// Package server implements the MCP (Model Context Protocol) server that exposes
// the large image viewer as tools.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Opening Images:
//   - image_open: Open a local file or cached URI and start a viewer
//   - image_cache_store: Copy a file into the disk cache under a URI
//
// Viewport:
//   - viewport_set: Set the visible rectangle and zoom scale
//
// Tiles:
//   - tiles_list: List tracked tiles and their states
//   - tile_rect_toggle: Show or hide tile outlines in renders
//   - tiles_render: Render the current viewport as PNG
//
// Diagnostics:
//   - image_detail: Size, memory, preview, zoom and tile report
//   - image_close: Destroy the viewer and release its memory
//
// # Sessions
//
// Each image_open creates a session holding the opened image and its viewer,
// addressed by the returned image id. Sessions live until image_close or
// Server.Close. Decoding happens on the viewer's own goroutines, so tool calls
// return promptly; viewport_set can optionally wait for tiles to settle.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: Additional error details (typically the Go error string)
//
// # Usage
//
//	cfg, _ := config.Load()
//	srv := server.New(cfg)
//	defer srv.Close()
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
