// Package tiles implements the tile engine: a state machine that decides which
// grid cells of a large image are decoded, and a bounded pool of workers that
// decode them.
//
// # Lifecycle
//
// Every tile moves through the states
//
//	Pending -> Decoding -> Ready -> Expired -> Released
//
// A tile is created Pending when the current viewport first requires its cell.
// The manager moves it to Decoding when a worker slot and a pool buffer are
// both available, and to Ready when the worker hands back a successful result
// for the tile's generation. Tiles that stop being required are Expired. An
// expired tile that still owns a buffer may be retained until the memory pool
// needs the bytes back, at which point it is Released.
//
// # Ownership
//
// The Manager is single-threaded. It must be driven from one control
// goroutine, which also drains Workers.Results and passes each result to
// HandleResult. Workers never see a Tile: a Task carries a copy of the cell
// geometry, the generation and the loaned buffer, and the buffer always comes
// back inside the Result.
//
// # Generations
//
// Each Update starts a new generation. Tiles whose cell is still required keep
// the generation they were created with, so in-flight decodes for them remain
// valid. A result whose tile has since been expired or replaced is discarded
// and its buffer returned to the pool.
//
// # Logging
//
// The package is silent by default. Call SetLogger to receive structured
// records of transitions, evictions and failures.
package tiles
