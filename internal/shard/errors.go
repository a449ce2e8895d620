package shard

import "errors"

// Sentinel errors a caller can match with errors.Is to classify a failure
// into spec.md §7's taxonomy (internal/server maps these onto wire error
// kinds before they reach a client).
var (
	// ErrCorrupt marks a block or index that failed its CRC check.
	ErrCorrupt = errors.New("shard: corrupt data")
	// ErrFatal marks a header that doesn't match this binary's format —
	// refuse to serve the database rather than guess.
	ErrFatal = errors.New("shard: incompatible shard file")
	// ErrSuperseded is returned to a reader still holding a generation
	// that Supersede has since replaced.
	ErrSuperseded = errors.New("shard: generation superseded")
)
