package server

import (
	"errors"

	"github.com/siridb/siridb-go/internal/fifo"
	"github.com/siridb/siridb-go/internal/replication"
	"github.com/siridb/siridb-go/internal/shard"
	"github.com/siridb/siridb-go/internal/wire"
)

// classify maps an internal error to the wire error taxonomy in spec.md
// §7, so a network handler can answer with a programmatically matchable
// wire.ErrorBody instead of a bare message string.
func classify(err error) wire.ErrorBody {
	switch {
	case errors.Is(err, shard.ErrCorrupt):
		return wire.ErrorBody{Kind: wire.ErrorCorrupt, Message: err.Error()}
	case errors.Is(err, shard.ErrSuperseded):
		return wire.ErrorBody{Kind: wire.ErrorConflict, Message: err.Error()}
	case errors.Is(err, fifo.ErrSaturated):
		return wire.ErrorBody{Kind: wire.ErrorReplicationSaturated, Message: err.Error(), RetryAfterMS: 1000}
	case errors.Is(err, replication.ErrPeerUnreachable):
		return wire.ErrorBody{Kind: wire.ErrorIO, Message: err.Error()}
	case errors.Is(err, ErrReadOnly):
		return wire.ErrorBody{Kind: wire.ErrorConflict, Message: err.Error()}
	case errors.Is(err, ErrUnauthorized):
		return wire.ErrorBody{Kind: wire.ErrorAuth, Message: err.Error()}
	default:
		return wire.ErrorBody{Kind: wire.ErrorFatal, Message: err.Error()}
	}
}

// ErrReadOnly is returned by any write-path operation once a fatal error
// has flipped the server context into read-only mode (spec.md §7: "fatal
// kind errors during operation flip the server context to read-only").
var ErrReadOnly = errors.New("server: write rejected, server is read-only")

// ErrUnauthorized is returned when an auth package fails to validate.
var ErrUnauthorized = errors.New("server: unauthorized")

// isFatal reports whether err belongs to the `fatal` kind and should flip
// the server read-only rather than just failing the one request.
func isFatal(err error) bool {
	return classify(err).Kind == wire.ErrorFatal
}
