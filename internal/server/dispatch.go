package server

import (
	"bufio"
	"context"
	"fmt"
	"net"

	"github.com/siridb/siridb-go/internal/pool"
	"github.com/siridb/siridb-go/internal/query"
	"github.com/siridb/siridb-go/internal/replication"
	"github.com/siridb/siridb-go/internal/wire"
)

// subQueryBody is the concretely-typed envelope node-to-node sub-query
// dispatch actually puts on the wire: wire.SubQueryRequest's AST field is
// `any` to leave room for the external grammar's eventual shape, but two
// siridb-server processes exchanging an already-resolved query.Query need
// a type msgpack can decode into without help, so this package encodes its
// own RPC body under the same wire.TypeSubQuery envelope.
type subQueryBody struct {
	Query        query.Query `msgpack:"query"`
	DeadlineUnix int64       `msgpack:"deadline_unix_ms"`
	SeriesHint   []string    `msgpack:"series_hint,omitempty"`
}

// dispatch implements query.Dispatcher: it dials the target pool's primary
// server, sends a sub-query, and waits for the response package or ctx's
// deadline, per spec.md §4.9 step 2 and §5's cancellation contract.
func (c *Context) dispatch(ctx context.Context, target pool.ID, req wire.SubQueryRequest) (*wire.QueryResponse, error) {
	p, ok := c.Pools.ByID(target)
	if !ok {
		return nil, fmt.Errorf("server: dispatch: unknown pool %d", target)
	}
	q, _ := req.AST.(query.Query)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Primary.Addr)
	if err != nil {
		return nil, fmt.Errorf("server: dispatch: dial %s: %w", p.Primary.Addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	pid := c.NextPID()
	pkg, err := wire.Encode(pid, wire.TypeSubQuery, subQueryBody{
		Query:        q,
		DeadlineUnix: req.DeadlineUnix,
		SeriesHint:   req.SeriesHint,
	})
	if err != nil {
		return nil, fmt.Errorf("server: dispatch: encode subquery: %w", err)
	}
	if _, err := pkg.WriteTo(conn); err != nil {
		return nil, fmt.Errorf("server: dispatch: send subquery: %w", err)
	}

	resp, err := wire.ReadPackage(bufio.NewReader(conn))
	if err != nil {
		return nil, fmt.Errorf("server: dispatch: read response: %w", err)
	}
	if resp.Type == wire.TypeError {
		var body wire.ErrorBody
		if decErr := resp.Decode(&body); decErr == nil {
			return nil, fmt.Errorf("server: dispatch: remote error (%s): %s", body.Kind, body.Message)
		}
		return nil, fmt.Errorf("server: dispatch: remote returned an error package")
	}

	var out wire.QueryResponse
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("server: dispatch: decode response: %w", err)
	}
	return &out, nil
}

// send implements replication.Sender for the FIFO-backed replication path
// (spec.md §4.7, §4.8): it appends the batch to peerAddr's durable queue
// rather than writing straight to the socket, so a transient disconnect
// doesn't lose the batch.
func (c *Context) send(peerAddr string) replication.Sender {
	return func(ctx context.Context, batch wire.ReplicationBatch) error {
		f, err := c.FIFOFor(peerAddr)
		if err != nil {
			return err
		}
		pkg, err := wire.Encode(c.NextPID(), wire.TypeReplication, batch)
		if err != nil {
			return fmt.Errorf("server: encode replication batch: %w", err)
		}
		body := append(pkg.Body[:0:0], pkg.Body...)
		if err := f.Append(body); err != nil {
			return err
		}
		return nil
	}
}
