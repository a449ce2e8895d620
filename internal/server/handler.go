package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/siridb/siridb-go/internal/fifo"
	"github.com/siridb/siridb-go/internal/point"
	"github.com/siridb/siridb-go/internal/query"
	"github.com/siridb/siridb-go/internal/wire"
)

// queryBody mirrors subQueryBody for the client-facing TypeQuery package:
// the external grammar/parser (spec.md §1 Non-goal) is what would normally
// produce wire.QueryRequest's opaque AST; this implementation's own client
// surface sends the already-resolved query.Query value instead, the same
// concretely-typed shape node-to-node dispatch uses.
type queryBody struct {
	Query        query.Query `msgpack:"query"`
	DeadlineUnix int64       `msgpack:"deadline_unix_ms"`
}

// authBody is the TypeAuth package's body.
type authBody struct {
	Token string `msgpack:"token"`
}

// handleConn owns one client/peer connection end to end: it reads packages
// until the connection closes or a protocol error forces it shut, per
// spec.md §7's "malformed package -> drop connection".
func (c *Context) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	authed := c.Cfg.Server.AuthToken == ""
	for {
		pkg, err := wire.ReadPackage(reader)
		if err != nil {
			return
		}

		if !authed {
			if pkg.Type != wire.TypeAuth {
				c.writeError(conn, pkg.PID, fmt.Errorf("server: %w: first package must be auth", ErrUnauthorized))
				return
			}
			var body authBody
			if err := pkg.Decode(&body); err != nil || body.Token != c.Cfg.Server.AuthToken {
				c.writeError(conn, pkg.PID, ErrUnauthorized)
				return
			}
			authed = true
			c.writeAck(conn, pkg.PID)
			continue
		}

		if !c.dispatchPackage(ctx, conn, pkg) {
			return
		}
	}
}

// dispatchPackage handles one already-authenticated package, writing a
// response. It returns false if the connection should be closed.
func (c *Context) dispatchPackage(ctx context.Context, conn net.Conn, pkg wire.Package) bool {
	switch pkg.Type {
	case wire.TypeAuth:
		c.writeAck(conn, pkg.PID)
		return true
	case wire.TypeInsert:
		var body wire.InsertRequest
		if err := pkg.Decode(&body); err != nil {
			c.writeError(conn, pkg.PID, fmt.Errorf("server: protocol error: %w", err))
			return true
		}
		if err := c.handleInsert(ctx, body); err != nil {
			c.writeError(conn, pkg.PID, err)
			return true
		}
		c.writeAck(conn, pkg.PID)
		return true
	case wire.TypeQuery:
		var body queryBody
		if err := pkg.Decode(&body); err != nil {
			c.writeError(conn, pkg.PID, fmt.Errorf("server: protocol error: %w", err))
			return true
		}
		c.handleQueryRequest(ctx, conn, pkg.PID, body.Query, body.DeadlineUnix)
		return true
	case wire.TypeSubQuery:
		var body subQueryBody
		if err := pkg.Decode(&body); err != nil {
			c.writeError(conn, pkg.PID, fmt.Errorf("server: protocol error: %w", err))
			return true
		}
		c.handleQueryRequest(ctx, conn, pkg.PID, body.Query, body.DeadlineUnix)
		return true
	case wire.TypeReplication:
		var body wire.ReplicationBatch
		if err := pkg.Decode(&body); err != nil {
			c.writeError(conn, pkg.PID, fmt.Errorf("server: protocol error: %w", err))
			return true
		}
		if err := c.handleReplicationBatch(body); err != nil {
			c.writeError(conn, pkg.PID, err)
			return true
		}
		c.writeAck(conn, pkg.PID)
		return true
	case wire.TypeCancel:
		// Cancellation is carried by the caller's own context deadline
		// (spec.md §5); an explicit cancel package has nothing further to
		// do server-side beyond acknowledging receipt.
		c.writeAck(conn, pkg.PID)
		return true
	default:
		c.writeError(conn, pkg.PID, fmt.Errorf("server: protocol error: unknown package type %s", pkg.Type))
		return false
	}
}

// handleInsert resolves (creating if unknown) each point's series, writes
// it through internal/buffer.Manager, and — when this server is a pool's
// primary — enqueues one copy per point onto the replica's durable FIFO
// (spec.md §4.10: "journal, and enqueue one copy for the replica FIFO").
// It rejects the whole batch if the server is read-only or any point
// names a series owned by another pool (spec.md §4.1: writes must land on
// the owning pool).
func (c *Context) handleInsert(ctx context.Context, req wire.InsertRequest) error {
	if c.ReadOnly() {
		return ErrReadOnly
	}
	for _, p := range req.Points {
		if c.Table().Lookup(p.Series) != c.LocalPool {
			return fmt.Errorf("server: series %q is not owned by this pool", p.Series)
		}
		s, err := c.Catalog.Create(p.Series, point.Type(p.Type), c.LocalPool)
		if err != nil {
			c.Fail(err)
			return err
		}
		pt := point.Point{TS: p.TS, IVal: p.IVal, FVal: p.FVal, SVal: p.SVal}
		if err := c.Buffer.Write(s.ID, c.ShardClass, pt); err != nil {
			c.Fail(err)
			return err
		}
		if c.ReplicaAddr != "" {
			batch := wire.ReplicationBatch{
				SeriesName: s.Name,
				SeriesID:   s.ID,
				Type:       uint8(s.Type),
				Points:     []wire.InsertPoint{p},
			}
			if err := c.send(c.ReplicaAddr)(ctx, batch); err != nil {
				if errors.Is(err, fifo.ErrSaturated) {
					c.Fail(err)
					return err
				}
				// ErrNoFreeSpace (soft cap) and any other delivery hiccup
				// don't fail the write; the drain driver retries.
				c.Log.Warn().Err(err).Str("replica", c.ReplicaAddr).Msg("server: replication enqueue degraded")
			}
		}
	}
	return nil
}

// handleQueryRequest runs q through the executor and writes back either a
// wire.QueryResponse or an error package.
func (c *Context) handleQueryRequest(ctx context.Context, conn net.Conn, pid uint16, q query.Query, deadlineUnix int64) {
	if deadlineUnix > 0 {
		q.Deadline = time.UnixMilli(deadlineUnix)
	}
	res, err := c.executor.Run(ctx, q)
	if err != nil {
		c.writeError(conn, pid, err)
		return
	}
	resp := wire.QueryResponse{Series: res.Series, Partial: res.Partial}
	pkg, err := wire.Encode(pid, wire.TypeQuery, resp)
	if err != nil {
		c.writeError(conn, pid, fmt.Errorf("server: encode query response: %w", err))
		return
	}
	_, _ = pkg.WriteTo(conn)
}

// handleReplicationBatch applies one inbound replication batch (from a
// peer's FIFO drain, or an initsync/reindex stream) to the local catalog
// and buffer, per spec.md §4.8.
func (c *Context) handleReplicationBatch(batch wire.ReplicationBatch) error {
	if c.ReadOnly() {
		return ErrReadOnly
	}
	s, err := c.Catalog.Create(batch.SeriesName, point.Type(batch.Type), c.LocalPool)
	if err != nil {
		c.Fail(err)
		return err
	}
	for _, ip := range batch.Points {
		pt := point.Point{TS: ip.TS, IVal: ip.IVal, FVal: ip.FVal, SVal: ip.SVal}
		if err := c.Buffer.Write(s.ID, c.ShardClass, pt); err != nil {
			c.Fail(err)
			return err
		}
	}
	return nil
}

func (c *Context) writeAck(conn net.Conn, pid uint16) {
	pkg, err := wire.Encode(pid, wire.TypeAck, wire.Ack{OK: true})
	if err != nil {
		return
	}
	_, _ = pkg.WriteTo(conn)
}

func (c *Context) writeError(conn net.Conn, pid uint16, err error) {
	c.Fail(err)
	body := classify(err)
	pkg, encErr := wire.Encode(pid, wire.TypeError, body)
	if encErr != nil {
		return
	}
	_, _ = pkg.WriteTo(conn)
}
