package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/siridb/siridb-go/internal/fifo"
	"github.com/siridb/siridb-go/internal/wire"
)

// replicationDrainInterval is how often the drain driver wakes up to try
// delivering the oldest pending replication record, matching the
// buffer/optimizer background tasks' own ticker idiom.
const replicationDrainInterval = time.Second

// runReplicationDrain is the single reader side of peerAddr's durable FIFO
// (spec.md §4.7, §4.8): it peeks the oldest undelivered batch, dials the
// replica, and commits only after the replica acks, so a crash between
// delivery and commit simply redelivers the same batch on restart.
func (c *Context) runReplicationDrain(ctx context.Context, peerAddr string) {
	ticker := time.NewTicker(replicationDrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for c.drainOnce(ctx, peerAddr) {
			}
		}
	}
}

// drainOnce delivers at most one record and reports whether it succeeded,
// so runReplicationDrain can keep draining a backlog without waiting a
// full tick between records.
func (c *Context) drainOnce(ctx context.Context, peerAddr string) bool {
	f, err := c.FIFOFor(peerAddr)
	if err != nil {
		c.Log.Warn().Err(err).Str("replica", peerAddr).Msg("server: replication drain: open fifo")
		return false
	}

	body, err := f.Peek()
	if err != nil {
		if !errors.Is(err, fifo.ErrEmpty) {
			c.Log.Warn().Err(err).Str("replica", peerAddr).Msg("server: replication drain: peek")
		}
		return false
	}

	if err := c.deliver(ctx, peerAddr, body); err != nil {
		c.Log.Warn().Err(err).Str("replica", peerAddr).Msg("server: replication drain: deliver")
		return false
	}

	if err := f.Commit(); err != nil {
		c.Log.Error().Err(err).Str("replica", peerAddr).Msg("server: replication drain: commit")
		return false
	}
	return true
}

// deliver dials peerAddr and sends body (an already-encoded
// wire.ReplicationBatch, as stored by Context.send) under a fresh
// wire.TypeReplication package, returning once the peer acks or the
// connection fails.
func (c *Context) deliver(ctx context.Context, peerAddr string, body []byte) error {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", peerAddr)
	if err != nil {
		return fmt.Errorf("server: dial %s: %w", peerAddr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	pkg := wire.Package{PID: c.NextPID(), Type: wire.TypeReplication, Body: body}
	if _, err := pkg.WriteTo(conn); err != nil {
		return fmt.Errorf("server: send to %s: %w", peerAddr, err)
	}

	resp, err := wire.ReadPackage(bufio.NewReader(conn))
	if err != nil {
		return fmt.Errorf("server: read ack from %s: %w", peerAddr, err)
	}
	if resp.Type == wire.TypeError {
		var errBody wire.ErrorBody
		if decErr := resp.Decode(&errBody); decErr == nil {
			return fmt.Errorf("server: %s rejected batch (%s): %s", peerAddr, errBody.Kind, errBody.Message)
		}
		return fmt.Errorf("server: %s rejected batch", peerAddr)
	}
	return nil
}
