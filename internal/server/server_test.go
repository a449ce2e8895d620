package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/siridb/siridb-go/internal/config"
	"github.com/siridb/siridb-go/internal/wire"
)

func testConfig(t *testing.T, listen string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Listen = listen
	cfg.Server.DataDir = t.TempDir()
	cfg.Pools = []config.PoolEntry{{ID: 0, Servers: []string{listen}}}
	return cfg
}

func startServer(t *testing.T, listen string) (*Context, string) {
	t.Helper()
	cfg := testConfig(t, listen)
	ctx, err := Open(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })

	srv, err := Listen(ctx)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(runCtx)
	t.Cleanup(func() { _ = srv.Shutdown() })

	return ctx, srv.Addr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, pid uint16, tp wire.Type, body any) wire.Package {
	t.Helper()
	pkg, err := wire.Encode(pid, tp, body)
	require.NoError(t, err)
	_, err = pkg.WriteTo(conn)
	require.NoError(t, err)
	resp, err := wire.ReadPackage(bufio.NewReader(conn))
	require.NoError(t, err)
	return resp
}

func TestInsertIsAcknowledged(t *testing.T) {
	_, addr := startServer(t, "127.0.0.1:0")
	conn := dial(t, addr)

	insertResp := roundTrip(t, conn, 1, wire.TypeInsert, wire.InsertRequest{
		Points: []wire.InsertPoint{
			{Series: "cpu", TS: 1, IVal: 10, Type: 0},
			{Series: "cpu", TS: 2, IVal: 20, Type: 0},
		},
	})
	require.Equal(t, wire.TypeAck, insertResp.Type)

	var ack wire.Ack
	require.NoError(t, insertResp.Decode(&ack))
	require.True(t, ack.OK)
}

func TestUnauthorizedWithoutTokenIsRejected(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:0")
	cfg.Server.AuthToken = "secret"
	ctx, err := Open(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })

	srv, err := Listen(ctx)
	require.NoError(t, err)
	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(runCtx)
	t.Cleanup(func() { _ = srv.Shutdown() })

	conn := dial(t, srv.Addr().String())
	resp := roundTrip(t, conn, 1, wire.TypeInsert, wire.InsertRequest{})
	require.Equal(t, wire.TypeError, resp.Type)

	var body wire.ErrorBody
	require.NoError(t, resp.Decode(&body))
	require.Equal(t, wire.ErrorAuth, body.Kind)
}

func TestAuthTokenThenInsertSucceeds(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:0")
	cfg.Server.AuthToken = "secret"
	ctx, err := Open(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })

	srv, err := Listen(ctx)
	require.NoError(t, err)
	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(runCtx)
	t.Cleanup(func() { _ = srv.Shutdown() })

	conn := dial(t, srv.Addr().String())
	authResp := roundTrip(t, conn, 1, wire.TypeAuth, authBody{Token: "secret"})
	require.Equal(t, wire.TypeAck, authResp.Type)

	insertResp := roundTrip(t, conn, 2, wire.TypeInsert, wire.InsertRequest{
		Points: []wire.InsertPoint{{Series: "cpu", TS: 1, IVal: 1}},
	})
	require.Equal(t, wire.TypeAck, insertResp.Type)
}
