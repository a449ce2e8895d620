package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerMonitorMarksUnhealthyAfterThreshold(t *testing.T) {
	m := NewPeerMonitor(5 * time.Millisecond)

	var mu sync.Mutex
	fail := true
	m.SetCheckFunc(func(addr string) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errors.New("boom")
		}
		return nil
	})

	var unhealthy int
	m.OnUnhealthy(func(addr string) { unhealthy++ })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	set := Set{Pools: []Pool{{ID: 0, Primary: Server{Addr: "x:1", PoolID: 0, IsPrimary: true}}}}
	m.Run(ctx, set)

	assert.Equal(t, PeerUnhealthy, m.Status("x:1"))
	assert.Equal(t, 1, unhealthy, "callback should fire exactly once on the transition")
}

func TestPeerMonitorRecovers(t *testing.T) {
	m := NewPeerMonitor(5 * time.Millisecond)
	m.maxFailures = 1

	var mu sync.Mutex
	healthy := false
	m.SetCheckFunc(func(addr string) error {
		mu.Lock()
		defer mu.Unlock()
		if healthy {
			return nil
		}
		return errors.New("down")
	})

	var recovered int
	m.OnRecovered(func(addr string) { recovered++ })

	set := Set{Pools: []Pool{{ID: 0, Primary: Server{Addr: "x:1", PoolID: 0, IsPrimary: true}}}}

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx, set)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, PeerUnhealthy, m.Status("x:1"))

	mu.Lock()
	healthy = true
	mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.Equal(t, PeerHealthy, m.Status("x:1"))
	assert.Equal(t, 1, recovered)
}

func TestUnknownPeerStatus(t *testing.T) {
	m := NewPeerMonitor(time.Second)
	assert.Equal(t, PeerUnknown, m.Status("nope"))
	assert.False(t, m.IsHealthy("nope"))
}
