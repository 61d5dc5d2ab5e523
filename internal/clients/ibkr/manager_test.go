package ibkr

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func runManager(t *testing.T, ctx context.Context, mgr *ConnectionManager) chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()
	return done
}

func TestManagerReconnectsWhenSessionHeals(t *testing.T) {
	session := &fakeSession{accountID: "DU12345", connectErr: errors.New("gateway down")}
	bridge := newTestBridge(t, session, func(cfg *Config) {
		cfg.Cooldown = 5 * time.Millisecond
	})
	require.False(t, bridge.IsConnected())

	session.mu.Lock()
	session.connectErr = nil
	session.mu.Unlock()

	mgr := NewConnectionManager(bridge, zerolog.Nop())
	mgr.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := runManager(t, ctx, mgr)

	require.Eventually(t, bridge.IsConnected, 2*time.Second, 10*time.Millisecond,
		"manager never brought the bridge back up")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager did not stop on context cancel")
	}
}

func TestManagerLeavesHealthyBridgeAlone(t *testing.T) {
	session := healthySession()
	bridge := newTestBridge(t, session)
	require.True(t, bridge.IsConnected())

	mgr := NewConnectionManager(bridge, zerolog.Nop())
	mgr.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runManager(t, ctx, mgr)

	// Start connected once; a connected bridge must not be dialled again.
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&session.connectCalls))

	cancel()
	<-done
}

func TestManagerStopsWhenBridgeCloses(t *testing.T) {
	session := &fakeSession{accountID: "DU12345", connectErr: errors.New("gateway down")}
	bridge := newTestBridge(t, session, func(cfg *Config) {
		cfg.Cooldown = time.Millisecond
	})

	mgr := NewConnectionManager(bridge, zerolog.Nop())
	mgr.interval = 5 * time.Millisecond

	done := runManager(t, context.Background(), mgr)

	bridge.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager did not stop after bridge close")
	}
}
