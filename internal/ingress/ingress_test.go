package ingress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/bountyarbiter/arbiterd/internal/eventbus"
	"github.com/bountyarbiter/arbiterd/internal/platform/logger"
)

func newWSServer(t *testing.T, send func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		send(conn)
		time.Sleep(200 * time.Millisecond) // give the client time to read before we close
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDispatchesBlockAndBountyEvents(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"block","data":42}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"bounty","data":{"guid":"x"}}`))
	})

	bus := eventbus.New(nil)
	in := New(url, "0xABC", bus, logger.NewDefault("test"))

	blockCh := make(chan int64, 1)
	bountyCh := make(chan interface{}, 1)
	bus.Subscribe(EventBlock, eventbus.Parallel, 0, 0, func(ctx context.Context, args ...interface{}) {
		blockCh <- args[0].(int64)
	})
	bus.Subscribe(EventBountyRaw, eventbus.Parallel, 0, 0, func(ctx context.Context, args ...interface{}) {
		bountyCh <- args[0]
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go in.Run(ctx)

	select {
	case b := <-blockCh:
		require.Equal(t, int64(42), b)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for block event")
	}
	select {
	case <-bountyCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bounty event")
	}
}

func TestSettledBountyFiltersBySettlerAccount(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"settled_bounty","data":{"bounty_guid":"g1","settler":"0xOTHER"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"settled_bounty","data":{"bounty_guid":"g2","settler":"0xABC"}}`))
	})

	bus := eventbus.New(nil)
	in := New(url, "0xabc", bus, logger.NewDefault("test"))

	settledCh := make(chan interface{}, 4)
	bus.Subscribe(EventSettled, eventbus.Parallel, 0, 0, func(ctx context.Context, args ...interface{}) {
		settledCh <- args[0]
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go in.Run(ctx)

	select {
	case guid := <-settledCh:
		require.Equal(t, "g2", guid)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered settled event")
	}

	select {
	case extra := <-settledCh:
		t.Fatalf("unexpected second settled event for %v, other-account settlement should have been filtered", extra)
	case <-time.After(300 * time.Millisecond):
	}
}
