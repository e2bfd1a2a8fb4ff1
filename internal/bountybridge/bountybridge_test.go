package bountybridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bountyarbiter/arbiterd/internal/eventbus"
	"github.com/bountyarbiter/arbiterd/internal/ingress"
	"github.com/bountyarbiter/arbiterd/internal/market"
	"github.com/bountyarbiter/arbiterd/internal/platform/logger"
	"github.com/bountyarbiter/arbiterd/internal/scheduler"
)

type fakeParams struct {
	mu    sync.Mutex
	calls int
	p     market.Parameters
	err   error
}

func (f *fakeParams) Parameters(ctx context.Context) (market.Parameters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.p, f.err
}

func TestBridgeDecodesAndRepublishesWithWindows(t *testing.T) {
	bus := eventbus.New(nil)
	params := &fakeParams{p: market.Parameters{ArbiterVoteWindow: 25, AssertionRevealWindow: 50}}
	b := New(bus, params, logger.NewDefault("test"))
	b.Register()

	got := make(chan scheduler.BountyDescriptor, 1)
	bus.Subscribe(scheduler.EventBounty, eventbus.Parallel, 0, 0, func(ctx context.Context, args ...interface{}) {
		got <- args[0].(scheduler.BountyDescriptor)
	})

	raw := json.RawMessage(`{"guid":"3fa85f64-5717-4562-b3fc-2c963f66afa6","author":"0xauthor","amount":"100","uri":"zine://abc","expiration":500}`)
	bus.Publish(context.Background(), ingress.EventBountyRaw, raw)

	select {
	case desc := <-got:
		require.Equal(t, "0xauthor", desc.Author)
		require.Equal(t, "100", desc.Amount)
		require.Equal(t, "zine://abc", desc.URI)
		require.Equal(t, int64(500), desc.ExpirationBlock)
		require.Equal(t, int64(25), desc.VoteWindow)
		require.Equal(t, int64(50), desc.RevealWindow)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bridged bounty event")
	}
}

func TestBridgeCachesParametersAcrossBounties(t *testing.T) {
	bus := eventbus.New(nil)
	params := &fakeParams{p: market.Parameters{ArbiterVoteWindow: 10, AssertionRevealWindow: 20}}
	b := New(bus, params, logger.NewDefault("test"))
	b.Register()

	got := make(chan scheduler.BountyDescriptor, 2)
	bus.Subscribe(scheduler.EventBounty, eventbus.Parallel, 0, 0, func(ctx context.Context, args ...interface{}) {
		got <- args[0].(scheduler.BountyDescriptor)
	})

	for _, guid := range []string{
		"3fa85f64-5717-4562-b3fc-2c963f66afa6",
		"4fa85f64-5717-4562-b3fc-2c963f66afa6",
	} {
		raw := json.RawMessage(`{"guid":"` + guid + `","author":"a","amount":"1","uri":"u","expiration":1}`)
		bus.Publish(context.Background(), ingress.EventBountyRaw, raw)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for bridged bounty event")
		}
	}

	params.mu.Lock()
	defer params.mu.Unlock()
	require.Equal(t, 1, params.calls)
}

func TestBridgeDropsMalformedPayload(t *testing.T) {
	bus := eventbus.New(nil)
	params := &fakeParams{}
	b := New(bus, params, logger.NewDefault("test"))
	b.Register()

	got := make(chan struct{}, 1)
	bus.Subscribe(scheduler.EventBounty, eventbus.Parallel, 0, 0, func(ctx context.Context, args ...interface{}) {
		got <- struct{}{}
	})

	bus.Publish(context.Background(), ingress.EventBountyRaw, json.RawMessage(`not json`))

	select {
	case <-got:
		t.Fatal("malformed payload should not republish")
	case <-time.After(200 * time.Millisecond):
	}
}
