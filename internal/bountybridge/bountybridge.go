// Package bountybridge decodes the ingress's raw gateway bounty payload
// (internal/ingress.EventBountyRaw) into a scheduler.BountyDescriptor and
// republishes it under scheduler.EventBounty. The two packages can't share
// one event name directly: ingress republishes the gateway's bounty JSON
// verbatim, while the scheduler expects vote/reveal windows already
// resolved. Grounded on original_source/arbiter/bounties.py, which reads
// self.polyswarm.vote_window/reveal_window once from a cached client
// rather than refetching them per bounty.
package bountybridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/bountyarbiter/arbiterd/internal/eventbus"
	"github.com/bountyarbiter/arbiterd/internal/ingress"
	"github.com/bountyarbiter/arbiterd/internal/market"
	"github.com/bountyarbiter/arbiterd/internal/platform/logger"
	"github.com/bountyarbiter/arbiterd/internal/scheduler"
)

// Parameters fetches the vote/reveal window, kept as a narrow interface
// (satisfied by *market.Client) so this package only depends on the one
// method it actually calls.
type Parameters interface {
	Parameters(ctx context.Context) (market.Parameters, error)
}

// Bridge subscribes to ingress's raw bounty topic and republishes a typed
// scheduler.BountyDescriptor.
type Bridge struct {
	bus    *eventbus.Bus
	params Parameters
	log    *logger.Logger

	mu      sync.Mutex
	cached  bool
	vote    int64
	reveal  int64
}

// New constructs a Bridge.
func New(bus *eventbus.Bus, params Parameters, log *logger.Logger) *Bridge {
	return &Bridge{bus: bus, params: params, log: log}
}

// Register subscribes the bridge's handler on bus. Serialized with a
// single worker: the first bounty's Parameters() fetch must complete and
// populate the cache before a second bounty reads it.
func (b *Bridge) Register() {
	b.bus.Subscribe(ingress.EventBountyRaw, eventbus.Serialized, 1, 0, b.handleRaw)
}

type rawBountyDescriptor struct {
	GUID       string `json:"guid"`
	Author     string `json:"author"`
	Amount     string `json:"amount"`
	URI        string `json:"uri"`
	Expiration int64  `json:"expiration"`
}

func (b *Bridge) handleRaw(ctx context.Context, args ...interface{}) {
	raw, ok := args[0].(json.RawMessage)
	if !ok {
		b.log.Warn("bountybridge: unexpected payload type, dropping")
		return
	}

	var rb rawBountyDescriptor
	if err := json.Unmarshal(raw, &rb); err != nil {
		b.log.WithField("err", err).Warn("bountybridge: malformed bounty payload, dropping")
		return
	}

	guid, err := uuid.Parse(rb.GUID)
	if err != nil {
		b.log.WithField("err", err).Warn("bountybridge: invalid bounty guid, dropping")
		return
	}

	vote, reveal, err := b.windows(ctx)
	if err != nil {
		b.log.WithField("err", err).Error("bountybridge: fetching vote/reveal window failed, dropping bounty")
		return
	}

	b.bus.Publish(ctx, scheduler.EventBounty, scheduler.BountyDescriptor{
		GUID:            guid,
		Author:          rb.Author,
		Amount:          rb.Amount,
		URI:             rb.URI,
		ExpirationBlock: rb.Expiration,
		VoteWindow:      vote,
		RevealWindow:    reveal,
	})
}

// windows returns the cached vote/reveal window, fetching it once on first
// use (spec §4.6: these are market-wide constants, not per-bounty values).
func (b *Bridge) windows(ctx context.Context) (vote, reveal int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cached {
		return b.vote, b.reveal, nil
	}
	p, err := b.params.Parameters(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch bounty parameters: %w", err)
	}
	b.vote, b.reveal, b.cached = p.ArbiterVoteWindow, p.AssertionRevealWindow, true
	return b.vote, b.reveal, nil
}
