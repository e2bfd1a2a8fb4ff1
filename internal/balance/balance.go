// Package balance is the reserve reconciler: it keeps the arbiter's side-
// chain NCT balance inside a configured [min_side, max_side] band by
// relaying funds from the home chain, topping up by refill_amount whenever
// the band is breached low (spec §9 min_side/max_side/refill_amount).
// Grounded on the teacher's gasbank/service.go: a distinct logger stream
// (here rs/zerolog rather than the arbiter's primary logrus stream, mirroring
// the teacher's Service.log field), and the same rollback-on-failure
// posture around a funds-moving operation.
package balance

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/bountyarbiter/arbiterd/internal/eventbus"
)

// Relayer moves funds between chains; satisfied by market.Client in
// production and a fake in tests.
type Relayer interface {
	Balance(ctx context.Context, acct, side string) (string, error)
	Relay(ctx context.Context, side string, amount *big.Int) error
}

// Config governs the reconciler's thresholds (spec §9).
type Config struct {
	Account      string
	MinSide      *big.Int
	MaxSide      *big.Int
	RefillAmount *big.Int
	Interval     string // informational only; the caller drives the periodic loop
}

// Reconciler checks and corrects the side-chain balance.
type Reconciler struct {
	relayer Relayer
	cfg     Config
	log     zerolog.Logger
}

// New constructs a Reconciler. log should be a dedicated zerolog stream
// (e.g. tagged component=balance), not shared with the arbiter's primary
// logrus output, so reserve movements are easy to grep in isolation.
func New(relayer Relayer, cfg Config, log zerolog.Logger) *Reconciler {
	return &Reconciler{relayer: relayer, cfg: cfg, log: log.With().Str("component", "balance").Logger()}
}

// Reconcile runs one check-and-correct pass. It tops up from home to side
// when side balance is below MinSide, and relays the excess back to home
// when above MaxSide. Either bound may be nil to disable that direction.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	raw, err := r.relayer.Balance(ctx, r.cfg.Account, "nct")
	if err != nil {
		return fmt.Errorf("balance: read side balance: %w", err)
	}
	side, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return fmt.Errorf("balance: non-numeric side balance %q", raw)
	}

	switch {
	case r.cfg.MinSide != nil && side.Cmp(r.cfg.MinSide) < 0:
		return r.topUp(ctx, side)
	case r.cfg.MaxSide != nil && side.Cmp(r.cfg.MaxSide) > 0:
		return r.drain(ctx, side)
	default:
		r.log.Debug().Str("side_balance", side.String()).Msg("balance within band")
		return nil
	}
}

func (r *Reconciler) topUp(ctx context.Context, side *big.Int) error {
	amount := r.cfg.RefillAmount
	if amount == nil || amount.Sign() <= 0 {
		r.log.Warn().Str("side_balance", side.String()).Msg("side balance below min_side but no refill_amount configured")
		return nil
	}
	r.log.Info().Str("side_balance", side.String()).Str("refill_amount", amount.String()).Msg("relaying funds home -> side")
	if err := r.relayer.Relay(ctx, "side", amount); err != nil {
		r.log.Error().Err(err).Msg("top-up relay failed")
		return fmt.Errorf("balance: top-up relay: %w", err)
	}
	return nil
}

func (r *Reconciler) drain(ctx context.Context, side *big.Int) error {
	excess := new(big.Int).Sub(side, r.cfg.MaxSide)
	r.log.Info().Str("side_balance", side.String()).Str("excess", excess.String()).Msg("relaying excess side -> home")
	if err := r.relayer.Relay(ctx, "home", excess); err != nil {
		r.log.Error().Err(err).Msg("drain relay failed")
		return fmt.Errorf("balance: drain relay: %w", err)
	}
	return nil
}

// StartPeriodic runs Reconcile on a fixed interval using the shared
// eventbus.Periodic scheduling substrate, consistent with every other
// periodic loop in the arbiter.
func (r *Reconciler) StartPeriodic(ctx context.Context, group *eventbus.Group, interval time.Duration) {
	group.Add(ctx, interval, eventbus.SleepFirst, func(ctx context.Context) {
		if err := r.Reconcile(ctx); err != nil {
			r.log.Error().Err(err).Msg("reconcile pass failed")
		}
	})
}
