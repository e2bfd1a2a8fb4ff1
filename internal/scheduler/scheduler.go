// Package scheduler implements the BountyScheduler: the bounty state
// machine and the three block-deadline queues (vote/reveal/settle), spec
// §4.6. Grounded on the original arbiter's bounties.py BountyComponent:
// concurrency caps become in-memory membership sets guarded by a mutex
// (is_voting/is_revealing/is_settling), periodic advance loops become
// eventbus.Periodic handlers, and phase handlers become parallel
// (serialize=false) eventbus subscriptions protected per-guid by those
// membership sets.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bountyarbiter/arbiterd/internal/domain"
	"github.com/bountyarbiter/arbiterd/internal/eventbus"
	"github.com/bountyarbiter/arbiterd/internal/metrics"
	"github.com/bountyarbiter/arbiterd/internal/platform/apperr"
	"github.com/bountyarbiter/arbiterd/internal/platform/logger"
	"github.com/bountyarbiter/arbiterd/internal/store"
)

// Event names on the shared bus.
const (
	EventBounty                = "bounty"
	EventBlockUpdated          = "block_updated"
	EventBountyArtifactVerdict = "bounty_artifact_verdict"
	EventBountyVote            = "bounty_vote"
	EventBountyAssertionsReveal = "bounty_assertions_reveal"
	EventBountySettle          = "bounty_settle"
	EventBountyAborted         = "bounty_aborted"
	EventBountyManual          = "bounty_manual"
	EventBountySettled         = "bounty_settled"
)

// Concurrency caps (spec §4.6 suggested defaults).
const (
	MaxOutstandingVotes   = 128
	MaxOutstandingReveals = 64
	MaxOutstandingSettles = 128
	NewBountyConcurrency  = 32
)

// ArtifactStore fetches bounty manifests and artifact bodies. Out of scope
// per spec §1; specified only via this interface.
type ArtifactStore interface {
	FetchManifest(ctx context.Context, uri string) ([]store.NewArtifactInput, error)
	FetchBody(ctx context.Context, uri string, index int) ([]byte, error)
}

// MarketClient is the typed wrapper over the market gateway (spec §6),
// consumed here as an interface so the scheduler is independently testable.
type MarketClient interface {
	Vote(ctx context.Context, guid uuid.UUID, value []bool) error
	Assertions(ctx context.Context, guid uuid.UUID) ([]domain.Assertion, error)
	Settle(ctx context.Context, guid uuid.UUID) error
}

// Config mirrors spec §9's recognized options relevant to the scheduler.
type Config struct {
	ManualMode                    bool
	ExpertDisagreementAutoManual  bool // spec §9 Open Question 1, default off
	TrustedExperts                domain.TrustedAuthors
	Backends                      []string
}

// Scheduler owns cur_block and the phase membership sets.
type Scheduler struct {
	store  store.BountyStore
	bus    *eventbus.Bus
	market MarketClient
	arts   ArtifactStore
	log    *logger.Logger
	cfg    Config

	blockMu  sync.Mutex
	curBlock int64

	votingMu  sync.Mutex
	voting    map[uuid.UUID]struct{}
	revealMu  sync.Mutex
	revealing map[uuid.UUID]struct{}
	settleMu  sync.Mutex
	settling  map[uuid.UUID]struct{}
}

// New constructs a Scheduler.
func New(st store.BountyStore, bus *eventbus.Bus, market MarketClient, arts ArtifactStore, log *logger.Logger, cfg Config) *Scheduler {
	return &Scheduler{
		store: st, bus: bus, market: market, arts: arts, log: log, cfg: cfg,
		voting:    make(map[uuid.UUID]struct{}),
		revealing: make(map[uuid.UUID]struct{}),
		settling:  make(map[uuid.UUID]struct{}),
	}
}

// Register subscribes all of the scheduler's event handlers.
func (s *Scheduler) Register() {
	s.bus.Subscribe(EventBlockUpdated, eventbus.Serialized, 1, 0, s.handleBlockUpdated)
	s.bus.Subscribe(EventBounty, eventbus.Serialized, NewBountyConcurrency, 0, s.handleBounty)
	s.bus.Subscribe(EventBountyArtifactVerdict, eventbus.Serialized, 1, 0, s.handleBountyArtifactVerdict)
	s.bus.Subscribe(EventBountyVote, eventbus.Parallel, 0, 0, s.handleBountyVote)
	s.bus.Subscribe(EventBountyAssertionsReveal, eventbus.Parallel, 0, 0, s.handleBountyAssertionsReveal)
	s.bus.Subscribe(EventBountySettle, eventbus.Parallel, 0, 0, s.handleBountySettle)
}

// StartPeriodic starts the three 5s advance loops plus the 1-minute
// flush_expired_manual handler, per spec §4.6.
func (s *Scheduler) StartPeriodic(ctx context.Context, group *eventbus.Group) {
	group.Add(ctx, 5*time.Second, eventbus.SleepFirst, s.advanceVote)
	group.Add(ctx, 5*time.Second, eventbus.SleepFirst, s.advanceReveal)
	group.Add(ctx, 5*time.Second, eventbus.SleepFirst, s.advanceSettle)
	group.Add(ctx, time.Minute, eventbus.SleepFirst, s.flushExpiredManual)
}

// CurBlock returns the scheduler's monotonic view of the chain head.
func (s *Scheduler) CurBlock() int64 {
	s.blockMu.Lock()
	defer s.blockMu.Unlock()
	return s.curBlock
}

func (s *Scheduler) handleBlockUpdated(ctx context.Context, args ...interface{}) {
	block := args[0].(int64)
	s.blockMu.Lock()
	defer s.blockMu.Unlock()
	if block > s.curBlock {
		s.curBlock = block
	}
}

// BountyDescriptor is the ingress-normalized payload for a new market bounty.
type BountyDescriptor struct {
	GUID            uuid.UUID
	Author          string
	Amount          string
	URI             string
	ExpirationBlock int64
	VoteWindow      int64
	RevealWindow    int64
}

// handleBounty implements spec §4.6 "On bounty event", steps 1-5.
func (s *Scheduler) handleBounty(ctx context.Context, args ...interface{}) {
	desc := args[0].(BountyDescriptor)
	log := s.log.WithField("guid", desc.GUID.String())

	manifest, err := s.arts.FetchManifest(ctx, desc.URI)
	if err != nil || len(manifest) == 0 {
		log.WithField("err", err).Warn("scheduler: manifest fetch failed or empty, dropping bounty")
		return
	}

	b, artifacts, err := s.store.InsertBounty(ctx, store.NewBountyInput{
		GUID: desc.GUID, Author: desc.Author, Amount: desc.Amount,
		NumArtifacts: len(manifest), ExpirationBlock: desc.ExpirationBlock,
		VoteWindow: desc.VoteWindow, RevealWindow: desc.RevealWindow,
		ManualMode: s.cfg.ManualMode, Artifacts: manifest, Backends: s.cfg.Backends,
	})
	if err != nil {
		if err == store.ErrAlreadyExists {
			log.Debug("scheduler: duplicate bounty delivery, ignoring")
			return
		}
		log.WithField("err", err).Error("scheduler: insert bounty failed")
		return
	}

	var wg sync.WaitGroup
	for i, a := range artifacts {
		wg.Add(1)
		go func(idx int, art domain.Artifact) {
			defer wg.Done()
			if _, err := s.arts.FetchBody(ctx, desc.URI, idx); err != nil {
				log.WithField("err", err).WithField("artifact_id", art.ID).
					Warn("scheduler: artifact body fetch failed, continuing")
			}
		}(i, a)
	}
	wg.Wait()

	for _, a := range artifacts {
		s.bus.Publish(ctx, "verdict_jobs", a.ID)
	}
	_ = b
}

// handleBountyArtifactVerdict implements spec §4.6 "On bounty_artifact_verdict".
func (s *Scheduler) handleBountyArtifactVerdict(ctx context.Context, args ...interface{}) {
	bountyID := args[0].(int64)
	curBlock := s.CurBlock()

	err := s.store.WithBountyLock(ctx, bountyID, func(b *domain.Bounty) (*domain.Bounty, error) {
		if b.TruthValue != nil || b.TruthManual {
			return nil, nil
		}
		if curBlock >= b.VoteBefore {
			b.Status = domain.StatusAborted
			s.bus.Publish(ctx, EventBountyAborted, b.GUID)
			return b, nil
		}

		artifacts, err := s.store.ListArtifacts(ctx, bountyID)
		if err != nil {
			return nil, err
		}

		ready := true
		manual := false
		truth := make([]bool, 0, len(artifacts))
		for _, a := range artifacts {
			if !a.Processed {
				ready = false
				break
			}
			if a.Verdict == nil {
				manual = true
				truth = append(truth, false)
				continue
			}
			truth = append(truth, *a.Verdict >= domain.VerdictMaybe)
		}

		if manual {
			b.TruthManual = true
			s.bus.Publish(ctx, EventBountyManual, b.GUID)
			return b, nil
		}
		if !ready {
			return nil, nil
		}
		b.TruthValue = truth
		return b, nil
	})
	if err != nil {
		s.log.WithField("err", err).WithField("bounty_id", bountyID).
			Error("scheduler: bounty_artifact_verdict failed")
	}
}

func (s *Scheduler) advanceVote(ctx context.Context) {
	curBlock := s.CurBlock()

	hardExpired, err := s.store.ScanVoteHardExpired(ctx, curBlock, 500)
	if err != nil {
		s.log.WithField("err", err).Error("scheduler: advance_vote hard-expire scan failed")
	}
	for _, b := range hardExpired {
		s.forceVoted(ctx, b.ID)
	}

	ready, err := s.store.ScanVoteReady(ctx, curBlock, 500)
	if err != nil {
		s.log.WithField("err", err).Error("scheduler: advance_vote scan failed")
		return
	}
	s.votingMu.Lock()
	n := len(s.voting)
	s.votingMu.Unlock()

	for _, b := range ready {
		if n >= MaxOutstandingVotes {
			break
		}
		if s.tryMark(&s.votingMu, s.voting, b.GUID) {
			n++
			s.bus.Publish(ctx, EventBountyVote, b.GUID, b.TruthValue, b.VoteBefore)
		}
	}
}

func (s *Scheduler) forceVoted(ctx context.Context, bountyID int64) {
	_ = s.store.WithBountyLock(ctx, bountyID, func(b *domain.Bounty) (*domain.Bounty, error) {
		if b.Voted {
			return nil, nil
		}
		b.Voted = true
		return b, nil
	})
}

func (s *Scheduler) advanceReveal(ctx context.Context) {
	curBlock := s.CurBlock()
	ready, err := s.store.ScanRevealReady(ctx, curBlock, 500)
	if err != nil {
		s.log.WithField("err", err).Error("scheduler: advance_reveal scan failed")
		return
	}
	s.revealMu.Lock()
	n := len(s.revealing)
	s.revealMu.Unlock()

	for _, b := range ready {
		if n >= MaxOutstandingReveals {
			break
		}
		if s.tryMark(&s.revealMu, s.revealing, b.GUID) {
			n++
			s.bus.Publish(ctx, EventBountyAssertionsReveal, b.GUID, b.TruthValue)
		}
	}
}

func (s *Scheduler) advanceSettle(ctx context.Context) {
	curBlock := s.CurBlock()
	ready, err := s.store.ScanSettleReady(ctx, curBlock, 500)
	if err != nil {
		s.log.WithField("err", err).Error("scheduler: advance_settle scan failed")
		return
	}
	s.settleMu.Lock()
	n := len(s.settling)
	s.settleMu.Unlock()

	for _, b := range ready {
		if n >= MaxOutstandingSettles {
			break
		}
		if s.tryMark(&s.settleMu, s.settling, b.GUID) {
			n++
			s.bus.Publish(ctx, EventBountySettle, b.GUID)
		}
	}
}

func (s *Scheduler) flushExpiredManual(ctx context.Context) {
	curBlock := s.CurBlock()
	expired, err := s.store.ScanManualExpired(ctx, curBlock, 500)
	if err != nil {
		s.log.WithField("err", err).Error("scheduler: flush_expired_manual scan failed")
		return
	}
	for _, b := range expired {
		s.forceVoted(ctx, b.ID)
	}
}

func (s *Scheduler) tryMark(mu *sync.Mutex, set map[uuid.UUID]struct{}, guid uuid.UUID) bool {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := set[guid]; ok {
		return false
	}
	set[guid] = struct{}{}
	return true
}

func (s *Scheduler) unmark(mu *sync.Mutex, set map[uuid.UUID]struct{}, guid uuid.UUID) {
	mu.Lock()
	defer mu.Unlock()
	delete(set, guid)
}

// handleBountyVote implements spec §4.6 bounty_vote phase handler.
func (s *Scheduler) handleBountyVote(ctx context.Context, args ...interface{}) {
	guid := args[0].(uuid.UUID)
	value := args[1].([]bool)
	voteBefore := args[2].(int64)
	defer s.unmark(&s.votingMu, s.voting, guid)

	curBlock := s.CurBlock()
	var callErr error
	if curBlock > voteBefore {
		s.log.WithField("guid", guid.String()).Error("scheduler: vote submitted after window close, marking voted administratively")
	} else {
		callErr = s.market.Vote(ctx, guid, value)
	}

	s.applyPhaseResult(ctx, "vote", guid, callErr, func(b *domain.Bounty) {
		b.Voted = true
	})
}

// handleBountyAssertionsReveal implements spec §4.6 bounty_assertions_reveal.
func (s *Scheduler) handleBountyAssertionsReveal(ctx context.Context, args ...interface{}) {
	guid := args[0].(uuid.UUID)
	truth, _ := args[1].([]bool)
	defer s.unmark(&s.revealMu, s.revealing, guid)

	assertions, err := s.market.Assertions(ctx, guid)
	if apperr.IsNotFound(err) {
		assertions = nil
		err = nil
	}
	if err != nil {
		s.log.WithField("guid", guid.String()).WithField("err", err).Warn("scheduler: assertions fetch failed, will retry")
		return
	}

	s.withBountyByGUID(ctx, guid, func(b *domain.Bounty) (*domain.Bounty, error) {
		b.Revealed = true
		b.Assertions = assertions
		if s.cfg.ExpertDisagreementAutoManual && truth != nil &&
			domain.ExpertsDisagree(assertions, truth, s.cfg.TrustedExperts) {
			b.TruthManual = true
		}
		return b, nil
	})
}

// handleBountySettle implements spec §4.6 bounty_settle.
func (s *Scheduler) handleBountySettle(ctx context.Context, args ...interface{}) {
	guid := args[0].(uuid.UUID)
	defer s.unmark(&s.settleMu, s.settling, guid)

	err := s.market.Settle(ctx, guid)
	if apperr.IsNotFound(err) {
		err = nil // already settled, treat as terminal success
	}

	s.applyPhaseResult(ctx, "settle", guid, err, func(b *domain.Bounty) {
		b.Settled = true
		b.Status = domain.StatusFinished
		s.bus.Publish(ctx, EventBountySettled, guid)
		metrics.RecordSettled(settleOutcome(b))
	})
}

func settleOutcome(b *domain.Bounty) string {
	if b.TruthManual {
		return "manual"
	}
	malicious := 0
	for _, v := range b.TruthValue {
		if v {
			malicious++
		}
	}
	if malicious == 0 {
		return "safe"
	}
	if malicious == len(b.TruthValue) {
		return "malicious"
	}
	return "mixed"
}

// applyPhaseResult centralizes the soft-fail/hard-fail/success classification
// shared by bounty_vote and bounty_settle (spec §4.6, §7): transient errors
// increment error_retries and set error_delay_block, aborting after three
// strikes; any other outcome (success, or permanent failure) applies
// onSuccess and clears the error state. Any IO error soft-fails
// unconditionally, regardless of deadline windows.
func (s *Scheduler) applyPhaseResult(ctx context.Context, phase string, guid uuid.UUID, err error, onSuccess func(b *domain.Bounty)) {
	transient := err != nil && (apperr.IsTransient(err) || isIOError(err))

	if err != nil {
		metrics.RecordError("scheduler."+phase, apperr.ClassName(err))
	}

	s.withBountyByGUID(ctx, guid, func(b *domain.Bounty) (*domain.Bounty, error) {
		if transient {
			b.ErrorDelayBlock = s.CurBlock() + 5
			b.ErrorRetries++
			if b.ErrorRetries >= 3 {
				b.Status = domain.StatusAborted
				metrics.RecordBountyAborted(phase)
				metrics.RecordPhaseOutcome(phase, "aborted")
			} else {
				metrics.RecordPhaseOutcome(phase, "transient")
			}
			return b, nil
		}
		onSuccess(b)
		b.ErrorDelayBlock = 0
		b.ErrorRetries = 0
		metrics.RecordPhaseOutcome(phase, "success")
		return b, nil
	})
}

func isIOError(err error) bool {
	return err != nil && !apperr.IsPermanent(err) && !apperr.IsTransient(err) && !apperr.IsNotFound(err)
}

// withBountyByGUID looks the bounty up by guid then locks it by id, since
// the store's lock primitive operates on the numeric id (spec §4.3).
func (s *Scheduler) withBountyByGUID(ctx context.Context, guid uuid.UUID, fn func(b *domain.Bounty) (*domain.Bounty, error)) {
	b, err := s.store.GetBounty(ctx, guid)
	if err != nil {
		s.log.WithField("guid", guid.String()).WithField("err", err).Error("scheduler: bounty lookup failed")
		return
	}
	if err := s.store.WithBountyLock(ctx, b.ID, fn); err != nil {
		s.log.WithField("guid", guid.String()).WithField("err", err).Error("scheduler: bounty lock failed")
	}
}

// SettleManual is the operator override surface (spec §6 `settle` CLI,
// §12 bounty_settle_manual): force a truth vector onto a bounty that has
// not yet voted or settled.
func (s *Scheduler) SettleManual(ctx context.Context, guid uuid.UUID, votes []bool) error {
	return s.store.SetManualTruth(ctx, guid, votes)
}
