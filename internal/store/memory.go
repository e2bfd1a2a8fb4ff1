package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bountyarbiter/arbiterd/internal/domain"
)

// MemStore is an in-memory BountyStore used by unit tests for the
// scheduler, job engine and store. All locking is modeled with a
// single mutex, which is sufficient to exercise the state-machine logic
// (the concurrency guarantees themselves are the responsibility of the
// real PGStore's SQL-level locks).
type MemStore struct {
	mu sync.Mutex

	nextBountyID   int64
	nextArtifactID int64
	nextVerdictID  int64

	bounties  map[int64]*domain.Bounty
	byGUID    map[uuid.UUID]int64
	artifacts map[int64]*domain.Artifact
	verdicts  map[int64]*domain.ArtifactVerdict
	// artifactVerdictIDs indexes verdict ids per artifact, insertion order.
	artifactVerdictIDs map[int64][]int64
	bountyArtifactIDs  map[int64][]int64
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		bounties:           make(map[int64]*domain.Bounty),
		byGUID:             make(map[uuid.UUID]int64),
		artifacts:          make(map[int64]*domain.Artifact),
		verdicts:           make(map[int64]*domain.ArtifactVerdict),
		artifactVerdictIDs: make(map[int64][]int64),
		bountyArtifactIDs:  make(map[int64][]int64),
	}
}

func cloneBounty(b *domain.Bounty) *domain.Bounty {
	cp := *b
	cp.TruthValue = append([]bool(nil), b.TruthValue...)
	cp.Assertions = append([]domain.Assertion(nil), b.Assertions...)
	return &cp
}

func cloneArtifact(a *domain.Artifact) *domain.Artifact {
	cp := *a
	return &cp
}

func cloneVerdict(v *domain.ArtifactVerdict) *domain.ArtifactVerdict {
	cp := *v
	return &cp
}

func (s *MemStore) InsertBounty(ctx context.Context, in NewBountyInput) (*domain.Bounty, []domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byGUID[in.GUID]; exists {
		return nil, nil, ErrAlreadyExists
	}

	voteAfter, voteBefore, revealBlock, settleBlock := domain.Deadlines(in.ExpirationBlock, in.VoteWindow, in.RevealWindow)

	s.nextBountyID++
	id := s.nextBountyID
	b := &domain.Bounty{
		ID:              id,
		GUID:            in.GUID,
		Author:          in.Author,
		Amount:          in.Amount,
		NumArtifacts:    in.NumArtifacts,
		Status:          domain.StatusActive,
		ExpirationBlock: in.ExpirationBlock,
		VoteAfter:       voteAfter,
		VoteBefore:      voteBefore,
		RevealBlock:     revealBlock,
		SettleBlock:     settleBlock,
		TruthManual:     in.ManualMode,
		CreatedAt:       time.Now(),
	}
	s.bounties[id] = b
	s.byGUID[in.GUID] = id

	artifacts := make([]domain.Artifact, 0, len(in.Artifacts))
	for _, a := range in.Artifacts {
		s.nextArtifactID++
		aid := s.nextArtifactID
		art := &domain.Artifact{ID: aid, BountyID: id, Hash: a.Hash, Name: a.Name}
		s.artifacts[aid] = art
		s.bountyArtifactIDs[id] = append(s.bountyArtifactIDs[id], aid)

		for _, backend := range in.Backends {
			s.nextVerdictID++
			vid := s.nextVerdictID
			s.verdicts[vid] = &domain.ArtifactVerdict{
				ID: vid, ArtifactID: aid, Backend: backend, Status: domain.JobStatusNew,
			}
			s.artifactVerdictIDs[aid] = append(s.artifactVerdictIDs[aid], vid)
		}
		artifacts = append(artifacts, *art)
	}

	return cloneBounty(b), artifacts, nil
}

func (s *MemStore) GetBounty(ctx context.Context, guid uuid.UUID) (*domain.Bounty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byGUID[guid]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBounty(s.bounties[id]), nil
}

func (s *MemStore) WithBountyLock(ctx context.Context, id int64, fn func(b *domain.Bounty) (*domain.Bounty, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bounties[id]
	if !ok {
		return ErrNotFound
	}
	next, err := fn(cloneBounty(b))
	if err != nil {
		return err
	}
	if next != nil {
		s.bounties[id] = cloneBounty(next)
	}
	return nil
}

func (s *MemStore) scan(pred func(b *domain.Bounty) bool, limit int) []domain.Bounty {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.bounties))
	for id := range s.bounties {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]domain.Bounty, 0)
	for _, id := range ids {
		b := s.bounties[id]
		if pred(b) {
			out = append(out, *cloneBounty(b))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

func (s *MemStore) ScanVoteReady(ctx context.Context, curBlock int64, limit int) ([]domain.Bounty, error) {
	return s.scan(func(b *domain.Bounty) bool {
		return b.Status == domain.StatusActive && !b.Voted && b.TruthValue != nil &&
			curBlock >= b.VoteAfter && curBlock >= b.ErrorDelayBlock
	}, limit), nil
}

func (s *MemStore) ScanVoteHardExpired(ctx context.Context, curBlock int64, limit int) ([]domain.Bounty, error) {
	return s.scan(func(b *domain.Bounty) bool {
		return b.Status == domain.StatusActive && !b.Voted && b.TruthValue != nil &&
			curBlock-60 >= b.VoteBefore
	}, limit), nil
}

func (s *MemStore) ScanRevealReady(ctx context.Context, curBlock int64, limit int) ([]domain.Bounty, error) {
	return s.scan(func(b *domain.Bounty) bool {
		return b.Status == domain.StatusActive && !b.Revealed && curBlock >= b.RevealBlock
	}, limit), nil
}

func (s *MemStore) ScanSettleReady(ctx context.Context, curBlock int64, limit int) ([]domain.Bounty, error) {
	return s.scan(func(b *domain.Bounty) bool {
		return b.Status == domain.StatusActive && !b.Settled && b.Assertions != nil &&
			curBlock >= b.SettleBlock && curBlock >= b.ErrorDelayBlock
	}, limit), nil
}

func (s *MemStore) ScanManualExpired(ctx context.Context, curBlock int64, limit int) ([]domain.Bounty, error) {
	return s.scan(func(b *domain.Bounty) bool {
		return b.Status == domain.StatusActive && b.TruthManual && !b.Voted && curBlock >= b.VoteBefore
	}, limit), nil
}

func (s *MemStore) SetManualTruth(ctx context.Context, guid uuid.UUID, truth []bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byGUID[guid]
	if !ok {
		return ErrNotFound
	}
	b := s.bounties[id]
	if b.Voted || b.Settled {
		return ErrBountyTerminal
	}
	b.TruthValue = append([]bool(nil), truth...)
	b.TruthManual = true
	return nil
}

func (s *MemStore) ListArtifacts(ctx context.Context, bountyID int64) ([]domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.bountyArtifactIDs[bountyID]
	out := make([]domain.Artifact, 0, len(ids))
	for _, id := range ids {
		out = append(out, *cloneArtifact(s.artifacts[id]))
	}
	return out, nil
}

func (s *MemStore) GetArtifact(ctx context.Context, artifactID int64) (*domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[artifactID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneArtifact(a), nil
}

func (s *MemStore) WithArtifactLock(ctx context.Context, artifactID int64, fn func(a *domain.Artifact) (*domain.Artifact, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[artifactID]
	if !ok {
		return ErrNotFound
	}
	next, err := fn(cloneArtifact(a))
	if err != nil {
		return err
	}
	if next != nil {
		s.artifacts[artifactID] = cloneArtifact(next)
	}
	return nil
}

func (s *MemStore) NewToSubmitting(ctx context.Context, artifactID int64) ([]domain.ArtifactVerdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ArtifactVerdict
	for _, id := range s.artifactVerdictIDs[artifactID] {
		v := s.verdicts[id]
		if v.Status == domain.JobStatusNew {
			v.Status = domain.JobStatusSubmitting
			out = append(out, *cloneVerdict(v))
		}
	}
	return out, nil
}

func (s *MemStore) ListArtifactVerdicts(ctx context.Context, artifactID int64) ([]domain.ArtifactVerdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ArtifactVerdict, 0)
	for _, id := range s.artifactVerdictIDs[artifactID] {
		out = append(out, *cloneVerdict(s.verdicts[id]))
	}
	return out, nil
}

func (s *MemStore) UpdateVerdictIfStatus(ctx context.Context, id int64, expect domain.JobStatus, fields VerdictUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.verdicts[id]
	if !ok {
		return false, ErrNotFound
	}
	if v.Status != expect {
		return false, nil
	}
	v.Status = fields.Status
	v.Verdict = fields.Verdict
	v.Meta = fields.Meta
	v.Expires = fields.Expires
	return true, nil
}

func (s *MemStore) WithVerdictLock(ctx context.Context, id int64, fn func(v *domain.ArtifactVerdict) (*domain.ArtifactVerdict, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.verdicts[id]
	if !ok {
		return ErrNotFound
	}
	next, err := fn(cloneVerdict(v))
	if err != nil {
		return err
	}
	if next != nil {
		s.verdicts[id] = cloneVerdict(next)
	}
	return nil
}

func (s *MemStore) ExpirePending(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.verdicts))
	for id := range s.verdicts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	touched := map[int64]struct{}{}
	var touchedList []int64
	for _, id := range ids {
		v := s.verdicts[id]
		if v.Status == domain.JobStatusPending && v.Expires != nil && v.Expires.Before(now) {
			v.Status = domain.JobStatusFailed
			v.Expires = nil
			if _, seen := touched[v.ArtifactID]; !seen {
				touched[v.ArtifactID] = struct{}{}
				touchedList = append(touchedList, v.ArtifactID)
			}
			if limit > 0 && len(touchedList) >= limit {
				break
			}
		}
	}
	return touchedList, nil
}

func (s *MemStore) ArtifactsWithNewJobs(ctx context.Context, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[int64]struct{}{}
	var out []int64
	aids := make([]int64, 0, len(s.artifacts))
	for id := range s.artifacts {
		aids = append(aids, id)
	}
	sort.Slice(aids, func(i, j int) bool { return aids[i] < aids[j] })

	for _, aid := range aids {
		for _, vid := range s.artifactVerdictIDs[aid] {
			if s.verdicts[vid].Status == domain.JobStatusNew {
				if _, ok := seen[aid]; !ok {
					seen[aid] = struct{}{}
					out = append(out, aid)
				}
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemStore) ResetPendingJobs(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, v := range s.verdicts {
		if v.Status == domain.JobStatusPending {
			v.Status = domain.JobStatusNew
			v.Expires = nil
			n++
		}
	}
	return n, nil
}

func (s *MemStore) MarkArtifactProcessed(ctx context.Context, artifactID int64, verdict *int, at time.Time, interval int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[artifactID]
	if !ok {
		return ErrNotFound
	}
	if a.Processed {
		return nil
	}
	a.Processed = true
	a.ProcessedAt = &at
	a.ProcessedAtInterval = &interval
	a.Verdict = verdict
	return nil
}
