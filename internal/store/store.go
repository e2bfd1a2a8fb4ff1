// Package store is the BountyStore: durable persistence for bounties,
// artifacts, and per-backend artifact-verdict rows, with pessimistic row
// locking on every mutation (spec §4.3). It is grounded on the teacher's
// jam.PGStore (internal/app/jam/store_pg.go): BeginTx/defer Rollback/Commit,
// SELECT ... FOR UPDATE, and an ErrNotFound sentinel on sql.ErrNoRows.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bountyarbiter/arbiterd/internal/domain"
)

// Err is a minimal string-backed error type, mirrored from the teacher's
// applications/jam coordinator pattern.
type Err string

func (e Err) Error() string { return string(e) }

const (
	ErrNotFound       Err = "store: not found"
	ErrAlreadyExists  Err = "store: already exists"
	ErrAlreadyLocked  Err = "store: row already processed"
	ErrVotingClosed   Err = "store: voting window closed"
	ErrBountyTerminal Err = "store: bounty is terminal"
)

// NewBountyInput is the set of fields known at bounty-creation time (spec
// §4.6 bounty_with_manifest).
type NewBountyInput struct {
	GUID            uuid.UUID
	Author          string
	Amount          string
	NumArtifacts    int
	ExpirationBlock int64
	VoteWindow      int64
	RevealWindow    int64
	ManualMode      bool
	Artifacts       []NewArtifactInput
	Backends        []string
}

// NewArtifactInput is one manifest entry.
type NewArtifactInput struct {
	Hash string
	Name string
}

// BountyStore is the full persistence surface the scheduler and job engine
// depend on. A single Postgres-backed implementation (PGStore) and an
// in-memory implementation (MemStore, used in unit tests) both satisfy it.
type BountyStore interface {
	// InsertBounty creates a bounty with its artifacts and one
	// NEW ArtifactVerdict per (artifact, backend). Returns
	// ErrAlreadyExists (spec: Integrity class) if guid already exists;
	// that case is an idempotent no-op from the caller's perspective.
	InsertBounty(ctx context.Context, in NewBountyInput) (*domain.Bounty, []domain.Artifact, error)

	// GetBounty reads a bounty by GUID without locking.
	GetBounty(ctx context.Context, guid uuid.UUID) (*domain.Bounty, error)

	// WithBountyLock takes a row lock (SELECT ... FOR UPDATE) on the
	// bounty by id and runs fn inside the transaction; fn's returned
	// bounty (if non-nil) is persisted on commit.
	WithBountyLock(ctx context.Context, id int64, fn func(b *domain.Bounty) (*domain.Bounty, error)) error

	// ScanVoteReady returns active bounties with a truth value, not yet
	// voted, whose vote_after has arrived.
	ScanVoteReady(ctx context.Context, curBlock int64, limit int) ([]domain.Bounty, error)
	// ScanVoteHardExpired returns active bounties whose vote window
	// lapsed 60+ blocks ago without a vote (administrative force-voted).
	ScanVoteHardExpired(ctx context.Context, curBlock int64, limit int) ([]domain.Bounty, error)
	// ScanRevealReady returns active, unrevealed bounties past reveal_block.
	ScanRevealReady(ctx context.Context, curBlock int64, limit int) ([]domain.Bounty, error)
	// ScanSettleReady returns active, unsettled bounties with assertions
	// fetched, past settle_block, and not in an error backoff window.
	ScanSettleReady(ctx context.Context, curBlock int64, limit int) ([]domain.Bounty, error)
	// ScanManualExpired returns active, truth_manual bounties past
	// vote_before that have not yet been administratively voted.
	ScanManualExpired(ctx context.Context, curBlock int64, limit int) ([]domain.Bounty, error)

	// SetManualTruth is the operator override (bounty_settle_manual):
	// sets truth_value/truth_manual directly, failing if the bounty has
	// already voted or settled.
	SetManualTruth(ctx context.Context, guid uuid.UUID, truth []bool) error

	// ListArtifacts returns every artifact of a bounty in id order.
	ListArtifacts(ctx context.Context, bountyID int64) ([]domain.Artifact, error)
	// GetArtifact reads a single artifact without locking.
	GetArtifact(ctx context.Context, artifactID int64) (*domain.Artifact, error)
	// WithArtifactLock locks the artifact row for update.
	WithArtifactLock(ctx context.Context, artifactID int64, fn func(a *domain.Artifact) (*domain.Artifact, error)) error

	// NewToSubmitting atomically moves every NEW ArtifactVerdict row of
	// artifactID to SUBMITTING and returns the moved rows.
	NewToSubmitting(ctx context.Context, artifactID int64) ([]domain.ArtifactVerdict, error)
	// ListArtifactVerdicts returns every verdict row for an artifact.
	ListArtifactVerdicts(ctx context.Context, artifactID int64) ([]domain.ArtifactVerdict, error)
	// UpdateVerdictIfStatus conditionally updates a row, returning
	// whether the predicate matched (race guard against async callbacks
	// racing job-submit's own bookkeeping, spec §4.5).
	UpdateVerdictIfStatus(ctx context.Context, id int64, expect domain.JobStatus, fields VerdictUpdate) (bool, error)
	// WithVerdictLock locks one ArtifactVerdict row by id for update.
	WithVerdictLock(ctx context.Context, id int64, fn func(v *domain.ArtifactVerdict) (*domain.ArtifactVerdict, error)) error
	// ExpirePending transitions PENDING rows whose expires < now to
	// FAILED and returns the distinct artifact ids touched.
	ExpirePending(ctx context.Context, now time.Time, limit int) ([]int64, error)
	// ArtifactsWithNewJobs returns artifact ids that still have at least
	// one NEW row (retry_submissions periodic scan).
	ArtifactsWithNewJobs(ctx context.Context, limit int) ([]int64, error)
	// ResetPendingJobs transitions every PENDING row back to NEW; called
	// once at process start for crash recovery (spec §4.3, §8).
	ResetPendingJobs(ctx context.Context) (int64, error)

	// MarkArtifactProcessed sets processed/processed_at/verdict once
	// (spec §4.5 step 4), only if not already processed.
	MarkArtifactProcessed(ctx context.Context, artifactID int64, verdict *int, at time.Time, interval int64) error
}

// VerdictUpdate is the set of columns JobEngine conditionally writes.
type VerdictUpdate struct {
	Status  domain.JobStatus
	Verdict *int
	Meta    map[string]interface{}
	Expires *time.Time
}
