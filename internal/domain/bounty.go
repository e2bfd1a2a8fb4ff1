// Package domain holds the arbiter's persistent entity types and the
// constants that define the bounty/job state machines (spec §3).
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the top-level bounty lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
	StatusAborted  Status = "aborted"
)

// Bounty mirrors the `bounties` table (spec §3).
type Bounty struct {
	ID              int64
	GUID            uuid.UUID
	Author          string
	Amount          string
	NumArtifacts    int
	Status          Status
	ExpirationBlock int64
	VoteAfter       int64
	VoteBefore      int64
	RevealBlock     int64
	SettleBlock     int64
	TruthValue      []bool // nil until set
	TruthManual     bool
	Voted           bool
	Revealed        bool
	Settled         bool
	Assertions      []Assertion
	ErrorDelayBlock int64
	ErrorRetries    int
	CreatedAt       time.Time
}

// Assertion is a third-party expert's claim collected during reveal. It is
// used for disagreement metrics only, never for consensus (spec §6).
type Assertion struct {
	Author   string
	Bid      string
	Mask     []bool
	Verdicts []bool
	Metadata map[string]interface{}
}

// Deadlines computes the five deadline fields from the three inputs the
// market reports once per bounty (expiration block, vote window, reveal
// window), per spec §3's ordering invariant.
func Deadlines(expirationBlock, voteWindow, revealWindow int64) (voteAfter, voteBefore, revealBlock, settleBlock int64) {
	voteAfter = expirationBlock + revealWindow + 1
	voteBefore = expirationBlock + voteWindow
	revealBlock = expirationBlock + voteWindow + revealWindow
	settleBlock = revealBlock
	return
}

// Artifact mirrors the `artifacts` table.
type Artifact struct {
	ID                  int64
	BountyID            int64
	Hash                string
	Name                string
	Processed           bool
	ProcessedAt         *time.Time
	ProcessedAtInterval *int64
	Verdict             *int // 0..100, nil = unknown
}

// JobStatus is an ArtifactVerdict's position in the NEW -> SUBMITTING ->
// {PENDING, DONE, FAILED} / PENDING -> {DONE, FAILED} DAG (spec §3, §8).
type JobStatus int

const (
	JobStatusFailed     JobStatus = -1
	JobStatusDone       JobStatus = 0
	JobStatusNew        JobStatus = 1
	JobStatusSubmitting JobStatus = 2
	JobStatusPending    JobStatus = 3
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusFailed:
		return "failed"
	case JobStatusDone:
		return "done"
	case JobStatusNew:
		return "new"
	case JobStatusSubmitting:
		return "submitting"
	case JobStatusPending:
		return "pending"
	default:
		return "unknown"
	}
}

// ArtifactVerdict mirrors the `artifact_verdicts` table, one row per
// (artifact, configured backend at creation time).
type ArtifactVerdict struct {
	ID         int64
	ArtifactID int64
	Backend    string
	Verdict    *int
	Status     JobStatus
	Expires    *time.Time
	Meta       map[string]interface{}
}

// Verdict thresholds (spec §4.4, §GLOSSARY).
const (
	VerdictSafe      = 0
	VerdictMaybe     = 50
	VerdictMalicious = 100
)
