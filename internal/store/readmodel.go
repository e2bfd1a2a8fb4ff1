package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bountyarbiter/arbiterd/internal/domain"
)

// ReadModel is the dashboard/CLI's read-only query surface, satisfied by
// *PGStore. Kept separate from BountyStore because these are plain indexed
// SELECTs with no locking semantics, not part of the state machine.
type ReadModel interface {
	ListBounties(ctx context.Context, status string, limit int) ([]domain.Bounty, error)
	ListPendingVerdicts(ctx context.Context, limit int) ([]PendingVerdictRow, error)
}

// PendingVerdictRow is one row of the operator CLI's `pending` surface /
// the dashboard's pending-jobs view: a single backend's in-flight job for
// an artifact, with its bounty GUID for context.
type PendingVerdictRow struct {
	VerdictID   int64                  `db:"id"`
	ArtifactID  int64                  `db:"artifact_id"`
	BountyGUID  string                 `db:"bounty_guid"`
	Backend     string                 `db:"backend"`
	Status      domain.JobStatus       `db:"status"`
	MetaRaw     []byte                 `db:"meta"`
	Meta        map[string]interface{} `db:"-"`
}

// ListBounties is the read-only, unlocked listing backing the operator
// CLI's `bounties` command and the dashboard's bounty index (spec §6). An
// empty status lists every bounty; otherwise it filters to one of
// active/finished/aborted.
func (s *PGStore) ListBounties(ctx context.Context, status string, limit int) ([]domain.Bounty, error) {
	if limit <= 0 {
		limit = 100
	}
	if status == "" {
		return s.scanBounties(ctx, `SELECT `+bountyColumns+` FROM bounties ORDER BY id DESC LIMIT $1`, limit)
	}
	return s.scanBounties(ctx, `SELECT `+bountyColumns+` FROM bounties WHERE status=$1 ORDER BY id DESC LIMIT $2`, status, limit)
}

// ListPendingVerdicts is the read-only listing backing the operator CLI's
// `pending` command: every ArtifactVerdict row still awaiting a backend
// result, joined back to its bounty's GUID. Uses sqlx for the struct scan
// (spec SPEC_FULL §11's sqlx wiring), decoding the jsonb meta column
// separately since sqlx doesn't unmarshal nested JSON automatically.
func (s *PGStore) ListPendingVerdicts(ctx context.Context, limit int) ([]PendingVerdictRow, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []PendingVerdictRow
	err := s.X.SelectContext(ctx, &rows, `
		SELECT v.id, v.artifact_id, b.guid AS bounty_guid, v.backend, v.status, v.meta
		FROM artifact_verdicts v
		JOIN artifacts a ON a.id = v.artifact_id
		JOIN bounties b ON b.id = a.bounty_id
		WHERE v.status IN (1, 2, 3)
		ORDER BY v.id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending verdicts: %w", err)
	}
	for i := range rows {
		if len(rows[i].MetaRaw) == 0 {
			continue
		}
		if err := json.Unmarshal(rows[i].MetaRaw, &rows[i].Meta); err != nil {
			return nil, fmt.Errorf("decode meta for verdict %d: %w", rows[i].VerdictID, err)
		}
	}
	return rows, nil
}
