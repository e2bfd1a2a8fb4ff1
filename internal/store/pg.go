package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/bountyarbiter/arbiterd/internal/domain"
)

// PGStore is the Postgres-backed BountyStore. Mutations use
// database/sql's BeginTx/defer Rollback/Commit with explicit
// "SELECT ... FOR UPDATE" locking, the pattern grounded on the teacher's
// jam.PGStore (internal/app/jam/store_pg.go). Read-only indexed scans go
// through sqlx for struct scanning convenience.
type PGStore struct {
	DB *sql.DB
	X  *sqlx.DB
}

// NewPGStore wraps an already-opened *sql.DB (see internal/platform/database.Open).
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{DB: db, X: sqlx.NewDb(db, "postgres")}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func (s *PGStore) InsertBounty(ctx context.Context, in NewBountyInput) (*domain.Bounty, []domain.Artifact, error) {
	voteAfter, voteBefore, revealBlock, settleBlock := domain.Deadlines(in.ExpirationBlock, in.VoteWindow, in.RevealWindow)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var bountyID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO bounties (guid, author, amount, num_artifacts, status,
			expiration_block, vote_after, vote_before, reveal_block, settle_block,
			truth_manual)
		VALUES ($1,$2,$3,$4,'active',$5,$6,$7,$8,$9,$10)
		RETURNING id`,
		in.GUID, in.Author, in.Amount, in.NumArtifacts,
		in.ExpirationBlock, voteAfter, voteBefore, revealBlock, settleBlock,
		in.ManualMode,
	).Scan(&bountyID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, ErrAlreadyExists
		}
		return nil, nil, fmt.Errorf("insert bounty: %w", err)
	}

	artifacts := make([]domain.Artifact, 0, len(in.Artifacts))
	for _, a := range in.Artifacts {
		var artifactID int64
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO artifacts (bounty_id, hash, name) VALUES ($1,$2,$3) RETURNING id`,
			bountyID, a.Hash, a.Name,
		).Scan(&artifactID); err != nil {
			return nil, nil, fmt.Errorf("insert artifact: %w", err)
		}
		for _, backend := range in.Backends {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO artifact_verdicts (artifact_id, backend, status) VALUES ($1,$2,$3)`,
				artifactID, backend, int(domain.JobStatusNew),
			); err != nil {
				return nil, nil, fmt.Errorf("insert artifact_verdict: %w", err)
			}
		}
		artifacts = append(artifacts, domain.Artifact{ID: artifactID, BountyID: bountyID, Hash: a.Hash, Name: a.Name})
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	b := &domain.Bounty{
		ID: bountyID, GUID: in.GUID, Author: in.Author, Amount: in.Amount,
		NumArtifacts: in.NumArtifacts, Status: domain.StatusActive,
		ExpirationBlock: in.ExpirationBlock, VoteAfter: voteAfter, VoteBefore: voteBefore,
		RevealBlock: revealBlock, SettleBlock: settleBlock, TruthManual: in.ManualMode,
	}
	return b, artifacts, nil
}

// nullableTruthValue marshals truth to JSON, returning a plain Go nil (not
// the JSON literal "null") when truth itself is nil, so the jsonb column
// stores SQL NULL rather than a jsonb 'null' that satisfies "IS NOT NULL".
func nullableTruthValue(truth []bool) (interface{}, error) {
	if truth == nil {
		return nil, nil
	}
	b, err := json.Marshal(truth)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// nullableAssertions is nullableTruthValue's counterpart for the assertions
// column.
func nullableAssertions(assertions []domain.Assertion) (interface{}, error) {
	if assertions == nil {
		return nil, nil
	}
	b, err := json.Marshal(assertions)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func scanBounty(row interface {
	Scan(dest ...interface{}) error
}) (*domain.Bounty, error) {
	var b domain.Bounty
	var truthJSON, assertionsJSON []byte
	err := row.Scan(&b.ID, &b.GUID, &b.Author, &b.Amount, &b.NumArtifacts, &b.Status,
		&b.ExpirationBlock, &b.VoteAfter, &b.VoteBefore, &b.RevealBlock, &b.SettleBlock,
		&truthJSON, &b.TruthManual, &b.Voted, &b.Revealed, &b.Settled,
		&assertionsJSON, &b.ErrorDelayBlock, &b.ErrorRetries, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(truthJSON) > 0 {
		if err := json.Unmarshal(truthJSON, &b.TruthValue); err != nil {
			return nil, fmt.Errorf("decode truth_value: %w", err)
		}
	}
	if len(assertionsJSON) > 0 {
		if err := json.Unmarshal(assertionsJSON, &b.Assertions); err != nil {
			return nil, fmt.Errorf("decode assertions: %w", err)
		}
	}
	return &b, nil
}

const bountyColumns = `id, guid, author, amount, num_artifacts, status,
	expiration_block, vote_after, vote_before, reveal_block, settle_block,
	truth_value, truth_manual, voted, revealed, settled,
	assertions, error_delay_block, error_retries, created_at`

func (s *PGStore) GetBounty(ctx context.Context, guid uuid.UUID) (*domain.Bounty, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+bountyColumns+` FROM bounties WHERE guid = $1`, guid)
	b, err := scanBounty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *PGStore) WithBountyLock(ctx context.Context, id int64, fn func(b *domain.Bounty) (*domain.Bounty, error)) error {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+bountyColumns+` FROM bounties WHERE id = $1 FOR UPDATE`, id)
	b, err := scanBounty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	next, err := fn(b)
	if err != nil {
		return err
	}
	if next == nil {
		return tx.Commit()
	}

	truthJSON, err := nullableTruthValue(next.TruthValue)
	if err != nil {
		return fmt.Errorf("encode truth_value: %w", err)
	}
	assertionsJSON, err := nullableAssertions(next.Assertions)
	if err != nil {
		return fmt.Errorf("encode assertions: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE bounties SET status=$1, truth_value=$2, truth_manual=$3, voted=$4,
			revealed=$5, settled=$6, assertions=$7, error_delay_block=$8, error_retries=$9
		WHERE id=$10`,
		next.Status, truthJSON, next.TruthManual, next.Voted, next.Revealed, next.Settled,
		assertionsJSON, next.ErrorDelayBlock, next.ErrorRetries, id,
	)
	if err != nil {
		return fmt.Errorf("update bounty: %w", err)
	}
	return tx.Commit()
}

func (s *PGStore) scanBounties(ctx context.Context, query string, args ...interface{}) ([]domain.Bounty, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan bounties: %w", err)
	}
	defer rows.Close()

	var out []domain.Bounty
	for rows.Next() {
		b, err := scanBounty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *PGStore) ScanVoteReady(ctx context.Context, curBlock int64, limit int) ([]domain.Bounty, error) {
	return s.scanBounties(ctx, `SELECT `+bountyColumns+` FROM bounties
		WHERE status='active' AND voted=false AND truth_value IS NOT NULL
		AND vote_after <= $1 AND error_delay_block <= $1
		ORDER BY id LIMIT $2`, curBlock, limit)
}

func (s *PGStore) ScanVoteHardExpired(ctx context.Context, curBlock int64, limit int) ([]domain.Bounty, error) {
	return s.scanBounties(ctx, `SELECT `+bountyColumns+` FROM bounties
		WHERE status='active' AND voted=false AND truth_value IS NOT NULL
		AND vote_before <= $1 ORDER BY id LIMIT $2`, curBlock-60, limit)
}

func (s *PGStore) ScanRevealReady(ctx context.Context, curBlock int64, limit int) ([]domain.Bounty, error) {
	return s.scanBounties(ctx, `SELECT `+bountyColumns+` FROM bounties
		WHERE status='active' AND revealed=false AND reveal_block <= $1
		ORDER BY id LIMIT $2`, curBlock, limit)
}

func (s *PGStore) ScanSettleReady(ctx context.Context, curBlock int64, limit int) ([]domain.Bounty, error) {
	return s.scanBounties(ctx, `SELECT `+bountyColumns+` FROM bounties
		WHERE status='active' AND settled=false AND assertions IS NOT NULL
		AND settle_block <= $1 AND error_delay_block <= $1
		ORDER BY id LIMIT $2`, curBlock, limit)
}

func (s *PGStore) ScanManualExpired(ctx context.Context, curBlock int64, limit int) ([]domain.Bounty, error) {
	return s.scanBounties(ctx, `SELECT `+bountyColumns+` FROM bounties
		WHERE status='active' AND truth_manual=true AND voted=false
		AND vote_before <= $1 ORDER BY id LIMIT $2`, curBlock, limit)
}

func (s *PGStore) SetManualTruth(ctx context.Context, guid uuid.UUID, truth []bool) error {
	truthJSON, err := nullableTruthValue(truth)
	if err != nil {
		return fmt.Errorf("encode truth_value: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE bounties SET truth_value=$1, truth_manual=true
		WHERE guid=$2 AND voted=false AND settled=false`, truthJSON, guid)
	if err != nil {
		return fmt.Errorf("set manual truth: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBountyTerminal
	}
	return nil
}

func (s *PGStore) ListArtifacts(ctx context.Context, bountyID int64) ([]domain.Artifact, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, bounty_id, hash, name, processed, processed_at, processed_at_interval, verdict
		FROM artifacts WHERE bounty_id=$1 ORDER BY id`, bountyID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		if err := rows.Scan(&a.ID, &a.BountyID, &a.Hash, &a.Name, &a.Processed, &a.ProcessedAt, &a.ProcessedAtInterval, &a.Verdict); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PGStore) GetArtifact(ctx context.Context, artifactID int64) (*domain.Artifact, error) {
	var a domain.Artifact
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, bounty_id, hash, name, processed, processed_at, processed_at_interval, verdict
		FROM artifacts WHERE id=$1`, artifactID,
	).Scan(&a.ID, &a.BountyID, &a.Hash, &a.Name, &a.Processed, &a.ProcessedAt, &a.ProcessedAtInterval, &a.Verdict)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PGStore) WithArtifactLock(ctx context.Context, artifactID int64, fn func(a *domain.Artifact) (*domain.Artifact, error)) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var a domain.Artifact
	err = tx.QueryRowContext(ctx, `
		SELECT id, bounty_id, hash, name, processed, processed_at, processed_at_interval, verdict
		FROM artifacts WHERE id=$1 FOR UPDATE`, artifactID,
	).Scan(&a.ID, &a.BountyID, &a.Hash, &a.Name, &a.Processed, &a.ProcessedAt, &a.ProcessedAtInterval, &a.Verdict)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	next, err := fn(&a)
	if err != nil {
		return err
	}
	if next == nil {
		return tx.Commit()
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE artifacts SET processed=$1, processed_at=$2, processed_at_interval=$3, verdict=$4
		WHERE id=$5`, next.Processed, next.ProcessedAt, next.ProcessedAtInterval, next.Verdict, artifactID)
	if err != nil {
		return fmt.Errorf("update artifact: %w", err)
	}
	return tx.Commit()
}

func (s *PGStore) NewToSubmitting(ctx context.Context, artifactID int64) ([]domain.ArtifactVerdict, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, artifact_id, backend, verdict, status, expires, meta
		FROM artifact_verdicts WHERE artifact_id=$1 AND status=$2 FOR UPDATE`,
		artifactID, int(domain.JobStatusNew))
	if err != nil {
		return nil, fmt.Errorf("select new verdicts: %w", err)
	}
	var out []domain.ArtifactVerdict
	var ids []int64
	for rows.Next() {
		v, err := scanVerdictRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		v.Status = domain.JobStatusSubmitting
		out = append(out, *v)
		ids = append(ids, v.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE artifact_verdicts SET status=$1 WHERE id=$2`,
			int(domain.JobStatusSubmitting), id); err != nil {
			return nil, fmt.Errorf("mark submitting: %w", err)
		}
	}

	return out, tx.Commit()
}

func scanVerdictRow(row interface {
	Scan(dest ...interface{}) error
}) (*domain.ArtifactVerdict, error) {
	var v domain.ArtifactVerdict
	var metaJSON []byte
	if err := row.Scan(&v.ID, &v.ArtifactID, &v.Backend, &v.Verdict, &v.Status, &v.Expires, &metaJSON); err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &v.Meta); err != nil {
			return nil, fmt.Errorf("decode meta: %w", err)
		}
	}
	return &v, nil
}

func (s *PGStore) ListArtifactVerdicts(ctx context.Context, artifactID int64) ([]domain.ArtifactVerdict, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, artifact_id, backend, verdict, status, expires, meta
		FROM artifact_verdicts WHERE artifact_id=$1 ORDER BY id`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("list verdicts: %w", err)
	}
	defer rows.Close()

	var out []domain.ArtifactVerdict
	for rows.Next() {
		v, err := scanVerdictRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (s *PGStore) UpdateVerdictIfStatus(ctx context.Context, id int64, expect domain.JobStatus, fields VerdictUpdate) (bool, error) {
	metaJSON, err := json.Marshal(fields.Meta)
	if err != nil {
		return false, fmt.Errorf("encode meta: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE artifact_verdicts SET status=$1, verdict=$2, meta=$3, expires=$4
		WHERE id=$5 AND status=$6`,
		int(fields.Status), fields.Verdict, metaJSON, fields.Expires, id, int(expect))
	if err != nil {
		return false, fmt.Errorf("conditional update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PGStore) WithVerdictLock(ctx context.Context, id int64, fn func(v *domain.ArtifactVerdict) (*domain.ArtifactVerdict, error)) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, artifact_id, backend, verdict, status, expires, meta
		FROM artifact_verdicts WHERE id=$1 FOR UPDATE`, id)
	v, err := scanVerdictRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	next, err := fn(v)
	if err != nil {
		return err
	}
	if next == nil {
		return tx.Commit()
	}

	metaJSON, err := json.Marshal(next.Meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE artifact_verdicts SET status=$1, verdict=$2, meta=$3, expires=$4 WHERE id=$5`,
		int(next.Status), next.Verdict, metaJSON, next.Expires, id)
	if err != nil {
		return fmt.Errorf("update verdict: %w", err)
	}
	return tx.Commit()
}

func (s *PGStore) ExpirePending(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, artifact_id FROM artifact_verdicts
		WHERE status=$1 AND expires < $2 ORDER BY id LIMIT $3 FOR UPDATE`,
		int(domain.JobStatusPending), now, limit)
	if err != nil {
		return nil, fmt.Errorf("select expired: %w", err)
	}
	var ids []int64
	seen := map[int64]struct{}{}
	var touched []int64
	for rows.Next() {
		var id, artifactID int64
		if err := rows.Scan(&id, &artifactID); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
		if _, ok := seen[artifactID]; !ok {
			seen[artifactID] = struct{}{}
			touched = append(touched, artifactID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE artifact_verdicts SET status=$1, expires=NULL WHERE id=$2`,
			int(domain.JobStatusFailed), id); err != nil {
			return nil, fmt.Errorf("expire verdict: %w", err)
		}
	}

	return touched, tx.Commit()
}

func (s *PGStore) ArtifactsWithNewJobs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT DISTINCT artifact_id FROM artifact_verdicts
		WHERE status=$1 ORDER BY artifact_id LIMIT $2`, int(domain.JobStatusNew), limit)
	if err != nil {
		return nil, fmt.Errorf("scan new jobs: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PGStore) ResetPendingJobs(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE artifact_verdicts SET status=$1, expires=NULL WHERE status=$2`,
		int(domain.JobStatusNew), int(domain.JobStatusPending))
	if err != nil {
		return 0, fmt.Errorf("reset pending jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *PGStore) MarkArtifactProcessed(ctx context.Context, artifactID int64, verdict *int, at time.Time, interval int64) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE artifacts SET processed=true, processed_at=$1, processed_at_interval=$2, verdict=$3
		WHERE id=$4 AND processed=false`, at, interval, verdict, artifactID)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	_, err = res.RowsAffected()
	return err
}
