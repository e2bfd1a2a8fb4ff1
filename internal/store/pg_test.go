package store

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bountyarbiter/arbiterd/internal/domain"
)

// sqlNullArg matches only a driver.Value of nil, i.e. a real SQL NULL
// rather than a marshaled JSON "null".
type sqlNullArg struct{}

func (sqlNullArg) Match(v driver.Value) bool { return v == nil }

func TestPGStoreGetBountyNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	guid := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM bounties WHERE guid").
		WithArgs(guid).
		WillReturnRows(sqlmock.NewRows(bountyRowColumns()))

	s := NewPGStore(db)
	_, err = s.GetBounty(context.Background(), guid)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreResetPendingJobs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE artifact_verdicts SET status").
		WithArgs(int(1), int(3)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	s := NewPGStore(db)
	n, err := s.ResetPendingJobs(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNullableTruthValueNilIsSQLNull(t *testing.T) {
	v, err := nullableTruthValue(nil)
	require.NoError(t, err)
	require.Nil(t, v, "a nil truth value must produce a Go nil, not the JSON literal null")
}

func TestNullableTruthValueNonNilMarshals(t *testing.T) {
	v, err := nullableTruthValue([]bool{true, false})
	require.NoError(t, err)
	require.Equal(t, []byte(`[true,false]`), v)
}

func TestNullableAssertionsNilIsSQLNull(t *testing.T) {
	v, err := nullableAssertions(nil)
	require.NoError(t, err)
	require.Nil(t, v, "a nil assertions slice must produce a Go nil, not the JSON literal null")
}

func TestPGStoreWithBountyLockWritesSQLNullForUnsetTruthAndAssertions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	guid := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM bounties WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(bountyRowColumns()).AddRow(
			1, guid, "0xauthor", "1000", 2, "active",
			100, 110, 120, 130, 130,
			nil, false, false, false, false,
			nil, 0, 0, time.Now(),
		))
	mock.ExpectExec("UPDATE bounties SET status").
		WithArgs("active", sqlNullArg{}, false, false, false, false, sqlNullArg{}, int64(0), 0, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := NewPGStore(db)
	err = s.WithBountyLock(context.Background(), 1, func(b *domain.Bounty) (*domain.Bounty, error) {
		return b, nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreSetManualTruthNoRowsIsBountyTerminal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	guid := uuid.New()
	mock.ExpectExec("UPDATE bounties SET truth_value").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewPGStore(db)
	err = s.SetManualTruth(context.Background(), guid, []bool{true})
	require.ErrorIs(t, err, ErrBountyTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}
