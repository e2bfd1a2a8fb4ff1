package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bountyarbiter/arbiterd/internal/dashboard/auth"
	"github.com/bountyarbiter/arbiterd/internal/domain"
	"github.com/bountyarbiter/arbiterd/internal/platform/logger"
	"github.com/bountyarbiter/arbiterd/internal/store"
)

type fakeReads struct {
	bounties []domain.Bounty
	pending  []store.PendingVerdictRow
}

func (f *fakeReads) ListBounties(_ context.Context, _ string, _ int) ([]domain.Bounty, error) {
	return f.bounties, nil
}

func (f *fakeReads) ListPendingVerdicts(_ context.Context, _ int) ([]store.PendingVerdictRow, error) {
	return f.pending, nil
}

type fakeScheduler struct {
	lastGUID  uuid.UUID
	lastVotes []bool
	err       error
}

func (f *fakeScheduler) SettleManual(_ context.Context, guid uuid.UUID, votes []bool) error {
	f.lastGUID = guid
	f.lastVotes = votes
	return f.err
}

func newTestServer(t *testing.T, reads *fakeReads, sched *fakeScheduler) (*Server, *auth.Manager) {
	t.Helper()
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	mgr := auth.New(hash, "test-secret", time.Minute)
	return New(reads, mgr, sched, logger.NewDefault("test")), mgr
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	s, _ := newTestServer(t, &fakeReads{}, &fakeScheduler{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	s, _ := newTestServer(t, &fakeReads{}, &fakeScheduler{})
	req := httptest.NewRequest(http.MethodGet, "/api/bounties", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginThenListBounties(t *testing.T) {
	guid := uuid.New()
	reads := &fakeReads{bounties: []domain.Bounty{{ID: 1, GUID: guid, Status: domain.StatusActive}}}
	s, mgr := newTestServer(t, reads, &fakeScheduler{})

	token, _, err := mgr.Authenticate("hunter2")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/bounties", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Bounties []domain.Bounty `json:"bounties"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Bounties, 1)
	require.Equal(t, guid, body.Bounties[0].GUID)
}

func TestListPendingFiltersByJSONPath(t *testing.T) {
	reads := &fakeReads{pending: []store.PendingVerdictRow{
		{VerdictID: 1, Backend: "clamav", Meta: map[string]interface{}{"scan_id": "abc"}},
		{VerdictID: 2, Backend: "nsrl", Meta: map[string]interface{}{"scan_id": "xyz"}},
	}}
	s, mgr := newTestServer(t, reads, &fakeScheduler{})
	token, _, err := mgr.Authenticate("hunter2")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, `/api/pending?filter=$.scan_id=abc`, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Pending []store.PendingVerdictRow `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Pending, 1)
	require.Equal(t, int64(1), body.Pending[0].VerdictID)
}

func TestSettleManualWiresSchedulerCall(t *testing.T) {
	guid := uuid.New()
	sched := &fakeScheduler{}
	s, mgr := newTestServer(t, &fakeReads{}, sched)
	token, _, err := mgr.Authenticate("hunter2")
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]interface{}{"votes": []bool{true, false}})
	req := httptest.NewRequest(http.MethodPost, "/api/bounties/"+guid.String()+"/settle", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, guid, sched.lastGUID)
	require.Equal(t, []bool{true, false}, sched.lastVotes)
}
