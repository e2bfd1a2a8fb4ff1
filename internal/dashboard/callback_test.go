package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bountyarbiter/arbiterd/internal/dashboard/replay"
	"github.com/bountyarbiter/arbiterd/internal/eventbus"
	"github.com/bountyarbiter/arbiterd/internal/jobengine"
	"github.com/bountyarbiter/arbiterd/internal/platform/logger"
)

func newTestRouter(t *testing.T, secret string) (*CallbackRouter, *eventbus.Bus, *sync.Mutex, *[][]interface{}) {
	t.Helper()
	bus := eventbus.New(logger.NewDefault("test"))
	var mu sync.Mutex
	var received [][]interface{}
	bus.Subscribe(jobengine.EventVerdictUpdateAsync, eventbus.Parallel, 0, 0, func(_ context.Context, args ...interface{}) {
		mu.Lock()
		received = append(received, args)
		mu.Unlock()
	})
	router := NewCallbackRouter(bus, replay.NewMemCache(), secret, logger.NewDefault("test"))
	return router, bus, &mu, &received
}

func validToken(secret, backend string) string {
	tsStr := strconv.FormatInt(time.Now().Unix(), 10)
	return backend + "." + tsStr + "." + signToken(secret, backend, tsStr)
}

func TestCallbackAcceptsValidToken(t *testing.T) {
	router, _, mu, received := newTestRouter(t, "shared-secret")

	body, _ := json.Marshal(callbackPayload{ArtifactVerdictID: 42})
	req := httptest.NewRequest(http.MethodPost, "/callback/clamav", bytes.NewReader(body))
	req.Header.Set("X-Arbiter-Token", validToken("shared-secret", "clamav"))
	rec := httptest.NewRecorder()

	router.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*received) == 1
	}, time.Second, time.Millisecond)
}

func TestCallbackRejectsBadSignature(t *testing.T) {
	router, _, _, _ := newTestRouter(t, "shared-secret")

	body, _ := json.Marshal(callbackPayload{ArtifactVerdictID: 42})
	req := httptest.NewRequest(http.MethodPost, "/callback/clamav", bytes.NewReader(body))
	req.Header.Set("X-Arbiter-Token", "clamav.123.deadbeef")
	rec := httptest.NewRecorder()

	router.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallbackRejectsReplayedToken(t *testing.T) {
	router, _, _, _ := newTestRouter(t, "shared-secret")
	token := validToken("shared-secret", "clamav")
	body, _ := json.Marshal(callbackPayload{ArtifactVerdictID: 42})

	req1 := httptest.NewRequest(http.MethodPost, "/callback/clamav", bytes.NewReader(body))
	req1.Header.Set("X-Arbiter-Token", token)
	rec1 := httptest.NewRecorder()
	router.Handler().ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusAccepted, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/callback/clamav", bytes.NewReader(body))
	req2.Header.Set("X-Arbiter-Token", token)
	rec2 := httptest.NewRecorder()
	router.Handler().ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusConflict, rec2.Code)
}

func TestCallbackRejectsExpiredToken(t *testing.T) {
	router, _, _, _ := newTestRouter(t, "shared-secret")

	tsStr := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	token := "clamav." + tsStr + "." + signToken("shared-secret", "clamav", tsStr)

	body, _ := json.Marshal(callbackPayload{ArtifactVerdictID: 42})
	req := httptest.NewRequest(http.MethodPost, "/callback/clamav", bytes.NewReader(body))
	req.Header.Set("X-Arbiter-Token", token)
	rec := httptest.NewRecorder()

	router.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
