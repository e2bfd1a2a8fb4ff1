package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bountyarbiter/arbiterd/internal/domain"
	"github.com/bountyarbiter/arbiterd/internal/jobengine"
	"github.com/bountyarbiter/arbiterd/internal/platform/logger"
)

type stubBackend struct {
	name    string
	healthy bool
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) SubmitArtifact(ctx context.Context, verdictID int64, artifact domain.Artifact, previousMeta map[string]interface{}) (*int, map[string]interface{}, error) {
	return nil, nil, nil
}

func (b *stubBackend) HealthCheck(ctx context.Context) (map[string]interface{}, error) {
	if !b.healthy {
		return nil, errUnhealthy
	}
	return map[string]interface{}{"ok": true}, nil
}

var errUnhealthy = errors.New("backend unhealthy")

type fakeEngine struct {
	backends map[string]jobengine.Backend
}

func (f *fakeEngine) Backends() map[string]jobengine.Backend { return f.backends }

func TestHealthzReturnsOK(t *testing.T) {
	s := New(&fakeEngine{}, logger.NewDefault("test"))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturnsJSON(t *testing.T) {
	s := New(&fakeEngine{}, logger.NewDefault("test"))
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ready"`)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := New(&fakeEngine{}, logger.NewDefault("test"))
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthSweepRecordsPerBackendStatus(t *testing.T) {
	eng := &fakeEngine{backends: map[string]jobengine.Backend{
		"clamav": &stubBackend{name: "clamav", healthy: true},
		"nsrl":   &stubBackend{name: "nsrl", healthy: false},
	}}
	s := New(eng, logger.NewDefault("test"))
	s.HealthSweep(context.Background())
}
