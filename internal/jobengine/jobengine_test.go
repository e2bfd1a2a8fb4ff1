package jobengine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bountyarbiter/arbiterd/internal/aggregator"
	"github.com/bountyarbiter/arbiterd/internal/domain"
	"github.com/bountyarbiter/arbiterd/internal/eventbus"
	"github.com/bountyarbiter/arbiterd/internal/platform/logger"
	"github.com/bountyarbiter/arbiterd/internal/store"
)

type fakeBackend struct {
	name    string
	verdict *int
	err     error
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) SubmitArtifact(ctx context.Context, verdictID int64, artifact domain.Artifact, previousMeta map[string]interface{}) (*int, map[string]interface{}, error) {
	return f.verdict, nil, f.err
}

func intp(v int) *int { return &v }

func setup(t *testing.T, backends []Backend, agg []aggregator.Backend) (*Engine, store.BountyStore, *eventbus.Bus, int64, chan int64) {
	t.Helper()
	st := store.NewMemStore()
	bus := eventbus.New(nil)
	log := logger.NewDefault("test")

	bountyVerdictCh := make(chan int64, 10)
	bus.Subscribe(EventBountyArtifactVerd, eventbus.Parallel, 0, 0, func(ctx context.Context, args ...interface{}) {
		bountyVerdictCh <- args[0].(int64)
	})

	e := New(st, bus, log, Config{PendingExpiry: time.Hour}, backends, agg)
	e.Register()

	_, artifacts, err := st.InsertBounty(context.Background(), store.NewBountyInput{
		GUID: uuid.New(), NumArtifacts: 1,
		Artifacts: []store.NewArtifactInput{{Hash: "h", Name: "n"}},
		Backends:  backendNames(backends),
	})
	require.NoError(t, err)

	return e, st, bus, artifacts[0].ID, bountyVerdictCh
}

func backendNames(backends []Backend) []string {
	var names []string
	for _, b := range backends {
		names = append(names, b.Name())
	}
	return names
}

func TestJobEngineHappyPathProducesVerdict(t *testing.T) {
	backends := []Backend{
		&fakeBackend{name: "A", verdict: intp(100)},
		&fakeBackend{name: "B", verdict: intp(0)},
	}
	agg := []aggregator.Backend{
		{Name: "A", Trusted: true, Weight: 1},
		{Name: "B", Trusted: false, Weight: 1},
	}
	e, st, bus, artifactID, ch := setup(t, backends, agg)

	bus.Publish(context.Background(), EventVerdictJobs, artifactID)

	select {
	case bountyID := <-ch:
		require.Equal(t, int64(1), bountyID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bounty_artifact_verdict")
	}

	a, err := st.GetArtifact(context.Background(), artifactID)
	require.NoError(t, err)
	require.True(t, a.Processed)
	require.NotNil(t, a.Verdict)
	require.Equal(t, domain.VerdictMalicious, *a.Verdict)

	_ = e
}

func TestJobEngineFailedBackendYieldsFailedStatus(t *testing.T) {
	backends := []Backend{
		&fakeBackend{name: "A", err: context.DeadlineExceeded},
	}
	agg := []aggregator.Backend{{Name: "A", Trusted: false, Weight: 1}}
	_, st, bus, artifactID, ch := setup(t, backends, agg)

	bus.Publish(context.Background(), EventVerdictJobs, artifactID)

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	verdicts, err := st.ListArtifactVerdicts(context.Background(), artifactID)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	require.Equal(t, domain.JobStatusFailed, verdicts[0].Status)
}

func TestJobEngineAsyncCallbackCompletesPendingJob(t *testing.T) {
	backends := []Backend{&fakeBackend{name: "A"}} // nil verdict, nil meta -> PENDING
	agg := []aggregator.Backend{{Name: "A", Trusted: false, Weight: 1}}
	_, st, bus, artifactID, ch := setup(t, backends, agg)

	bus.Publish(context.Background(), EventVerdictJobs, artifactID)
	time.Sleep(100 * time.Millisecond)

	verdicts, err := st.ListArtifactVerdicts(context.Background(), artifactID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusPending, verdicts[0].Status)

	v := 100
	bus.Publish(context.Background(), EventVerdictUpdateAsync, verdicts[0].ID, &v)

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	a, err := st.GetArtifact(context.Background(), artifactID)
	require.NoError(t, err)
	require.True(t, a.Processed)
}
