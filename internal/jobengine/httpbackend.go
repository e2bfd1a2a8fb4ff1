package jobengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bountyarbiter/arbiterd/internal/domain"
	"github.com/bountyarbiter/arbiterd/internal/platform/apperr"
	"github.com/bountyarbiter/arbiterd/internal/ratelimit"
)

// HTTPBackend adapts a remote analysis backend over HTTP to the Backend
// interface (spec §6 "Backend adapter contract"): a bearer token derived
// from configuration, a stable X-Arbiter header naming the backend, and a
// submit_artifact(av_id, artifact, previous_task?) -> null | int | dict
// response shape.
type HTTPBackend struct {
	name    string
	baseURL string
	token   string
	client  *ratelimit.Client
}

// NewHTTPBackend constructs an HTTPBackend. client should already be
// throttled per-backend via ratelimit.NewClient.
func NewHTTPBackend(name, baseURL, token string, client *ratelimit.Client) *HTTPBackend {
	return &HTTPBackend{name: name, baseURL: baseURL, token: token, client: client}
}

func (b *HTTPBackend) Name() string { return b.name }

type submitRequest struct {
	ArtifactVerdictID int64                  `json:"artifact_verdict_id"`
	Hash              string                 `json:"hash"`
	Name              string                 `json:"name"`
	PreviousTask      map[string]interface{} `json:"previous_task,omitempty"`
}

func (b *HTTPBackend) SubmitArtifact(ctx context.Context, verdictID int64, artifact domain.Artifact, previousMeta map[string]interface{}) (*int, map[string]interface{}, error) {
	body, err := json.Marshal(submitRequest{
		ArtifactVerdictID: verdictID, Hash: artifact.Hash, Name: artifact.Name, PreviousTask: previousMeta,
	})
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Permanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/submit_artifact", bytes.NewReader(body))
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Permanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("X-Arbiter", b.name)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Transient, err)
	}
	defer resp.Body.Close()

	if class := apperr.ClassifyHTTP(resp.StatusCode); class != nil {
		return nil, nil, apperr.Wrap(class, fmt.Errorf("backend %s: HTTP %d", b.name, resp.StatusCode))
	}

	// A bare JSON `null` body means the backend abstained (FAILED per
	// spec §4.5 "If backend returns None: mark FAILED"). Returned as an
	// error rather than (nil, nil, nil) so the engine can't mistake it for
	// the PENDING case (meta without a verdict) and wait out a full
	// PendingExpiry before failing it.
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, nil, apperr.Wrap(apperr.Transient, err)
	}
	if string(raw) == "null" {
		return nil, nil, apperr.Wrap(apperr.Permanent, fmt.Errorf("backend %s: abstained (returned null)", b.name))
	}

	var asInt int
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return &asInt, nil, nil
	}

	var asMap map[string]interface{}
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, nil, apperr.Wrap(apperr.Permanent, fmt.Errorf("backend %s: unrecognized response shape", b.name))
	}
	if v, ok := asMap["verdict"]; ok {
		delete(asMap, "verdict")
		f, ok := v.(float64)
		if !ok {
			return nil, nil, apperr.Wrap(apperr.Permanent, fmt.Errorf("backend %s: verdict field not numeric", b.name))
		}
		verdict := int(f)
		if len(asMap) == 0 {
			asMap = nil
		}
		return &verdict, asMap, nil
	}
	return nil, asMap, nil
}

// CancelArtifact is the best-effort timeout hook from the backend adapter
// contract (spec §6). The job engine does not call it; it is advisory
// cleanup, not part of the job state machine.
func (b *HTTPBackend) CancelArtifact(ctx context.Context, verdictID int64, artifact domain.Artifact) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/cancel_artifact/%d", b.baseURL, verdictID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("X-Arbiter", b.name)
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// HealthCheck implements the backend adapter contract's health_check().
func (b *HTTPBackend) HealthCheck(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health_check", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("X-Arbiter", b.name)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil
	}
	return out, nil
}
