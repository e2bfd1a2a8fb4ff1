package daemon

import (
	"context"

	"github.com/bountyarbiter/arbiterd/internal/market"
	"github.com/bountyarbiter/arbiterd/internal/store"
)

// marketArtifactStore adapts a market.Client pointed at the configured
// artifact store host (spec §9 `artifact_store.base_url`, which may be a
// different host than the gateway's own) to scheduler.ArtifactStore.
// market.Client already implements the GET /artifacts/{uri} surface (spec
// §6); this just reshapes ManifestEntry into store.NewArtifactInput.
type marketArtifactStore struct {
	client *market.Client
}

func newMarketArtifactStore(client *market.Client) *marketArtifactStore {
	return &marketArtifactStore{client: client}
}

func (a *marketArtifactStore) FetchManifest(ctx context.Context, uri string) ([]store.NewArtifactInput, error) {
	entries, err := a.client.Manifest(ctx, uri)
	if err != nil {
		return nil, err
	}
	out := make([]store.NewArtifactInput, len(entries))
	for i, e := range entries {
		out[i] = store.NewArtifactInput{Hash: e.Hash, Name: e.Name}
	}
	return out, nil
}

func (a *marketArtifactStore) FetchBody(ctx context.Context, uri string, index int) ([]byte, error) {
	return a.client.ArtifactBody(ctx, uri, index)
}
