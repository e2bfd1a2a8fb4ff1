package daemon

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bountyarbiter/arbiterd/internal/config"
	"github.com/bountyarbiter/arbiterd/internal/platform/logger"
)

func TestGatewayWebsocketURLRewritesScheme(t *testing.T) {
	require.Equal(t, "wss://gateway.example/events?chain=side", gatewayWebsocketURL("https://gateway.example", "side"))
	require.Equal(t, "ws://localhost:9000/events?chain=home", gatewayWebsocketURL("http://localhost:9000", "home"))
}

func TestBuildBackendsProducesOneEntryPerConfig(t *testing.T) {
	cfgs := []config.BackendConfig{
		{Name: "clamav", URL: "http://clamav.local", Token: "tok1", Trusted: true, Weight: 3},
		{Name: "nsrl", URL: "http://nsrl.local", Token: "tok2", Trusted: false, Weight: 1},
	}
	backends, aggBackends := buildBackends(cfgs, logger.NewDefault("test"))

	require.Len(t, backends, 2)
	require.Len(t, aggBackends, 2)
	require.Equal(t, "clamav", backends[0].Name())
	require.Equal(t, "clamav", aggBackends[0].Name)
	require.True(t, aggBackends[0].Trusted)
	require.Equal(t, 3, aggBackends[0].Weight)
	require.False(t, aggBackends[1].Trusted)
}
