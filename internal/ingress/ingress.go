// Package ingress is the arbiter's sole inbound path from the market
// gateway's WebSocket event stream (spec §4.2). Grounded on the original
// arbiter's events.py Events class for the reconnect/backoff shape and the
// gateway event table, reimplemented with gorilla/websocket instead of a
// gevent-patched websocket-client.
package ingress

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bountyarbiter/arbiterd/internal/eventbus"
	"github.com/bountyarbiter/arbiterd/internal/platform/logger"
)

const (
	reconnectBackoff = 3 * time.Second
	keepaliveIdle    = 30 * time.Second
	keepaliveProbe   = 10 * time.Second
	keepaliveCount   = 3
)

// Republished event names (spec §4.2 table). EventBountyRaw carries the
// gateway's opaque bounty JSON under its own topic rather than the
// scheduler's "bounty" (which expects an already-decoded
// scheduler.BountyDescriptor): both would collide on one shared bus
// otherwise, since the gateway's table names the republished topic
// identically to the scheduler's. internal/bountybridge (wired up by
// internal/daemon) bridges the two, decoding
// the raw payload and resolving vote/reveal windows before republishing
// under the scheduler's name.
const (
	EventConnected = "connected"
	EventBlock     = "block"
	EventBountyRaw = "gateway_bounty"
	EventAssertion = "assertion"
	EventVote      = "vote"
	EventSettled   = "polyswarm_bounty_settled"
)

type gatewayMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Ingress owns the persistent WS connection and republishes gateway events
// on the shared bus.
type Ingress struct {
	url     string
	account string
	bus     *eventbus.Bus
	log     *logger.Logger
	dialer  *websocket.Dialer
}

// New constructs an Ingress targeting url (the gateway's `/events?chain=…`
// endpoint). account is this arbiter's address, used to filter
// settled_bounty events to our own settlements (spec §4.2).
func New(url, account string, bus *eventbus.Bus, log *logger.Logger) *Ingress {
	return &Ingress{
		url: url, account: account, bus: bus, log: log,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				d := net.Dialer{Timeout: 10 * time.Second, KeepAlive: keepaliveIdle}
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

// Run connects and republishes events until ctx is cancelled, reconnecting
// with a 3s backoff on any failure (spec §4.2 failure model: no event is
// persisted across reconnects, the scheduler's polling catches up state).
func (in *Ingress) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := in.runOnce(ctx); err != nil {
			in.log.WithField("err", err).Warn("ingress: connection lost, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (in *Ingress) runOnce(ctx context.Context) error {
	conn, _, err := in.dialer.DialContext(ctx, in.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(keepaliveIdle))
	})
	_ = conn.SetReadDeadline(time.Now().Add(keepaliveIdle))

	pingDone := make(chan struct{})
	go in.pingLoop(conn, pingDone)
	defer close(pingDone)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		in.dispatch(ctx, raw)
	}
}

// pingLoop sends a keepalive probe every 10s, matching the reconnect loop's
// "10s probe, 3 probes" budget before the read deadline trips.
func (in *Ingress) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(keepaliveProbe)
	defer ticker.Stop()
	missed := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				missed++
				if missed >= keepaliveCount {
					return
				}
				continue
			}
			missed = 0
		}
	}
}

func (in *Ingress) dispatch(ctx context.Context, raw []byte) {
	var msg gatewayMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		in.log.WithField("err", err).Warn("ingress: malformed gateway message, dropping")
		return
	}

	switch msg.Event {
	case "connected":
		in.bus.Publish(ctx, EventConnected, msg.Data)
	case "block":
		var block int64
		if err := json.Unmarshal(msg.Data, &block); err == nil {
			in.bus.Publish(ctx, EventBlock, block)
		}
	case "bounty":
		in.bus.Publish(ctx, EventBountyRaw, msg.Data)
	case "assertion":
		in.bus.Publish(ctx, EventAssertion, msg.Data)
	case "vote":
		in.bus.Publish(ctx, EventVote, msg.Data)
	case "settled_bounty":
		in.dispatchSettled(ctx, msg.Data)
	default:
		in.log.WithField("event", msg.Event).Debug("ingress: unrecognized gateway event, ignoring")
	}
}

func (in *Ingress) dispatchSettled(ctx context.Context, data json.RawMessage) {
	var payload struct {
		BountyGUID string `json:"bounty_guid"`
		Settler    string `json:"settler"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if !strings.EqualFold(payload.Settler, in.account) {
		return
	}
	in.bus.Publish(ctx, EventSettled, payload.BountyGUID)
}
