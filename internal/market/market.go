// Package market is the typed HTTP wrapper over the market gateway's REST
// surface (spec §6). Grounded on the teacher's internal/chain/client.go
// Call/RPCRequest shape, adapted from JSON-RPC envelopes to the gateway's
// {status, result, errors} REST envelopes, and on golang.org/x/time/rate for
// outbound throttling the same way the teacher's infrastructure/ratelimit
// wraps an http.Client.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/bountyarbiter/arbiterd/internal/domain"
	"github.com/bountyarbiter/arbiterd/internal/platform/apperr"
)

// Chain selects which market chain a request targets (spec §9 `chain`).
type Chain string

const (
	ChainHome Chain = "home"
	ChainSide Chain = "side"
)

// Config configures a Client.
type Config struct {
	BaseURL        string
	Chain          Chain
	ConnectTimeout time.Duration // suggested 10s
	ReadTimeout    time.Duration // suggested 30s
	RateLimit      rate.Limit
	RateBurst      int
}

// Client is the arbiter's sole path to the market gateway; nothing else in
// this repo is permitted to hold an http.Client pointed at the gateway
// (spec §1 scope boundary).
type Client struct {
	cfg    Config
	http   *http.Client
	limit  *rate.Limiter
	nonceMu sync.Mutex
}

// New constructs a Client. Defaults: 10s connect/30s read if unset, rate
// unlimited if RateLimit is zero.
func New(cfg Config) *Client {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.Chain == "" {
		cfg.Chain = ChainHome
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.ConnectTimeout + cfg.ReadTimeout},
		limit: limiter,
	}
}

// envelope is the gateway's {status, result, errors} wire shape (spec §6).
type envelope struct {
	raw []byte
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body interface{}) (envelope, error) {
	if c.limit != nil {
		if err := c.limit.Wait(ctx); err != nil {
			return envelope{}, apperr.Wrap(apperr.Transient, err)
		}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return envelope{}, apperr.Wrap(apperr.Permanent, err)
		}
		reader = bytes.NewReader(b)
	}

	url := c.cfg.BaseURL + path + "?chain=" + string(c.cfg.Chain)
	for k, v := range query {
		url += "&" + k + "=" + v
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return envelope{}, apperr.Wrap(apperr.Permanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, apperr.Wrap(apperr.Transient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, apperr.Wrap(apperr.Transient, err)
	}

	if class := apperr.ClassifyHTTP(resp.StatusCode); class != nil {
		return envelope{raw: raw}, apperr.Wrap(class, fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode))
	}
	if status := gjson.GetBytes(raw, "status").String(); status == "ERROR" {
		return envelope{raw: raw}, apperr.Wrap(apperr.Permanent, fmt.Errorf("%s %s: gateway error %s", method, path, gjson.GetBytes(raw, "errors").String()))
	}
	return envelope{raw: raw}, nil
}

func (e envelope) result() gjson.Result { return gjson.GetBytes(e.raw, "result") }

// Status reports the latest observed block on both chains.
type Status struct {
	SideBlock int64
	HomeBlock int64
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	env, err := c.do(ctx, http.MethodGet, "/status", nil, nil)
	if err != nil {
		return Status{}, err
	}
	r := env.result()
	return Status{SideBlock: r.Get("side.block").Int(), HomeBlock: r.Get("home.block").Int()}, nil
}

// Nonce fetches the current account nonce for the configured chain, holding
// a mutex across the request so concurrent signed submissions never race on
// the same nonce value (spec §5 "nonce bookkeeping holds a single mutex").
func (c *Client) Nonce(ctx context.Context) (int64, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	env, err := c.do(ctx, http.MethodGet, "/nonce", nil, nil)
	if err != nil {
		return 0, err
	}
	return env.result().Int(), nil
}

// Parameters are the market's voting/reveal window configuration (spec
// §4.6). internal/bountybridge fetches them once and reuses them for every
// bounty.
type Parameters struct {
	AssertionRevealWindow int64
	ArbiterVoteWindow     int64
}

func (c *Client) Parameters(ctx context.Context) (Parameters, error) {
	env, err := c.do(ctx, http.MethodGet, "/bounties/parameters", nil, nil)
	if err != nil {
		return Parameters{}, err
	}
	r := env.result()
	return Parameters{
		AssertionRevealWindow: r.Get("assertion_reveal_window").Int(),
		ArbiterVoteWindow:     r.Get("arbiter_vote_window").Int(),
	}, nil
}

// BountyDescriptor is the raw gateway bounty descriptor.
type BountyDescriptor struct {
	GUID            uuid.UUID
	Author          string
	Amount          string
	URI             string
	ExpirationBlock int64
}

func (c *Client) Bounty(ctx context.Context, guid uuid.UUID) (BountyDescriptor, error) {
	env, err := c.do(ctx, http.MethodGet, "/bounties/"+guid.String(), nil, nil)
	if err != nil {
		return BountyDescriptor{}, err
	}
	r := env.result()
	return BountyDescriptor{
		GUID: guid, Author: r.Get("author").String(), Amount: r.Get("amount").String(),
		URI: r.Get("uri").String(), ExpirationBlock: r.Get("expiration").Int(),
	}, nil
}

// Assertions implements MarketClient.assertions(guid) -> []Assertion,
// treating 404 as an empty list (spec §4.6, §7).
func (c *Client) Assertions(ctx context.Context, guid uuid.UUID) ([]domain.Assertion, error) {
	env, err := c.do(ctx, http.MethodGet, "/bounties/"+guid.String()+"/assertions", nil, nil)
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []domain.Assertion
	for _, a := range env.result().Array() {
		var mask, verdicts []bool
		for _, m := range a.Get("mask").Array() {
			mask = append(mask, m.Bool())
		}
		for _, v := range a.Get("verdicts").Array() {
			verdicts = append(verdicts, v.Bool())
		}
		meta := map[string]interface{}{}
		if m := a.Get("metadata"); m.Exists() {
			_ = json.Unmarshal([]byte(m.Raw), &meta)
		}
		out = append(out, domain.Assertion{
			Author: a.Get("author").String(), Bid: a.Get("bid").String(),
			Mask: mask, Verdicts: verdicts, Metadata: meta,
		})
	}
	return out, nil
}

// Vote implements MarketClient.vote(guid, value) (spec §6, §4.6).
func (c *Client) Vote(ctx context.Context, guid uuid.UUID, value []bool) error {
	_, err := c.do(ctx, http.MethodPost, "/bounties/"+guid.String()+"/vote", nil,
		map[string]interface{}{"votes": value, "valid_bloom": false})
	return err
}

// Settle implements MarketClient.settle(guid) (spec §6, §4.6). A 404 or
// "already been settled" gateway error is surfaced as apperr.NotFound so the
// scheduler can treat it as terminal success.
func (c *Client) Settle(ctx context.Context, guid uuid.UUID) error {
	_, err := c.do(ctx, http.MethodPost, "/bounties/"+guid.String()+"/settle", nil, nil)
	if err != nil && !apperr.IsNotFound(err) && strings.Contains(err.Error(), "already been settled") {
		return apperr.Wrap(apperr.NotFound, err)
	}
	return err
}

// Balance reads a big-integer balance string for acct/side (e.g. "nct",
// "eth", "staking/total").
func (c *Client) Balance(ctx context.Context, acct, side string) (string, error) {
	env, err := c.do(ctx, http.MethodGet, "/balances/"+acct+"/"+side, nil, nil)
	if err != nil {
		return "", err
	}
	return env.result().String(), nil
}

// Relay moves amount NCT onto the named chain (spec §6 operator CLI
// `relay <side|home> <amount>`), backing internal/balance's reserve
// reconciler and the equivalent CLI subcommand.
func (c *Client) Relay(ctx context.Context, chain string, amount *big.Int) error {
	_, err := c.do(ctx, http.MethodPost, "/relay", nil, map[string]interface{}{
		"chain": chain, "amount": amount.String(),
	})
	return err
}

// StakeDeposit posts a staking deposit of amount NCT (spec §6 operator CLI
// `stake [--amount]`), backing the `staking_deposit` call the original
// arbiterd.py's `stake()` makes before checking staking requirements.
func (c *Client) StakeDeposit(ctx context.Context, amount *big.Int) error {
	_, err := c.do(ctx, http.MethodPost, "/balances/staking/deposit", nil, map[string]interface{}{
		"amount": amount.String(),
	})
	return err
}

// SubmitTransactions posts a batch of signed-tx hex strings.
func (c *Client) SubmitTransactions(ctx context.Context, txs []string) error {
	_, err := c.do(ctx, http.MethodPost, "/transactions", nil, map[string]interface{}{"transactions": txs})
	return err
}

// Manifest fetches a bounty's artifact manifest by uri (spec §4.6 step 1).
func (c *Client) Manifest(ctx context.Context, uri string) ([]ManifestEntry, error) {
	env, err := c.do(ctx, http.MethodGet, "/artifacts/"+uri, nil, nil)
	if err != nil {
		return nil, err
	}
	var out []ManifestEntry
	for _, e := range env.result().Array() {
		out = append(out, ManifestEntry{Hash: e.Get("hash").String(), Name: e.Get("name").String()})
	}
	return out, nil
}

// ManifestEntry is one artifact manifest row.
type ManifestEntry struct {
	Hash string
	Name string
}

// ArtifactBody fetches one artifact's body by uri/index.
func (c *Client) ArtifactBody(ctx context.Context, uri string, index int) ([]byte, error) {
	env, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/artifacts/%s/%d", uri, index), nil, nil)
	if err != nil {
		return nil, err
	}
	return env.raw, nil
}

// WaitOnline blocks (subject to ctx) until Status succeeds, polling every
// interval. Used at process start before subscribing to ingress (spec §9
// Config startup: "no backends configured is fatal" sibling check — the
// arbiter must not start its event loop against an offline gateway).
func (c *Client) WaitOnline(ctx context.Context, interval time.Duration) error {
	for {
		if _, err := c.Status(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// CheckStakingRequirements fetches the configured account's staking balance
// and reports whether it meets minStake (spec §12 supplemented feature,
// grounded on original_source/arbiter/arbiterd.py check_staking_requirements).
func (c *Client) CheckStakingRequirements(ctx context.Context, acct string, minStake string) (bool, string, error) {
	bal, err := c.Balance(ctx, acct, "staking/total")
	if err != nil {
		return false, "", err
	}
	balInt, ok := new(big.Int).SetString(bal, 10)
	if !ok {
		return false, bal, apperr.Wrap(apperr.Permanent, fmt.Errorf("non-numeric staking balance %q", bal))
	}
	minInt, ok := new(big.Int).SetString(minStake, 10)
	if !ok {
		return false, bal, apperr.Wrap(apperr.Config, fmt.Errorf("non-numeric min_stake %q", minStake))
	}
	return balInt.Cmp(minInt) >= 0, bal, nil
}
