// Package gateway implements the brokerage session against the Interactive
// Brokers Client Portal gateway (REST plus websocket push). The bridge owns
// the only instance and serializes all calls; only IsConnected and AccountID
// are read from other goroutines.
package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	apiPrefix      = "/v1/api"
	requestTimeout = 30 * time.Second
	authPollDelay  = 500 * time.Millisecond
)

// Client talks to a locally running Client Portal gateway
type Client struct {
	baseURL    string
	preferred  string // Preferred account id from config, may be empty
	insecure   bool
	httpClient *http.Client
	log        zerolog.Logger

	connected atomic.Bool

	accountMu sync.RWMutex
	accountID string

	stream *accountStream
}

// Config holds gateway client options
type Config struct {
	// BaseURL is the gateway root, e.g. https://localhost:5000
	BaseURL string
	// Account selects the managed account when the gateway serves several.
	Account string
	// Insecure skips TLS verification. The local gateway serves a
	// self-signed certificate, so this is normally true.
	Insecure bool
	Log      zerolog.Logger
}

// New creates a gateway client
func New(cfg Config) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Insecure,
		},
	}

	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		preferred: cfg.Account,
		insecure:  cfg.Insecure,
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: transport,
		},
		log: cfg.Log.With().Str("client", "ibkr-gateway").Logger(),
	}
	c.stream = newAccountStream(c)
	return c
}

// authStatus is the gateway's session state
type authStatus struct {
	Authenticated bool   `json:"authenticated"`
	Connected     bool   `json:"connected"`
	Competing     bool   `json:"competing"`
	Message       string `json:"message"`
}

// accountsResponse lists the accounts served by the gateway
type accountsResponse struct {
	Accounts        []string `json:"accounts"`
	SelectedAccount string   `json:"selectedAccount"`
}

// Connect validates the gateway session and captures the managed account id.
// Idempotent: when already authenticated it only refreshes the account id.
// The accounts call doubles as the market-data priming request the gateway
// requires before snapshots work.
func (c *Client) Connect(ctx context.Context) error {
	var status authStatus
	if err := c.post(ctx, "/iserver/auth/status", nil, &status); err != nil {
		return fmt.Errorf("auth status check failed: %w", err)
	}

	if !status.Authenticated {
		if err := c.reauthenticate(ctx); err != nil {
			return err
		}
	}

	var accounts accountsResponse
	if err := c.get(ctx, "/iserver/accounts", &accounts); err != nil {
		return fmt.Errorf("accounts fetch failed: %w", err)
	}
	if len(accounts.Accounts) == 0 {
		return fmt.Errorf("gateway reports no managed accounts")
	}

	accountID := accounts.SelectedAccount
	if c.preferred != "" {
		for _, a := range accounts.Accounts {
			if a == c.preferred {
				accountID = a
				break
			}
		}
	}
	if accountID == "" {
		accountID = accounts.Accounts[0]
	}

	c.accountMu.Lock()
	c.accountID = accountID
	c.accountMu.Unlock()

	c.connected.Store(true)
	return nil
}

// reauthenticate triggers a brokerage session re-auth and polls until the
// gateway reports authenticated or ctx expires
func (c *Client) reauthenticate(ctx context.Context) error {
	c.log.Info().Msg("Gateway session not authenticated, triggering reauthenticate")

	if err := c.post(ctx, "/iserver/reauthenticate", nil, nil); err != nil {
		return fmt.Errorf("reauthenticate trigger failed: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("gateway did not authenticate in time: %w", ctx.Err())
		case <-time.After(authPollDelay):
		}

		var status authStatus
		if err := c.post(ctx, "/iserver/auth/status", nil, &status); err != nil {
			continue
		}
		if status.Authenticated {
			return nil
		}
	}
}

// Disconnect closes the push stream and marks the session down. The gateway
// process itself keeps running; the next Connect revalidates the session.
func (c *Client) Disconnect() {
	c.stream.stop()
	c.connected.Store(false)
}

// IsConnected reports the client's view of the session
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// AccountID returns the managed account id captured at connect time
func (c *Client) AccountID() string {
	c.accountMu.RLock()
	defer c.accountMu.RUnlock()
	return c.accountID
}

// markDisconnected flips the session down after an auth failure
func (c *Client) markDisconnected(reason string) {
	if c.connected.Swap(false) {
		c.log.Warn().Str("reason", reason).Msg("Gateway session lost")
	}
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) del(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodDelete, path, nil, out)
}

// do executes one REST call against the gateway
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	url := c.baseURL + apiPrefix + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "helmsman/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.markDisconnected("401 from gateway")
		return fmt.Errorf("gateway session expired (401) on %s", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyStr := string(respBody)
		if len(bodyStr) > 500 {
			bodyStr = bodyStr[:500] + "..."
		}
		c.log.Error().
			Int("status_code", resp.StatusCode).
			Str("path", path).
			Str("response_body", bodyStr).
			Msg("Gateway returned non-2xx status")
		return fmt.Errorf("gateway returned status %d on %s", resp.StatusCode, path)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			bodyStr := string(respBody)
			if len(bodyStr) > 500 {
				bodyStr = bodyStr[:500] + "..."
			}
			return fmt.Errorf("failed to parse response from %s: %w (body: %s)", path, err, bodyStr)
		}
	}

	return nil
}

// account returns the managed account id or an error when not connected
func (c *Client) account() (string, error) {
	id := c.AccountID()
	if id == "" {
		return "", fmt.Errorf("no managed account id, connect first")
	}
	return id, nil
}
