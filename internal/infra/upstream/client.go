// Package upstream registers event predicates with the chain observer node
// that pushes events to the ingress endpoint.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stacksignal/eventpipe/internal/core/domain"
)

// Client registers predicates with an upstream chain observer over HTTP.
type Client struct {
	nodeURL     string
	network     string
	startBlock  uint64
	callbackURL string
	httpClient  *http.Client
}

// Config holds the upstream registration settings.
type Config struct {
	NodeURL     string
	Network     string
	StartBlock  uint64
	CallbackURL string // where the upstream delivers events
}

// New creates an upstream client.
func New(cfg Config) *Client {
	return &Client{
		nodeURL:     cfg.NodeURL,
		network:     cfg.Network,
		startBlock:  cfg.StartBlock,
		callbackURL: cfg.CallbackURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

type registration struct {
	Network     string                            `json:"network"`
	StartBlock  uint64                            `json:"start_block,omitempty"`
	CallbackURL string                            `json:"callback_url"`
	Predicates  map[string]domain.PredicateFilter `json:"predicates"`
}

// RegisterPredicates tells the upstream node which events to deliver.
func (c *Client) RegisterPredicates(ctx context.Context, predicates map[string]domain.PredicateFilter) error {
	body, err := json.Marshal(registration{
		Network:     c.network,
		StartBlock:  c.startBlock,
		CallbackURL: c.callbackURL,
		Predicates:  predicates,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.nodeURL+"/v1/observers", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream rejected registration: %s: %s", resp.Status, msg)
	}
	return nil
}
