// Package squid is the client for the Squid cross-chain route API.
package squid

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// MinRequestInterval is the spacing the API enforces between route requests.
const MinRequestInterval = 3 * time.Second

// Client for the Squid v2 API
type Client struct {
	baseURL      string
	integratorID string
	client       *http.Client
	limiter      *rate.Limiter
	pipeline     failsafe.Executor[*http.Response]
	log          zerolog.Logger
}

// NewClient creates a new Squid client
func NewClient(baseURL, integratorID string, log zerolog.Logger) *Client {
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return false
			}
			return resp.StatusCode == http.StatusTooManyRequests
		}).
		WithBackoff(MinRequestInterval, 4*MinRequestInterval).
		WithMaxRetries(3).
		Build()

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		integratorID: integratorID,
		client:       &http.Client{Timeout: 20 * time.Second},
		limiter:      rate.NewLimiter(rate.Every(MinRequestInterval), 1),
		pipeline:     failsafe.With[*http.Response](retryPolicy),
		log:          log.With().Str("client", "squid").Logger(),
	}
}

// RouteRequest is the body of POST /v2/route.
type RouteRequest struct {
	FromAddress string `json:"fromAddress"`
	FromChain   string `json:"fromChain"`
	FromToken   string `json:"fromToken"`
	FromAmount  string `json:"fromAmount"`
	ToChain     string `json:"toChain"`
	ToToken     string `json:"toToken"`
	ToAddress   string `json:"toAddress"`
	EnableBoost bool   `json:"enableBoost"`
}

// Route is the subset of the route response the bridge needs.
type Route struct {
	RequestID string
	Target    string
	Data      string
	Value     string
	FeeUSD    float64
	ToAmount  string
}

type routeResponse struct {
	Route struct {
		Estimate struct {
			ToAmount string `json:"toAmount"`
			FeeCosts []struct {
				AmountUSD string `json:"amountUsd"`
			} `json:"feeCosts"`
		} `json:"estimate"`
		TransactionRequest struct {
			Target string `json:"target"`
			Data   string `json:"data"`
			Value  string `json:"value"`
		} `json:"transactionRequest"`
	} `json:"route"`
}

// GetRoute requests a route. Calls are spaced by MinRequestInterval and
// 429 responses are retried.
func (c *Client) GetRoute(ctx context.Context, r RouteRequest) (*Route, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal route request: %w", err)
	}

	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/route", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-integrator-id", c.integratorID)
		return c.client.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("squid route request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("squid returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var body routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse route: %w", err)
	}

	route := &Route{
		RequestID: resp.Header.Get("x-request-id"),
		Target:    body.Route.TransactionRequest.Target,
		Data:      body.Route.TransactionRequest.Data,
		Value:     body.Route.TransactionRequest.Value,
		ToAmount:  body.Route.Estimate.ToAmount,
	}
	if len(body.Route.Estimate.FeeCosts) > 0 {
		if _, err := fmt.Sscan(body.Route.Estimate.FeeCosts[0].AmountUSD, &route.FeeUSD); err != nil {
			c.log.Warn().Err(err).Msg("Unparseable fee estimate")
		}
	}
	if route.Target == "" {
		return nil, fmt.Errorf("squid route has no transaction target")
	}
	return route, nil
}
