// Package rebalanceapi is the client for the portfolio backend: token
// prices, aggregated swap quotes, wallet inventory, pool APRs and referrals.
package rebalanceapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Price endpoint retry settings.
const (
	PriceMaxTries     = 3
	PriceRetryDelay   = 5 * time.Second
	PriceRetryTimeout = 30 * time.Second
)

// Client for the portfolio backend
type Client struct {
	baseURL    string
	sdkURL     string
	client     *http.Client
	log        zerolog.Logger
	retryDelay time.Duration

	mu       sync.Mutex
	breakers map[string]failsafe.Executor[*http.Response]
}

// NewClient creates a new backend client
func NewClient(baseURL, sdkURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sdkURL:     strings.TrimRight(sdkURL, "/"),
		client:     &http.Client{Timeout: PriceRetryTimeout},
		log:        log.With().Str("client", "rebalance-api").Logger(),
		retryDelay: PriceRetryDelay,
		breakers:   make(map[string]failsafe.Executor[*http.Response]),
	}
}

// GetPriceByCMC fetches a price by CoinMarketCap id.
func (c *Client) GetPriceByCMC(ctx context.Context, cmcID string) (float64, error) {
	return c.getPrice(ctx, fmt.Sprintf("/token/%s/price", cmcID))
}

// GetPriceByGecko fetches a price by GeckoTerminal chain and token address.
func (c *Client) GetPriceByGecko(ctx context.Context, chain, address string) (float64, error) {
	return c.getPrice(ctx, fmt.Sprintf("/token/%s/%s/price", chain, address))
}

func (c *Client) getPrice(ctx context.Context, path string) (float64, error) {
	url := c.baseURL + path

	operation := func() (float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return 0, fmt.Errorf("API request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("API returned status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return 0, backoff.Permanent(err)
			}
			return 0, err
		}

		var body struct {
			Price *float64 `json:"price"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return 0, fmt.Errorf("failed to parse response: %w", err)
		}
		if body.Price == nil {
			return 0, backoff.Permanent(fmt.Errorf("invalid price data received"))
		}
		return *body.Price, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	b.Multiplier = 2

	price, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(PriceMaxTries),
		backoff.WithMaxElapsedTime(PriceRetryTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn().Err(err).Str("path", path).Dur("retry_in", next).Msg("Price request failed, retrying")
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch price %s: %w", path, err)
	}
	return price, nil
}

// GetReferrer returns the referrer of owner, or "" when there is none.
func (c *Client) GetReferrer(ctx context.Context, owner string) (string, error) {
	url := fmt.Sprintf("%s/referral/%s/referees", c.sdkURL, strings.ToLower(owner))
	var body struct {
		Referrer string `json:"referrer"`
	}
	if err := c.getJSON(ctx, url, &body); err != nil {
		return "", fmt.Errorf("failed to fetch referrer: %w", err)
	}
	return body.Referrer, nil
}

// PoolAPR is the backend view of a single pool.
type PoolAPR struct {
	Value float64 `json:"value"`
	TVL   float64 `json:"tvl"`
}

// GetPoolAPR fetches the APR and TVL of a pool by its unique id.
func (c *Client) GetPoolAPR(ctx context.Context, uniqueID string) (PoolAPR, error) {
	var out PoolAPR
	if err := c.getJSON(ctx, fmt.Sprintf("%s/pool/%s/apr", c.baseURL, uniqueID), &out); err != nil {
		return PoolAPR{}, fmt.Errorf("failed to fetch APR for %s: %w", uniqueID, err)
	}
	return out, nil
}

// UserToken is one wallet holding as reported by the inventory endpoint.
type UserToken struct {
	ID              string  `json:"id"`
	Symbol          string  `json:"symbol"`
	OptimizedSymbol string  `json:"optimized_symbol"`
	Price           float64 `json:"price"`
	Amount          float64 `json:"amount"`
	Decimals        int     `json:"decimals"`
	RawAmountHexStr string  `json:"raw_amount_hex_str"`
	ProtocolID      string  `json:"protocol_id"`
}

// DisplaySymbol is the inventory's optimized symbol, or the raw one when the
// optimized symbol is missing.
func (t UserToken) DisplaySymbol() string {
	if t.OptimizedSymbol != "" {
		return t.OptimizedSymbol
	}
	return t.Symbol
}

// GetUserTokens lists the wallet inventory of address on chain.
func (c *Client) GetUserTokens(ctx context.Context, address, chain string) ([]UserToken, error) {
	var tokens []UserToken
	if err := c.getJSON(ctx, fmt.Sprintf("%s/user/%s/%s/tokens", c.baseURL, address, chain), &tokens); err != nil {
		return nil, fmt.Errorf("failed to fetch tokens: %w", err)
	}
	return tokens, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) breakerFor(provider string) failsafe.Executor[*http.Response] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if exec, ok := c.breakers[provider]; ok {
		return exec
	}

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(30 * time.Second).
		OnOpen(func(e circuitbreaker.StateChangedEvent) {
			c.log.Warn().Str("provider", provider).Msg("Swap quote circuit opened")
		}).
		Build()

	exec := failsafe.With[*http.Response](breaker)
	c.breakers[provider] = exec
	return exec
}
