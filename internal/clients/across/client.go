// Package across is the client for the Across bridge suggested-fees API.
package across

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Client for the Across API
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new Across client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "across").Logger(),
	}
}

// FeeRequest identifies a route and amount.
type FeeRequest struct {
	InputToken         string
	OutputToken        string
	OriginChainID      int
	DestinationChainID int
	Amount             *big.Int
}

// SuggestedFees is the subset of the API response the bridge needs.
type SuggestedFees struct {
	TotalRelayFee       *big.Int
	QuoteTimestamp      uint32
	ExclusiveRelayer    string
	ExclusivityDeadline uint32
}

type suggestedFeesResponse struct {
	TotalRelayFee struct {
		Pct   string `json:"pct"`
		Total string `json:"total"`
	} `json:"totalRelayFee"`
	Timestamp           string `json:"timestamp"`
	ExclusiveRelayer    string `json:"exclusiveRelayer"`
	ExclusivityDeadline uint32 `json:"exclusivityDeadline"`
}

// GetSuggestedFees quotes the relay fee for a deposit.
func (c *Client) GetSuggestedFees(ctx context.Context, r FeeRequest) (*SuggestedFees, error) {
	q := url.Values{}
	q.Set("inputToken", r.InputToken)
	q.Set("outputToken", r.OutputToken)
	q.Set("originChainId", strconv.Itoa(r.OriginChainID))
	q.Set("destinationChainId", strconv.Itoa(r.DestinationChainID))
	q.Set("amount", r.Amount.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/suggested-fees?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var body suggestedFeesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	total, ok := new(big.Int).SetString(body.TotalRelayFee.Total, 10)
	if !ok {
		return nil, fmt.Errorf("invalid relay fee %q", body.TotalRelayFee.Total)
	}
	ts, err := strconv.ParseUint(body.Timestamp, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid quote timestamp %q: %w", body.Timestamp, err)
	}

	c.log.Debug().
		Int("origin", r.OriginChainID).
		Int("destination", r.DestinationChainID).
		Str("fee", total.String()).
		Msg("Fetched suggested fees")

	return &SuggestedFees{
		TotalRelayFee:       total,
		QuoteTimestamp:      uint32(ts),
		ExclusiveRelayer:    body.ExclusiveRelayer,
		ExclusivityDeadline: body.ExclusivityDeadline,
	}, nil
}
