package rebalanceapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/failsafe-go/failsafe-go"
	json "github.com/goccy/go-json"
)

// Number accepts a JSON string, number or null.
type Number string

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*n = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Number(strings.TrimSpace(s))
		return nil
	}
	*n = Number(data)
	return nil
}

// Float parses the value as a float64.
func (n Number) Float() (float64, bool) {
	if n == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// BigInt parses the value as an integer amount. Hex and scientific
// notation are accepted since providers disagree on encoding.
func (n Number) BigInt() (*big.Int, bool) {
	s := string(n)
	if s == "" {
		return nil, false
	}
	if strings.HasPrefix(s, "0x") {
		v, ok := new(big.Int).SetString(s[2:], 16)
		return v, ok
	}
	if v, ok := new(big.Int).SetString(s, 10); ok {
		return v, true
	}
	f, ok := new(big.Float).SetString(s)
	if !ok {
		return nil, false
	}
	v, _ := f.Int(nil)
	return v, true
}

// Quote is the raw aggregator response.
type Quote struct {
	ToAmount    Number          `json:"toAmount"`
	MinToAmount Number          `json:"minToAmount"`
	ApproveTo   string          `json:"approve_to"`
	To          string          `json:"to"`
	Data        string          `json:"data"`
	GasFee      Number          `json:"gasFee"`
	GasCostUSD  Number          `json:"gasCostUSD"`
	ToUSD       Number          `json:"toUsd"`
	Error       json.RawMessage `json:"error,omitempty"`
}

// IsEmpty reports whether the provider returned nothing usable.
func (q *Quote) IsEmpty() bool {
	return q == nil || (q.ToAmount == "" && q.MinToAmount == "" && q.To == "" && q.Data == "")
}

// ErrorMessage returns the provider error, or "" when there is none.
func (q *Quote) ErrorMessage() string {
	if q == nil {
		return ""
	}
	raw := strings.TrimSpace(string(q.Error))
	switch raw {
	case "", "null", "false", `""`:
		return ""
	}
	var s string
	if err := json.Unmarshal(q.Error, &s); err == nil {
		return s
	}
	return raw
}

// QuoteRequest holds the query of the best-swap-data endpoint.
type QuoteRequest struct {
	ChainID           int
	FromTokenAddress  string
	ToTokenAddress    string
	Amount            *big.Int
	FromAddress       string
	Slippage          float64
	Provider          string
	FromTokenDecimals int
	ToTokenDecimals   int
	EthPrice          float64
	ToTokenPrice      float64
}

func (r QuoteRequest) values() url.Values {
	v := url.Values{}
	v.Set("chainId", strconv.Itoa(r.ChainID))
	v.Set("fromTokenAddress", r.FromTokenAddress)
	v.Set("toTokenAddress", r.ToTokenAddress)
	v.Set("amount", r.Amount.String())
	v.Set("fromAddress", r.FromAddress)
	v.Set("slippage", strconv.FormatFloat(r.Slippage, 'f', -1, 64))
	v.Set("provider", r.Provider)
	v.Set("fromTokenDecimals", strconv.Itoa(r.FromTokenDecimals))
	v.Set("toTokenDecimals", strconv.Itoa(r.ToTokenDecimals))
	v.Set("eth_price", strconv.FormatFloat(r.EthPrice, 'f', -1, 64))
	v.Set("to_token_price", strconv.FormatFloat(r.ToTokenPrice, 'f', -1, 64))
	return v
}

// GetSwapQuote asks one provider for a quote. Non-2xx responses yield an
// empty quote; only transport failures (including an open circuit) are
// returned as errors.
func (c *Client) GetSwapQuote(ctx context.Context, r QuoteRequest) (*Quote, error) {
	endpoint := c.baseURL + "/the_best_swap_data?" + r.values().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.breakerFor(r.Provider).GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		return c.client.Do(req)
	})
	if err != nil {
		c.log.Warn().Err(err).Str("provider", r.Provider).Msg("Swap quote request failed")
		return nil, fmt.Errorf("swap quote from %s failed: %w", r.Provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.log.Debug().Int("status", resp.StatusCode).Str("provider", r.Provider).Msg("Swap quote unavailable")
		return &Quote{}, nil
	}

	var q Quote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return nil, fmt.Errorf("failed to parse %s quote: %w", r.Provider, err)
	}
	return &q, nil
}
