package rebalanceapi

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	c := NewClient(url, url, zerolog.Nop())
	c.retryDelay = time.Millisecond
	return c
}

func TestGetPriceByCMC_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token/1027/price", r.URL.Path)
		_, _ = w.Write([]byte(`{"price": 3012.5}`))
	}))
	defer server.Close()

	price, err := newTestClient(server.URL).GetPriceByCMC(context.Background(), "1027")
	require.NoError(t, err)
	assert.Equal(t, 3012.5, price)
}

func TestGetPriceByGecko_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token/arbitrum/0xabc/price", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"price": 0.42}`))
	}))
	defer server.Close()

	price, err := newTestClient(server.URL).GetPriceByGecko(context.Background(), "arbitrum", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 0.42, price)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetPrice_NullPriceIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"price": null}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetPriceByCMC(context.Background(), "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid price data received")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetPrice_GivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetPriceByCMC(context.Background(), "1")
	require.Error(t, err)
	assert.Equal(t, int32(PriceMaxTries), calls.Load())
}

func TestGetSwapQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/the_best_swap_data", r.URL.Path)
		assert.Equal(t, "42161", q.Get("chainId"))
		assert.Equal(t, "1000000", q.Get("amount"))
		assert.Equal(t, "0.5", q.Get("slippage"))
		assert.Equal(t, "3000", q.Get("eth_price"))

		switch q.Get("provider") {
		case "1inch":
			_, _ = w.Write([]byte(`{"toAmount":"990000","minToAmount":985000,"approve_to":"0xrouter","to":"0xrouter","data":"0xdead","gasFee":"21000","toUsd":0.99}`))
		case "0x":
			_, _ = w.Write([]byte(`{"error":"insufficient liquidity"}`))
		case "paraswap":
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	req := QuoteRequest{
		ChainID:          42161,
		FromTokenAddress: "0xfrom",
		ToTokenAddress:   "0xto",
		Amount:           big.NewInt(1000000),
		FromAddress:      "0xowner",
		Slippage:         0.5,
		EthPrice:         3000,
		ToTokenPrice:     1,
	}

	req.Provider = "1inch"
	q, err := client.GetSwapQuote(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, q.IsEmpty())
	assert.Empty(t, q.ErrorMessage())
	minOut, ok := q.MinToAmount.BigInt()
	require.True(t, ok)
	assert.Equal(t, int64(985000), minOut.Int64())
	usd, ok := q.ToUSD.Float()
	require.True(t, ok)
	assert.Equal(t, 0.99, usd)

	req.Provider = "0x"
	q, err = client.GetSwapQuote(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "insufficient liquidity", q.ErrorMessage())

	req.Provider = "paraswap"
	q, err = client.GetSwapQuote(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, q.IsEmpty())
}

func TestNumber_BigInt(t *testing.T) {
	tests := []struct {
		in   Number
		want string
		ok   bool
	}{
		{"123", "123", true},
		{"0x10", "16", true},
		{"1.5e3", "1500", true},
		{"", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			v, ok := tt.in.BigInt()
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, v.String())
			}
		})
	}
}

func TestGetUserTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/user/0xowner/arb/tokens" {
			_, _ = w.Write([]byte(`[{"id":"0xtoken","optimized_symbol":"ARB","price":1.1,"amount":3,"decimals":18,"raw_amount_hex_str":"0x29a2241af62c0000","protocol_id":""}]`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	tokens, err := client.GetUserTokens(context.Background(), "0xowner", "arb")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "ARB", tokens[0].OptimizedSymbol)
	assert.Equal(t, 18, tokens[0].Decimals)

	_, err = client.GetUserTokens(context.Background(), "0xowner", "base")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch tokens")
}

func TestGetReferrerAndPoolAPR(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/referral/0xabcdef/referees":
			_, _ = w.Write([]byte(`{"referrer":"0xref","referees":[]}`))
		case "/pool/arbitrum/aave/v3/usdc/apr":
			_, _ = w.Write([]byte(`{"value":0.05,"tvl":1250000}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ref, err := client.GetReferrer(context.Background(), "0xABCDEF")
	require.NoError(t, err)
	assert.Equal(t, "0xref", ref)

	apr, err := client.GetPoolAPR(context.Background(), "arbitrum/aave/v3/usdc")
	require.NoError(t, err)
	assert.Equal(t, 0.05, apr.Value)
	assert.Equal(t, 1250000.0, apr.TVL)
}
