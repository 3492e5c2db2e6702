package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/rebalancer/internal/clients/rebalanceapi"
	"github.com/aristath/rebalancer/internal/modules/dust"
	"github.com/aristath/rebalancer/internal/modules/orchestrator"
	"github.com/aristath/rebalancer/internal/modules/strategy"
	testingpkg "github.com/aristath/rebalancer/internal/testing"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens []rebalanceapi.UserToken

func (s staticTokens) GetUserTokens(ctx context.Context, address, chain string) ([]rebalanceapi.UserToken, error) {
	return s, nil
}

func setupRouter(t *testing.T, withDust bool) chi.Router {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)

	a := testingpkg.NewMockAdapterFixture("arbitrum", "aave", "usdc").SetUSDBalance(75)
	c := testingpkg.NewMockAdapterFixture("base", "aave", "usdc").SetUSDBalance(25)
	s, err := strategy.New([]strategy.Category{{
		Name: "stablecoin",
		Chains: []strategy.ChainAllocation{
			{Chain: "arbitrum", Positions: []strategy.Position{strategy.NewPosition(a, 0.5, "a")}},
			{Chain: "base", Positions: []strategy.Position{strategy.NewPosition(c, 0.5, "c")}},
		},
	}})
	require.NoError(t, err)

	prices := testingpkg.NewMockPriceProvider(testingpkg.NewPriceFixtures())
	swapper := testingpkg.NewMockSwapper()
	o := orchestrator.New(
		&strategy.Vault{Name: "test", Denomination: strategy.DenominationUSD, Strategy: s},
		orchestrator.Dependencies{Prices: prices, Swapper: swapper, Bridges: testingpkg.NewMockBridgeSelector()},
		logger,
	)

	var d *dust.Converter
	if withDust {
		d = dust.NewConverter(staticTokens{{ID: "0xgmx", Symbol: "GMX", Price: 30, Amount: 0.1, Decimals: 18}},
			swapper, prices, nil, nil, logger).WithBatchPause(0)
	}

	r := chi.NewRouter()
	NewHandler(o, d, logger).RegisterRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var response map[string]interface{}
	if w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	}
	return w, response
}

func TestHandleGetBalances(t *testing.T) {
	r := setupRouter(t, false)

	w, response := do(t, r, "GET", "/portfolio/"+testingpkg.TestOwner+"/balances", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, response, "metadata")
	data := response["data"].(map[string]interface{})
	assert.Equal(t, 100.0, data["totalUsdBalance"])
	assert.Len(t, data["balances"], 2)
}

func TestHandleGetMetadata(t *testing.T) {
	r := setupRouter(t, false)

	w, response := do(t, r, "GET", "/portfolio/"+testingpkg.TestOwner+"/metadata", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, response, "data")
}

func TestHandleAction_ZapIn(t *testing.T) {
	r := setupRouter(t, false)

	w, response := do(t, r, "POST", "/portfolio/actions", ActionRequest{
		Action:        "zapIn",
		Owner:         testingpkg.TestOwner,
		Chain:         "arbitrum",
		TokenIn:       "usdc",
		Amount:        "100000000",
		Slippage:      1,
		OnlyThisChain: true,
	})

	require.Equal(t, http.StatusOK, w.Code)
	data := response["data"].(map[string]interface{})
	assert.Equal(t, "zapIn", data["action"])
	assert.Equal(t, "arbitrum", data["chain"])
	assert.NotEmpty(t, data["calls"])
}

func TestHandleAction_Diversify(t *testing.T) {
	r := setupRouter(t, false)

	w, response := do(t, r, "POST", "/portfolio/actions", ActionRequest{
		Action:   orchestrator.ActionDiversify,
		Owner:    testingpkg.TestOwner,
		Chain:    "base",
		TokenIn:  "usdc",
		Amount:   "100000000",
		Slippage: 1,
	})

	require.Equal(t, http.StatusOK, w.Code)
	data := response["data"].(map[string]interface{})
	assert.Equal(t, "diversify", data["action"])
}

func TestHandleAction_BadRequests(t *testing.T) {
	r := setupRouter(t, false)

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed body", "{not json"},
		{"missing owner", ActionRequest{Action: "zapIn", Chain: "arbitrum", TokenIn: "usdc", Amount: "1"}},
		{"unknown token", ActionRequest{Action: "zapIn", Owner: testingpkg.TestOwner, Chain: "arbitrum", TokenIn: "doge", Amount: "1"}},
		{"bad amount", ActionRequest{Action: "zapIn", Owner: testingpkg.TestOwner, Chain: "arbitrum", TokenIn: "usdc", Amount: "1.5"}},
		{"unknown action", ActionRequest{Action: "yolo", Owner: testingpkg.TestOwner, Chain: "arbitrum"}},
		{"unknown chain", ActionRequest{Action: "stake", Owner: testingpkg.TestOwner, Chain: "solana"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := do(t, r, "POST", "/portfolio/actions", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleAction_EmptyBatch(t *testing.T) {
	r := setupRouter(t, false)

	w, response := do(t, r, "POST", "/portfolio/actions", ActionRequest{
		Action:     "transfer",
		Owner:      testingpkg.TestOwner,
		Chain:      "arbitrum",
		Percentage: 1,
		Recipient:  "0x3333333333333333333333333333333333333333",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, response["error"], "no transactions generated")
}

func TestHandleFlowChart(t *testing.T) {
	r := setupRouter(t, false)

	w, response := do(t, r, "POST", "/portfolio/flowchart", FlowChartRequest{
		Action: "zapIn",
		Chain:  "arbitrum",
		Token:  "usdc",
	})

	require.Equal(t, http.StatusOK, w.Code)
	data := response["data"].(map[string]interface{})
	assert.NotEmpty(t, data["nodes"])
	assert.NotEmpty(t, data["edges"])
}

func TestHandleFlowChart_Rebalance(t *testing.T) {
	r := setupRouter(t, false)

	w, _ := do(t, r, "POST", "/portfolio/flowchart", FlowChartRequest{Action: "rebalance", Chain: "arbitrum"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, response := do(t, r, "POST", "/portfolio/flowchart", FlowChartRequest{
		Action: "rebalance",
		Chain:  "arbitrum",
		Owner:  testingpkg.TestOwner,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, response, "data")
}

func TestHandleFlowChart_InvalidAction(t *testing.T) {
	r := setupRouter(t, false)

	w, response := do(t, r, "POST", "/portfolio/flowchart", FlowChartRequest{Action: "yolo", Chain: "arbitrum"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid action name yolo", response["error"])
}

func TestDustRoutes(t *testing.T) {
	r := setupRouter(t, false)
	w, _ := do(t, r, "GET", "/dust/"+testingpkg.TestOwner+"/arbitrum", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	r = setupRouter(t, true)
	w, response := do(t, r, "GET", "/dust/"+testingpkg.TestOwner+"/arbitrum", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := response["data"].(map[string]interface{})
	assert.Equal(t, 1.0, data["count"])

	w, response = do(t, r, "POST", "/dust/"+testingpkg.TestOwner+"/arbitrum?slippage=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data = response["data"].(map[string]interface{})
	assert.Equal(t, []interface{}{"GMX"}, data["tokens"])

	w, _ = do(t, r, "POST", "/dust/"+testingpkg.TestOwner+"/arbitrum?slippage=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
