// Package handlers provides HTTP handlers for portfolio operations.
package handlers

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/chains"
	"github.com/aristath/rebalancer/internal/modules/dust"
	"github.com/aristath/rebalancer/internal/modules/flowchart"
	"github.com/aristath/rebalancer/internal/modules/orchestrator"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	orchestrator *orchestrator.Orchestrator
	dust         *dust.Converter
	log          zerolog.Logger
}

// NewHandler creates a new portfolio handler. dust may be nil, in which case
// the dust routes are not registered.
func NewHandler(o *orchestrator.Orchestrator, d *dust.Converter, log zerolog.Logger) *Handler {
	return &Handler{
		orchestrator: o,
		dust:         d,
		log:          log.With().Str("handler", "portfolio").Logger(),
	}
}

// ActionRequest is the body of POST /portfolio/actions. Tokens are symbols
// resolved on Chain; Amount is in raw units of TokenIn.
type ActionRequest struct {
	Action        domain.ActionName `json:"action"`
	Owner         string            `json:"owner"`
	Chain         string            `json:"chain"`
	TokenIn       string            `json:"tokenIn"`
	Amount        string            `json:"amount"`
	TokenOut      string            `json:"tokenOut"`
	Percentage    float64           `json:"percentage"`
	Recipient     string            `json:"recipient"`
	Slippage      float64           `json:"slippage"`
	OnlyThisChain bool              `json:"onlyThisChain"`
}

// FlowChartRequest is the body of POST /portfolio/flowchart. Owner is only
// needed for rebalance actions.
type FlowChartRequest struct {
	Action domain.ActionName `json:"action"`
	Chain  string            `json:"chain"`
	Token  string            `json:"token"`
	Owner  string            `json:"owner"`
}

// HandleGetBalances handles GET /api/portfolio/{owner}/balances
func (h *Handler) HandleGetBalances(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	snap, err := h.orchestrator.Snapshot(r.Context(), owner)
	if err != nil {
		h.writeError(w, err, "Failed to compute balances")
		return
	}

	h.writeData(w, http.StatusOK, snap)
}

// HandleGetMetadata handles GET /api/portfolio/{owner}/metadata
func (h *Handler) HandleGetMetadata(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	meta, err := h.orchestrator.Metadata(r.Context(), owner)
	if err != nil {
		h.writeError(w, err, "Failed to compute portfolio metadata")
		return
	}

	h.writeData(w, http.StatusOK, meta)
}

// HandleAction handles POST /api/portfolio/actions
func (h *Handler) HandleAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	params, err := req.params()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var res *orchestrator.ActionResult
	if req.Action == orchestrator.ActionDiversify {
		res, err = h.orchestrator.Diversify(r.Context(), params)
	} else {
		res, err = h.orchestrator.PortfolioAction(r.Context(), req.Action, params)
	}
	if err != nil {
		h.writeError(w, err, "Failed to build portfolio action")
		return
	}

	h.writeData(w, http.StatusOK, res)
}

func (req ActionRequest) params() (orchestrator.ActionParams, error) {
	p := orchestrator.ActionParams{
		Owner:         req.Owner,
		Chain:         req.Chain,
		Percentage:    req.Percentage,
		Recipient:     req.Recipient,
		Slippage:      req.Slippage,
		OnlyThisChain: req.OnlyThisChain,
	}

	if req.TokenIn != "" {
		t, err := chains.Token(req.TokenIn, req.Chain)
		if err != nil {
			return p, err
		}
		p.TokenIn = t
	}
	if req.TokenOut != "" {
		t, err := chains.Token(req.TokenOut, req.Chain)
		if err != nil {
			return p, err
		}
		p.TokenOut = t
	}
	if req.Amount != "" {
		amount, ok := new(big.Int).SetString(req.Amount, 10)
		if !ok {
			return p, fmt.Errorf("invalid amount %q", req.Amount)
		}
		p.Amount = amount
	}
	return p, nil
}

// HandleFlowChart handles POST /api/portfolio/flowchart
func (h *Handler) HandleFlowChart(w http.ResponseWriter, r *http.Request) {
	var req FlowChartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	chain := chains.NormalizeChainName(req.Chain)
	vault := h.orchestrator.Vault()
	params := flowchart.Params{Chain: chain, Denomination: vault.Denomination}
	if req.Token != "" {
		t, err := chains.Token(req.Token, chain)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		params.Token = t
	}

	var snap *rebalancing.Snapshot
	if isRebalance(req.Action) {
		if req.Owner == "" {
			http.Error(w, "owner is required for rebalance flow charts", http.StatusBadRequest)
			return
		}
		var err error
		snap, err = h.orchestrator.Snapshot(r.Context(), req.Owner)
		if err != nil {
			h.writeError(w, err, "Failed to compute balances")
			return
		}
	}

	graph, err := flowchart.Build(vault.Strategy, req.Action, params, snap)
	if err != nil {
		h.writeError(w, err, "Failed to build flow chart")
		return
	}

	h.writeData(w, http.StatusOK, graph)
}

func isRebalance(action domain.ActionName) bool {
	switch action {
	case domain.ActionRebalance, domain.ActionCrossChainRebalance, domain.ActionLocalRebalance:
		return true
	}
	return false
}

// HandleGetDust handles GET /api/dust/{owner}/{chain}
func (h *Handler) HandleGetDust(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.dust.GetTokens(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "chain"))
	if err != nil {
		h.writeError(w, err, "Failed to list dust tokens")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"tokens": tokens,
			"count":  len(tokens),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleConvertDust handles POST /api/dust/{owner}/{chain}?slippage=1
func (h *Handler) HandleConvertDust(w http.ResponseWriter, r *http.Request) {
	slippage := 1.0
	if s := r.URL.Query().Get("slippage"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			http.Error(w, "slippage must be a number", http.StatusBadRequest)
			return
		}
		slippage = v
	}

	res, err := h.dust.Convert(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "chain"), slippage)
	if err != nil {
		h.writeError(w, err, "Failed to convert dust")
		return
	}

	h.writeData(w, http.StatusOK, res)
}

// writeError maps validation failures to 400, empty batches to 422 and
// everything else to 500.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrEmptyBatch):
		status = http.StatusUnprocessableEntity
	default:
		h.log.Error().Err(err).Msg(msg)
	}

	h.writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
