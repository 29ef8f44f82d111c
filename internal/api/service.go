// Package api provides the HTTP handlers that expose the accounting engine
// to the outer market-pool integration: buy/sell trade legs, liquidity
// management, pure quotes, and state/audit queries.
//
// Handlers are thin: all invariants live in the engine; this layer decodes
// requests, maps typed engine errors to status codes, and broadcasts
// committed operations over WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/curvebank/pool-engine/internal/engine"
	"github.com/curvebank/pool-engine/internal/exposure"
	"github.com/curvebank/pool-engine/internal/store"
	"github.com/curvebank/pool-engine/internal/vault"
)

// Service handles pool operations over HTTP.
type Service struct {
	engine *engine.Engine
	vault  vault.Adapter
	store  store.Store // nil when persistence is disabled
	wsHub  *WSHub      // nil when broadcasting is disabled
}

// NewService creates a new API service. st and hub may be nil.
func NewService(eng *engine.Engine, v vault.Adapter, st store.Store, hub *WSHub) *Service {
	return &Service{engine: eng, vault: v, store: st, wsHub: hub}
}

// Routes mounts all handlers under the given router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/buy", s.Buy)
	r.Post("/sell", s.Sell)
	r.Post("/liquidity", s.AddLiquidity)
	r.Delete("/liquidity/{positionID}", s.RemoveLiquidity)
	r.Get("/quote/buy", s.QuoteBuy)
	r.Get("/quote/sell", s.QuoteSell)
	r.Get("/state", s.State)
	r.Get("/positions/{positionID}", s.GetPosition)
	r.Get("/operations", s.ListOperations)
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Request types ---

// BuyRequest is the JSON body for POST /buy.
type BuyRequest struct {
	Owner    string          `json:"owner"`
	StableIn decimal.Decimal `json:"stable_in"`
}

// SellRequest is the JSON body for POST /sell.
type SellRequest struct {
	Owner   string          `json:"owner"`
	AssetIn decimal.Decimal `json:"asset_in"`
}

// AddLiquidityRequest is the JSON body for POST /liquidity.
type AddLiquidityRequest struct {
	Owner    string          `json:"owner"`
	AssetIn  decimal.Decimal `json:"asset_in"`
	StableIn decimal.Decimal `json:"stable_in"`
}

// StateResponse is the JSON body for GET /state.
type StateResponse struct {
	IssuedSupply decimal.Decimal `json:"issued_supply"`
	BuyPrincipal decimal.Decimal `json:"buy_principal"`
	LPPrincipal  decimal.Decimal `json:"lp_principal"`
	Price        decimal.Decimal `json:"price"`
	VaultBalance decimal.Decimal `json:"vault_balance"`
}

// --- Handlers ---

// Buy handles POST /api/v1/buy.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	res, err := s.engine.Buy(r.Context(), req.Owner, req.StableIn)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.broadcast("buy", res.Price.String(), "", "", "")
	writeJSON(w, http.StatusOK, res)
}

// Sell handles POST /api/v1/sell.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	res, err := s.engine.Sell(r.Context(), req.Owner, req.AssetIn)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.broadcast("sell", res.Price.String(), res.StableOut.String(), "", res.Scale.String())
	writeJSON(w, http.StatusOK, res)
}

// AddLiquidity handles POST /api/v1/liquidity.
func (s *Service) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req AddLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	res, err := s.engine.AddLiquidity(r.Context(), req.Owner, req.AssetIn, req.StableIn)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.broadcast("add_liquidity", res.Price.String(), "", "", "")
	writeJSON(w, http.StatusCreated, res)
}

// RemoveLiquidity handles DELETE /api/v1/liquidity/{positionID}.
func (s *Service) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")

	res, err := s.engine.RemoveLiquidity(r.Context(), positionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.broadcast("remove_liquidity", res.Price.String(), res.StableOut.String(), res.AssetOut.String(), res.Scale.String())
	writeJSON(w, http.StatusOK, res)
}

// QuoteBuy handles GET /api/v1/quote/buy?stable_in=N.
func (s *Service) QuoteBuy(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("stable_in"))
	if err != nil {
		writeError(w, "stable_in must be a decimal", http.StatusBadRequest)
		return
	}

	out, err := s.engine.QuoteBuy(r.Context(), amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"asset_out": out})
}

// QuoteSell handles GET /api/v1/quote/sell?asset_in=N.
func (s *Service) QuoteSell(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("asset_in"))
	if err != nil {
		writeError(w, "asset_in must be a decimal", http.StatusBadRequest)
		return
	}

	out, err := s.engine.QuoteSell(r.Context(), amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"stable_out": out})
}

// State handles GET /api/v1/state.
func (s *Service) State(w http.ResponseWriter, r *http.Request) {
	st := s.engine.State()

	bal, err := s.vault.BalanceOf(r.Context())
	if err != nil {
		writeError(w, "vault unavailable", http.StatusBadGateway)
		return
	}
	price, err := s.engine.MarginalPrice(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StateResponse{
		IssuedSupply: st.IssuedSupply,
		BuyPrincipal: st.BuyPrincipal,
		LPPrincipal:  st.LPPrincipal,
		Price:        price,
		VaultBalance: bal,
	})
}

// GetPosition handles GET /api/v1/positions/{positionID}.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.engine.Position(chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ListOperations handles GET /api/v1/operations?owner=&limit=.
func (s *Service) ListOperations(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, "operation ledger not configured", http.StatusNotFound)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	var recs interface{}
	var err error
	if owner := r.URL.Query().Get("owner"); owner != "" {
		recs, err = s.store.ListOperationsByOwner(r.Context(), owner, limit)
	} else {
		recs, err = s.store.ListOperations(r.Context(), limit)
	}
	if err != nil {
		writeError(w, "failed to list operations", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// --- Helpers ---

func (s *Service) broadcast(opType, price, stableOut, assetOut, scale string) {
	if s.wsHub == nil {
		return
	}
	st := s.engine.State()
	s.wsHub.Broadcast(WSMessage{
		Type:         opType,
		Price:        price,
		IssuedSupply: st.IssuedSupply.String(),
		StableOut:    stableOut,
		AssetOut:     assetOut,
		Scale:        scale,
	})
}

// writeEngineError maps typed engine errors to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrImbalancedDeposit):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrUnknownPosition):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrInsufficientOutput),
		errors.Is(err, engine.ErrCapExceeded),
		errors.Is(err, exposure.ErrPositionTooLarge),
		errors.Is(err, exposure.ErrProviderConcentration):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrVaultShortfall):
		writeError(w, err.Error(), http.StatusBadGateway)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
