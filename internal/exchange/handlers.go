// Package exchange — HTTP handlers for the pool engine API.
package exchange

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ammx/swap-engine/internal/amm"
	"github.com/ammx/swap-engine/internal/metrics"
	"github.com/ammx/swap-engine/internal/model"
)

// --- Request/response types ---

type CreatePoolRequest struct {
	Provider string `json:"provider"`
	TokenA   string `json:"token_a"`
	TokenB   string `json:"token_b"`
	AmountA  uint64 `json:"amount_a"`
	AmountB  uint64 `json:"amount_b"`
}

type CreatePoolResponse struct {
	Pool   *model.Pool `json:"pool"`
	Shares uint64      `json:"shares"`
}

type AddLiquidityRequest struct {
	Provider       string `json:"provider"`
	TokenA         string `json:"token_a"`
	TokenB         string `json:"token_b"`
	AmountADesired uint64 `json:"amount_a_desired"`
	AmountBDesired uint64 `json:"amount_b_desired"`
	AmountAMin     uint64 `json:"amount_a_min"`
	AmountBMin     uint64 `json:"amount_b_min"`
}

type RemoveLiquidityRequest struct {
	Provider   string `json:"provider"`
	TokenA     string `json:"token_a"`
	TokenB     string `json:"token_b"`
	Liquidity  uint64 `json:"liquidity"`
	AmountAMin uint64 `json:"amount_a_min"`
	AmountBMin uint64 `json:"amount_b_min"`
}

type SwapExactInRequest struct {
	Provider     string `json:"provider"`
	TokenIn      string `json:"token_in"`
	TokenOut     string `json:"token_out"`
	AmountIn     uint64 `json:"amount_in"`
	AmountOutMin uint64 `json:"amount_out_min"`
}

type SwapExactOutRequest struct {
	Provider    string `json:"provider"`
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`
	AmountOut   uint64 `json:"amount_out"`
	AmountInMax uint64 `json:"amount_in_max"`
}

type SwapResponse struct {
	AmountIn  uint64 `json:"amount_in"`
	AmountOut uint64 `json:"amount_out"`
	FillPrice string `json:"fill_price"`
}

type CurrencyRequest struct {
	Token    string `json:"token"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint32 `json:"decimals"`
	IsActive bool   `json:"is_active"`
}

type PriceFeedRequest struct {
	Token            string `json:"token"`
	Price            string `json:"price"` // decimal string, 8 dp
	LastUpdateHeight uint64 `json:"last_update_height"`
	IsValid          bool   `json:"is_valid"`
}

// --- Pool handlers ---

// HandleCreatePool handles POST /api/v1/pools.
func (s *Service) HandleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Provider == "" {
		writeError(w, "provider is required", http.StatusBadRequest)
		return
	}

	pool, shares, err := s.CreatePool(r.Context(), req.Provider, req.TokenA, req.TokenB, req.AmountA, req.AmountB)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatePoolResponse{Pool: pool, Shares: shares})
}

// HandleListPools handles GET /api/v1/pools.
func (s *Service) HandleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.ListPools(r.Context())
	if err != nil {
		writeError(w, "failed to list pools", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": pools})
}

// HandleGetPool handles GET /api/v1/pools/{tokenA}/{tokenB}.
func (s *Service) HandleGetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.GetPoolInfo(r.Context(), chi.URLParam(r, "tokenA"), chi.URLParam(r, "tokenB"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// --- Liquidity handlers ---

// HandleAddLiquidity handles POST /api/v1/liquidity/add.
func (s *Service) HandleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req AddLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Provider == "" {
		writeError(w, "provider is required", http.StatusBadRequest)
		return
	}

	shares, err := s.AddLiquidity(r.Context(), req.Provider, req.TokenA, req.TokenB,
		req.AmountADesired, req.AmountBDesired, req.AmountAMin, req.AmountBMin)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"shares": shares})
}

// HandleRemoveLiquidity handles POST /api/v1/liquidity/remove.
func (s *Service) HandleRemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	var req RemoveLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Provider == "" {
		writeError(w, "provider is required", http.StatusBadRequest)
		return
	}

	amountA, amountB, err := s.RemoveLiquidity(r.Context(), req.Provider, req.TokenA, req.TokenB,
		req.Liquidity, req.AmountAMin, req.AmountBMin)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"amount_a": amountA, "amount_b": amountB})
}

// HandleGetPositions handles GET /api/v1/positions/{provider} and
// GET /api/v1/positions/{provider}/{tokenA}/{tokenB}.
func (s *Service) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	tokenA := chi.URLParam(r, "tokenA")
	tokenB := chi.URLParam(r, "tokenB")

	if tokenA != "" && tokenB != "" {
		pos, err := s.GetUserLiquidity(r.Context(), provider, tokenA, tokenB)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if pos == nil {
			writeError(w, "no position for pair", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, pos)
		return
	}

	positions, err := s.ListUserLiquidity(r.Context(), provider)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.LiquidityPosition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": provider, "positions": positions})
}

// --- Swap handlers ---

// HandleSwapExactIn handles POST /api/v1/swap/exact-in.
func (s *Service) HandleSwapExactIn(w http.ResponseWriter, r *http.Request) {
	var req SwapExactInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Provider == "" {
		writeError(w, "provider is required", http.StatusBadRequest)
		return
	}

	amountOut, err := s.SwapExactIn(r.Context(), req.Provider, req.AmountIn, req.AmountOutMin, req.TokenIn, req.TokenOut)
	if err != nil {
		metrics.SwapRejections.WithLabelValues(rejectionReason(err)).Inc()
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SwapResponse{
		AmountIn:  req.AmountIn,
		AmountOut: amountOut,
		FillPrice: model.PriceDecimal(amm.FillPrice(amountOut, req.AmountIn)).String(),
	})
}

// HandleSwapExactOut handles POST /api/v1/swap/exact-out.
func (s *Service) HandleSwapExactOut(w http.ResponseWriter, r *http.Request) {
	var req SwapExactOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Provider == "" {
		writeError(w, "provider is required", http.StatusBadRequest)
		return
	}

	amountIn, err := s.SwapExactOut(r.Context(), req.Provider, req.AmountOut, req.AmountInMax, req.TokenIn, req.TokenOut)
	if err != nil {
		metrics.SwapRejections.WithLabelValues(rejectionReason(err)).Inc()
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SwapResponse{
		AmountIn:  amountIn,
		AmountOut: req.AmountOut,
		FillPrice: model.PriceDecimal(amm.FillPrice(req.AmountOut, amountIn)).String(),
	})
}

// HandleQuoteOut handles GET /api/v1/quote/out?amount_in=&token_in=&token_out=.
func (s *Service) HandleQuoteOut(w http.ResponseWriter, r *http.Request) {
	amountIn, err := queryAmount(r, "amount_in")
	if err != nil {
		writeError(w, "invalid amount_in", http.StatusBadRequest)
		return
	}
	tokenIn := r.URL.Query().Get("token_in")
	tokenOut := r.URL.Query().Get("token_out")

	amountOut, impactBps, err := s.QuoteOut(r.Context(), amountIn, tokenIn, tokenOut)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{
		"amount_out":       amountOut,
		"price_impact_bps": impactBps,
	})
}

// HandleQuoteIn handles GET /api/v1/quote/in?amount_out=&token_in=&token_out=.
func (s *Service) HandleQuoteIn(w http.ResponseWriter, r *http.Request) {
	amountOut, err := queryAmount(r, "amount_out")
	if err != nil {
		writeError(w, "invalid amount_out", http.StatusBadRequest)
		return
	}
	tokenIn := r.URL.Query().Get("token_in")
	tokenOut := r.URL.Query().Get("token_out")

	amountIn, err := s.QuoteIn(r.Context(), amountOut, tokenIn, tokenOut)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"amount_in": amountIn})
}

// --- Analytics handlers ---

// HandleGetStats handles GET /api/v1/stats/{tokenA}/{tokenB}.
func (s *Service) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.GetTradingStats(r.Context(), chi.URLParam(r, "tokenA"), chi.URLParam(r, "tokenB"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if stats == nil {
		writeError(w, "no trading stats for pair", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token_a":            stats.TokenA,
		"token_b":            stats.TokenB,
		"volume_24h":         stats.Volume24h,
		"trades_count":       stats.TradesCount,
		"last_price":         stats.LastPrice,
		"last_price_decimal": model.PriceDecimal(stats.LastPrice).String(),
	})
}

// HandleGetSwaps handles GET /api/v1/swaps/{tokenA}/{tokenB}.
func (s *Service) HandleGetSwaps(w http.ResponseWriter, r *http.Request) {
	swaps, err := s.GetSwapHistory(r.Context(), chi.URLParam(r, "tokenA"), chi.URLParam(r, "tokenB"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if swaps == nil {
		swaps = []model.SwapRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"swaps": swaps})
}

// HandleGetCurrency handles GET /api/v1/currencies/{token}.
func (s *Service) HandleGetCurrency(w http.ResponseWriter, r *http.Request) {
	c, err := s.GetCurrency(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, "failed to load currency", http.StatusInternalServerError)
		return
	}
	if c == nil {
		writeError(w, "currency not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleGetPriceFeed handles GET /api/v1/price-feeds/{token}.
func (s *Service) HandleGetPriceFeed(w http.ResponseWriter, r *http.Request) {
	f, err := s.GetPriceFeed(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, "failed to load price feed", http.StatusInternalServerError)
		return
	}
	if f == nil {
		writeError(w, "price feed not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":              f.Token,
		"price":              f.Price,
		"price_decimal":      model.PriceDecimal(f.Price).String(),
		"last_update_height": f.LastUpdateHeight,
		"is_valid":           f.IsValid,
	})
}

// --- Admin handlers ---

// HandleAddCurrency handles POST /api/v1/admin/currencies.
func (s *Service) HandleAddCurrency(w http.ResponseWriter, r *http.Request) {
	var req CurrencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.AddSupportedCurrency(r.Context(), s.authorized(r), &model.SupportedCurrency{
		Token:    req.Token,
		Name:     req.Name,
		Symbol:   req.Symbol,
		Decimals: req.Decimals,
		IsActive: req.IsActive,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleUpdatePriceFeed handles POST /api/v1/admin/price-feeds.
func (s *Service) HandleUpdatePriceFeed(w http.ResponseWriter, r *http.Request) {
	var req PriceFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	price, err := model.ParsePrice(req.Price)
	if err != nil {
		writeError(w, "invalid price", http.StatusBadRequest)
		return
	}

	err = s.UpdatePriceFeed(r.Context(), s.authorized(r), &model.PriceFeed{
		Token:            req.Token,
		Price:            price,
		LastUpdateHeight: req.LastUpdateHeight,
		IsValid:          req.IsValid,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) authorized(r *http.Request) bool {
	return s.isAdmin != nil && s.isAdmin(r)
}

// --- Helpers ---

func queryAmount(r *http.Request, key string) (uint64, error) {
	return strconv.ParseUint(r.URL.Query().Get(key), 10, 64)
}

// statusForError maps the engine's error kinds to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, amm.ErrZeroAmount),
		errors.Is(err, amm.ErrIdenticalTokens),
		errors.Is(err, amm.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, amm.ErrNotAuthorized):
		return http.StatusUnauthorized
	case errors.Is(err, amm.ErrPoolNotExists):
		return http.StatusNotFound
	case errors.Is(err, amm.ErrPoolExists),
		errors.Is(err, amm.ErrSlippageTooHigh),
		errors.Is(err, amm.ErrInsufficientLiquidity),
		errors.Is(err, amm.ErrInsufficientBalance):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, amm.ErrSlippageTooHigh):
		return "slippage"
	case errors.Is(err, amm.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, amm.ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, amm.ErrPoolNotExists):
		return "pool_not_exists"
	default:
		return "other"
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, msg, status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
