package ledger

import (
	"net/http"
	"strconv"

	"bullion-ledger/internal/httputil"
	"bullion-ledger/internal/types"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Wallet(w http.ResponseWriter, r *http.Request, userID string) {
	wallet, err := h.svc.GetWallet(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wallet)
}

func (h *Handler) Holdings(w http.ResponseWriter, r *http.Request, userID string) {
	holdings, err := h.svc.GetHoldings(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, holdings)
}

func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.ListProducts(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, products)
}

func (h *Handler) Orders(w http.ResponseWriter, r *http.Request, userID string) {
	orders, err := h.svc.ListOrders(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orders)
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request, userID string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}
	txs, err := h.svc.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, txs)
}

type moneyRequest struct {
	Amount string `json:"amount"`
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request, userID string) {
	amount, ok := readAmount(w, r)
	if !ok {
		return
	}
	wallet, err := h.svc.Deposit(r.Context(), userID, amount, idempotencyKey(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wallet)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request, userID string) {
	amount, ok := readAmount(w, r)
	if !ok {
		return
	}
	wallet, err := h.svc.Withdraw(r.Context(), userID, amount, idempotencyKey(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wallet)
}

type buyAssetRequest struct {
	ProductID string `json:"product_id"`
	Grams     string `json:"grams"`
}

func (h *Handler) BuyAsset(w http.ResponseWriter, r *http.Request, userID string) {
	var req buyAssetRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.ProductID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "product_id is required"})
		return
	}
	grams, err := decimal.NewFromString(req.Grams)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid grams"})
		return
	}
	order, err := h.svc.BuyAsset(r.Context(), userID, req.ProductID, grams, idempotencyKey(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, order)
}

type sellAssetRequest struct {
	HoldingID string `json:"holding_id"`
}

func (h *Handler) SellAsset(w http.ResponseWriter, r *http.Request, userID string) {
	var req sellAssetRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.HoldingID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "holding_id is required"})
		return
	}
	order, err := h.svc.SellAsset(r.Context(), userID, req.HoldingID, idempotencyKey(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, order)
}

type tradeRequest struct {
	Commodity string `json:"commodity"`
	Amount    string `json:"amount"`
}

func (h *Handler) BuyCommodity(w http.ResponseWriter, r *http.Request, userID string) {
	commodity, amount, ok := readTrade(w, r)
	if !ok {
		return
	}
	tx, err := h.svc.BuyCommodity(r.Context(), userID, commodity, amount, idempotencyKey(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tx)
}

func (h *Handler) SellCommodity(w http.ResponseWriter, r *http.Request, userID string) {
	commodity, amount, ok := readTrade(w, r)
	if !ok {
		return
	}
	tx, err := h.svc.SellCommodity(r.Context(), userID, commodity, amount, idempotencyKey(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tx)
}

func readAmount(w http.ResponseWriter, r *http.Request) (decimal.Decimal, bool) {
	var req moneyRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return decimal.Decimal{}, false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid amount"})
		return decimal.Decimal{}, false
	}
	return amount, true
}

func readTrade(w http.ResponseWriter, r *http.Request) (types.Commodity, decimal.Decimal, bool) {
	var req tradeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return "", decimal.Decimal{}, false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid amount"})
		return "", decimal.Decimal{}, false
	}
	return types.Commodity(req.Commodity), amount, true
}

func idempotencyKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}
