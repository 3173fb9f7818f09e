package pricefeed

import (
	"net/http"

	"bullion-ledger/internal/httputil"
	"bullion-ledger/internal/types"

	"github.com/shopspring/decimal"
)

type Handler struct {
	store *Store
	WS    *PriceWS
}

func NewHandler(store *Store, ws *PriceWS) *Handler {
	return &Handler{store: store, WS: ws}
}

func (h *Handler) Prices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.store.Prices(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, prices)
}

type setPriceRequest struct {
	Commodity  string `json:"commodity"`
	Price      string `json:"price"`
	FeePercent string `json:"fee_percent"`
}

func (h *Handler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid price"})
		return
	}
	fee := decimal.Zero
	if req.FeePercent != "" {
		fee, err = decimal.NewFromString(req.FeePercent)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid fee percent"})
			return
		}
	}
	updated, err := h.store.SetPrice(r.Context(), types.Commodity(req.Commodity), price, fee)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}
