package httpserver

import (
	"net/http"

	"bullion-ledger/internal/auth"
	"bullion-ledger/internal/health"
	"bullion-ledger/internal/httputil"
	"bullion-ledger/internal/ledger"
	"bullion-ledger/internal/pricefeed"

	"github.com/go-chi/chi/v5"
)

type RouterDeps struct {
	AuthHandler   *auth.Handler
	LedgerHandler *ledger.Handler
	PriceHandler  *pricefeed.Handler
	HealthHandler *health.Handler
	AuthService   *auth.Service
	InternalToken string
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", d.HealthHandler.Ready)
	r.Get("/health/live", d.HealthHandler.Live)
	r.Get("/health/ready", d.HealthHandler.Ready)
	r.Get("/health/full", d.HealthHandler.Full)
	r.Get("/metrics", d.HealthHandler.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", d.AuthHandler.Register)
			r.Post("/login", d.AuthHandler.Login)
		})

		r.Get("/prices", d.PriceHandler.Prices)
		r.Get("/prices/ws", d.PriceHandler.WS.ServeHTTP)
		r.Get("/products", d.LedgerHandler.Products)

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))

			r.Get("/wallet", withUser(d.LedgerHandler.Wallet))
			r.Get("/holdings", withUser(d.LedgerHandler.Holdings))
			r.Get("/orders", withUser(d.LedgerHandler.Orders))
			r.Get("/transactions", withUser(d.LedgerHandler.Transactions))

			r.Group(func(r chi.Router) {
				r.Use(RequireIdempotencyKey)
				r.Post("/wallet/deposit", withUser(d.LedgerHandler.Deposit))
				r.Post("/wallet/withdraw", withUser(d.LedgerHandler.Withdraw))
				r.Post("/trade/physical/buy", withUser(d.LedgerHandler.BuyAsset))
				r.Post("/trade/physical/sell", withUser(d.LedgerHandler.SellAsset))
				r.Post("/trade/online/buy", withUser(d.LedgerHandler.BuyCommodity))
				r.Post("/trade/online/sell", withUser(d.LedgerHandler.SellCommodity))
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Post("/internal/prices", d.PriceHandler.SetPrice)
		})
	})

	return r
}

func withUser(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		fn(w, r, userID)
	}
}
