// Package api serves read-only portfolio projections and manual
// transaction entry over HTTP.
package api

import (
	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/positions", handler.GetPositions).Methods("GET")
	api.HandleFunc("/performance", handler.GetPerformance).Methods("GET")
	api.HandleFunc("/series", handler.GetPortfolioSeries).Methods("GET")
	api.HandleFunc("/summary", handler.GetSummary).Methods("GET")
	api.HandleFunc("/milestones", handler.GetMilestones).Methods("GET")
	api.HandleFunc("/transactions", handler.AddTransaction).Methods("POST")

	api.HandleFunc("/tickers", handler.GetTickers).Methods("GET")
	api.HandleFunc("/tickers/{ticker}/lots", handler.GetLots).Methods("GET")
	api.HandleFunc("/tickers/{ticker}/closed-lots", handler.GetClosedLots).Methods("GET")
	api.HandleFunc("/tickers/{ticker}/transactions", handler.GetTransactions).Methods("GET")
	api.HandleFunc("/tickers/{ticker}/series", handler.GetTickerSeries).Methods("GET")

	return r
}
