package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/trogers1052/portfolio-service/internal/kafka"
	"github.com/trogers1052/portfolio-service/internal/models"
	"github.com/trogers1052/portfolio-service/internal/portfolio"
)

const dateLayout = "2006-01-02"

// Pinger reports storage health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	engine *portfolio.Engine
	db     Pinger
	now    func() time.Time
	logger *slog.Logger
}

// NewHandler creates a new Handler. db may be nil.
func NewHandler(engine *portfolio.Engine, db Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine: engine,
		db:     db,
		now:    time.Now,
		logger: logger,
	}
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"failures": h.engine.Failures(),
	})
}

// GetPositions handles GET /positions
func (h *Handler) GetPositions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Positions(r.Context()))
}

// GetPerformance handles GET /performance?as_of=YYYY-MM-DD
func (h *Handler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseDate(r.URL.Query().Get("as_of"), time.Time{})
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid as_of: "+err.Error())
		return
	}

	rows, err := h.engine.Performance(r.Context(), asOf)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// GetTickers handles GET /tickers
func (h *Handler) GetTickers(w http.ResponseWriter, r *http.Request) {
	states := h.engine.States()
	tickers := make([]string, 0, len(states))
	for t := range states {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	respondJSON(w, http.StatusOK, tickers)
}

// closedLot is a closed lot with its derived figures
type closedLot struct {
	models.ClosedLot
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	HoldingDays int             `json:"holding_days"`
}

// tickerFailed responds 503 when the ticker's stored history failed to load
func (h *Handler) tickerFailed(w http.ResponseWriter, ticker string) bool {
	ticker = strings.ToUpper(ticker)
	reason, failed := h.engine.Failures()[ticker]
	if !failed {
		return false
	}
	h.respondEngineError(w, fmt.Errorf("%w: %s: %s", portfolio.ErrTickerUnavailable, ticker, reason))
	return true
}

// GetLots handles GET /tickers/{ticker}/lots
func (h *Handler) GetLots(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	if h.tickerFailed(w, ticker) {
		return
	}
	state, ok := h.engine.State(ticker)
	if !ok {
		respondError(w, http.StatusNotFound, "ticker not found")
		return
	}
	respondJSON(w, http.StatusOK, state.OpenLots)
}

// GetClosedLots handles GET /tickers/{ticker}/closed-lots
func (h *Handler) GetClosedLots(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	if h.tickerFailed(w, ticker) {
		return
	}
	state, ok := h.engine.State(ticker)
	if !ok {
		respondError(w, http.StatusNotFound, "ticker not found")
		return
	}

	out := make([]closedLot, 0, len(state.ClosedLots))
	for _, c := range state.ClosedLots {
		out = append(out, closedLot{
			ClosedLot:   c,
			RealizedPnL: c.RealizedPnL(),
			HoldingDays: int(c.HoldingPeriod() / (24 * time.Hour)),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// GetTransactions handles GET /tickers/{ticker}/transactions
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	if h.tickerFailed(w, ticker) {
		return
	}
	txs := h.engine.Transactions(ticker)
	if len(txs) == 0 {
		respondError(w, http.StatusNotFound, "ticker not found")
		return
	}
	respondJSON(w, http.StatusOK, txs)
}

// GetTickerSeries handles GET /tickers/{ticker}/series?from=&to=. from
// defaults to the first transaction date.
func (h *Handler) GetTickerSeries(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	if h.tickerFailed(w, ticker) {
		return
	}
	txs := h.engine.Transactions(ticker)
	if len(txs) == 0 {
		respondError(w, http.StatusNotFound, "ticker not found")
		return
	}

	from, to, err := h.parseRange(r, txs[0].Timestamp)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err := h.engine.Series(r.Context(), ticker, from, to)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, points)
}

// GetPortfolioSeries handles GET /series?from=&to=. from defaults to one
// year before to.
func (h *Handler) GetPortfolioSeries(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.parseRange(r, h.now().AddDate(-1, 0, 0))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err := h.engine.PortfolioSeries(r.Context(), from, to)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, points)
}

// GetSummary handles GET /summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Summary())
}

// GetMilestones handles GET /milestones
func (h *Handler) GetMilestones(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Milestones(r.Context()))
}

// AddTransaction handles POST /transactions. A missing id is generated.
func (h *Handler) AddTransaction(w http.ResponseWriter, r *http.Request) {
	var req models.TransactionEventData
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		req.ID = uuid.NewString()
	}

	tx, err := kafka.ConvertEvent(models.TransactionEvent{
		EventType: models.EventTransactionRecorded,
		Source:    "api",
		Data:      req,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.engine.Record(r.Context(), tx)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"transactions": res.Appended.Transactions,
		"backdated":    res.Appended.Backdated,
		"closed_lots":  res.Closed,
		"open_lots":    res.State.OpenLots,
	})
}

func (h *Handler) parseRange(r *http.Request, defaultFrom time.Time) (time.Time, time.Time, error) {
	q := r.URL.Query()
	to, err := parseDate(q.Get("to"), h.now())
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid to: " + err.Error())
	}
	from, err := parseDate(q.Get("from"), defaultFrom)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid from: " + err.Error())
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, errors.New("from is after to")
	}
	return from, to, nil
}

func parseDate(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.Parse(dateLayout, s)
}

func (h *Handler) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrDuplicateTransaction), models.IsInsufficientHoldings(err):
		respondError(w, http.StatusConflict, err.Error())
	case models.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, portfolio.ErrTickerUnavailable):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("request failed", slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
