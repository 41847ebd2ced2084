package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/mirrorlabs/insider-mirror/internal/executor"
	"github.com/mirrorlabs/insider-mirror/internal/market"
	"github.com/mirrorlabs/insider-mirror/internal/report"
)

type portfolioResponse struct {
	executor.Summary
	TotalRealizedPnL float64 `json:"total_realized_pnl"`
	TodayRealizedPnL float64 `json:"today_realized_pnl"`
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	positions := s.executor.OpenPositions()
	symbols := make([]string, 0, len(positions))
	for _, pos := range positions {
		symbols = append(symbols, pos.Symbol)
	}
	quotes := market.Quotes(r.Context(), s.market, symbols, s.logger)

	resp := portfolioResponse{Summary: s.executor.Summarize(quotes)}

	var err error
	if resp.TotalRealizedPnL, err = s.repo.GetTotalRealizedPnL(); err != nil {
		s.logger.Error("total realized pnl", "error", err)
	}
	if resp.TodayRealizedPnL, err = s.repo.GetTodayRealizedPnL(); err != nil {
		s.logger.Error("today realized pnl", "error", err)
	}

	s.writeJSON(w, resp)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	days := s.config.Trading.ReportWindowDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid days parameter", http.StatusBadRequest)
			return
		}
		days = n
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)
	entries, err := s.repo.GetLedgerBetween(from, to)
	if err != nil {
		s.logger.Error("load ledger for report", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, report.Aggregate(entries, from, to))
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			http.Error(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.repo.GetRecentLedger(limit)
	if err != nil {
		s.logger.Error("load recent ledger", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, entries)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}
