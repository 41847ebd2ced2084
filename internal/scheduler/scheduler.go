package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mirrorlabs/insider-mirror/internal/config"
	"github.com/mirrorlabs/insider-mirror/internal/executor"
	"github.com/mirrorlabs/insider-mirror/internal/feed"
	"github.com/mirrorlabs/insider-mirror/internal/filter"
	"github.com/mirrorlabs/insider-mirror/internal/logger"
	"github.com/mirrorlabs/insider-mirror/internal/market"
	"github.com/mirrorlabs/insider-mirror/internal/model"
	"github.com/mirrorlabs/insider-mirror/internal/report"
	"github.com/mirrorlabs/insider-mirror/internal/risk"
	"github.com/mirrorlabs/insider-mirror/internal/storage"
	"github.com/mirrorlabs/insider-mirror/internal/telegram"
)

// State names the pipeline stage a cycle is in. Transitions are synchronous
// within one cycle; HALTED is entered only through the drawdown breaker and
// cleared at the next day boundary.
type State string

const (
	StateIdle         State = "IDLE"
	StateFetching     State = "FETCHING"
	StateFiltering    State = "FILTERING"
	StateRiskChecking State = "RISK_CHECKING"
	StateExecuting    State = "EXECUTING"
	StateReporting    State = "REPORTING"
	StateHalted       State = "HALTED"
)

// Scheduler drives the pipeline one cycle at a time. It is the only
// component holding wall-clock state.
type Scheduler struct {
	feed     *feed.Client
	criteria filter.Criteria
	engine   *risk.Engine
	executor *executor.Executor
	market   market.Provider
	repo     *storage.Repository
	notifier *telegram.Notifier
	config   *config.Config
	logger   *logger.Logger

	retry feed.Policy
	state State
}

func NewScheduler(
	feedClient *feed.Client,
	engine *risk.Engine,
	exec *executor.Executor,
	provider market.Provider,
	repo *storage.Repository,
	notifier *telegram.Notifier,
	cfg *config.Config,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		feed:     feedClient,
		criteria: filter.CriteriaFromConfig(cfg.Filter),
		engine:   engine,
		executor: exec,
		market:   provider,
		repo:     repo,
		notifier: notifier,
		config:   cfg,
		logger:   log,
		retry: feed.Policy{
			MaxAttempts: cfg.Feed.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Feed.BackoffBaseMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Feed.BackoffMaxMs) * time.Millisecond,
		},
		state: StateIdle,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	interval := s.config.TradingInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", interval.String())

	// Run immediately on start
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in scheduler cycle", "panic", fmt.Sprint(r))
			s.notifier.NotifyError("scheduler panic", fmt.Errorf("%v", r))
		}
	}()

	cycleLog := &storage.CycleLog{}
	defer func() {
		if err := s.repo.SaveCycleLog(cycleLog); err != nil {
			s.logger.Error("save cycle log", "error", err)
		}
	}()

	// Day-boundary check runs first regardless of state: counters reset,
	// start-of-day value re-anchors, and a drawdown halt clears.
	s.checkDayBoundary(ctx)

	if s.executor.Halted() {
		s.state = StateHalted
		s.logger.Info("trading halted by drawdown breaker, waiting for day boundary")
		return
	}

	s.logger.Info("starting cycle")

	s.state = StateFetching
	var trades []model.Trade
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		trades, fetchErr = s.feed.FetchLatest(ctx)
		if fetchErr != nil {
			s.logger.Warn("feed fetch failed", "error", fetchErr)
		}
		return fetchErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("feed fetch exhausted retries, abandoning cycle", "error", err)
		cycleLog.Error = err.Error()
		s.state = StateIdle
		return
	}
	cycleLog.Fetched = len(trades)
	s.logger.Info("trades fetched", "count", len(trades))

	s.state = StateFiltering
	significant := filter.Apply(trades, s.criteria)
	cycleLog.Significant = len(significant)
	s.logger.Info("significant trades", "count", len(significant))

	quotes := s.fetchQuotes(ctx, significant)

	s.executeBatch(ctx, significant, quotes, cycleLog)

	// Snapshot at the end of the executing phase is the restart recovery
	// point.
	if err := s.executor.PersistSnapshot(quotes); err != nil {
		s.logger.Error("persist snapshot", "error", err)
	}

	// A halt latched during the batch ends the cycle in HALTED; the state
	// holds until the next day boundary.
	if s.executor.Halted() {
		s.state = StateHalted
		return
	}

	s.state = StateReporting
	s.emitReport()

	s.state = StateIdle
	s.logger.Info("cycle completed",
		"fetched", cycleLog.Fetched, "significant", cycleLog.Significant,
		"executed", cycleLog.Executed, "denied", cycleLog.Denied, "skipped", cycleLog.Skipped)
}

func (s *Scheduler) checkDayBoundary(ctx context.Context) {
	today := time.Now().UTC().Format("2006-01-02")
	if s.executor.TradingDay() == today {
		return
	}
	quotes := s.holdingQuotes(ctx)
	s.executor.ResetDay(today, quotes)
	s.state = StateIdle
}

func (s *Scheduler) executeBatch(ctx context.Context, significant []model.SignificantTrade, quotes map[string]float64, cycleLog *storage.CycleLog) {
	s.state = StateRiskChecking

	for _, st := range significant {
		// Shutdown is honored between trades, never mid-trade.
		if ctx.Err() != nil {
			s.logger.Info("shutdown during batch, remaining trades dropped")
			return
		}

		view := s.executor.ViewFor(st.Symbol, st.Price, quotes)
		approved, denial := s.engine.Admit(st.Trade, view)
		if denial != nil {
			cycleLog.Denied++
			s.logger.Info("trade denied",
				"symbol", st.Symbol, "quantity", st.Shares, "reason", string(denial.Reason))
			s.notifier.NotifyDenial(st.Symbol, st.Shares, string(denial.Reason))

			if denial.Reason == risk.DenialDrawdownHalt && !view.Halted {
				s.executor.MarkHalted()
				drawdown := (view.Value - view.StartOfDayValue) / view.StartOfDayValue
				s.logger.Warn("daily drawdown limit breached, halting trading",
					"drawdown", drawdown, "start_of_day", view.StartOfDayValue, "value", view.Value)
				s.notifier.NotifyHalt(drawdown)
				s.state = StateHalted
				return
			}
			continue
		}

		s.state = StateExecuting
		if approved != st.Shares {
			s.logger.Info("trade reduced by risk limits",
				"symbol", st.Symbol, "proposed", st.Shares, "approved", approved)
		}

		if _, err := s.executor.Execute(st.Trade, approved); err != nil {
			var persistErr *executor.PersistenceError
			switch {
			case errors.As(err, &persistErr):
				// Executing further trades on top of an unpersisted one
				// risks double-application after restart.
				s.logger.Error("ledger persistence failed, aborting batch", "error", err)
				cycleLog.Error = err.Error()
				return
			case errors.Is(err, executor.ErrInsufficientCash),
				errors.Is(err, executor.ErrNoPosition):
				cycleLog.Skipped++
				s.logger.Info("trade skipped", "symbol", st.Symbol, "reason", err.Error())
			default:
				cycleLog.Skipped++
				s.logger.Error("trade execution failed", "symbol", st.Symbol, "error", err)
			}
			continue
		}
		cycleLog.Executed++
	}

	s.state = StateExecuting
	s.sweepStopLosses(ctx, cycleLog)
}

func (s *Scheduler) sweepStopLosses(ctx context.Context, cycleLog *storage.CycleLog) {
	if s.market == nil {
		// No live price source: the stop-loss check cannot run. Flag it
		// every cycle rather than degrading silently.
		s.logger.Warn("no market data provider configured, stop-loss check skipped")
		return
	}
	quotes := s.holdingQuotes(ctx)
	if n := s.executor.SweepStopLosses(s.engine, quotes); n > 0 {
		cycleLog.Executed += n
		s.logger.Info("stop-loss liquidations", "count", n)
	}
}

// fetchQuotes prices the union of current holdings and the batch symbols.
func (s *Scheduler) fetchQuotes(ctx context.Context, significant []model.SignificantTrade) map[string]float64 {
	symbols := make([]string, 0, len(significant))
	seen := make(map[string]struct{})
	for _, pos := range s.executor.OpenPositions() {
		if _, ok := seen[pos.Symbol]; !ok {
			seen[pos.Symbol] = struct{}{}
			symbols = append(symbols, pos.Symbol)
		}
	}
	for _, st := range significant {
		if _, ok := seen[st.Symbol]; !ok {
			seen[st.Symbol] = struct{}{}
			symbols = append(symbols, st.Symbol)
		}
	}
	return market.Quotes(ctx, s.market, symbols, s.logger)
}

func (s *Scheduler) holdingQuotes(ctx context.Context) map[string]float64 {
	positions := s.executor.OpenPositions()
	symbols := make([]string, 0, len(positions))
	for _, pos := range positions {
		symbols = append(symbols, pos.Symbol)
	}
	return market.Quotes(ctx, s.market, symbols, s.logger)
}

func (s *Scheduler) emitReport() {
	now := time.Now().UTC()
	from := now.Add(-s.config.ReportWindow())
	entries, err := s.repo.GetLedgerBetween(from, now)
	if err != nil {
		s.logger.Error("load ledger for report", "error", err)
		return
	}

	window := report.Aggregate(entries, from, now)
	attrs := []any{
		"trades", window.TotalTrades,
		"closing", window.ClosingTrades,
		"win_rate", window.WinRate,
		"realized_pnl", window.RealizedPnL,
		"max_drawdown", window.MaxDrawdown,
		"profit_factor", window.ProfitFactor,
	}
	if window.Sharpe != nil {
		attrs = append(attrs, "sharpe", *window.Sharpe)
	}
	s.logger.Info("report window", attrs...)
}
