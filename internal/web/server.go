package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mirrorlabs/insider-mirror/internal/config"
	"github.com/mirrorlabs/insider-mirror/internal/executor"
	"github.com/mirrorlabs/insider-mirror/internal/logger"
	"github.com/mirrorlabs/insider-mirror/internal/market"
	"github.com/mirrorlabs/insider-mirror/internal/storage"
)

// Server exposes the structured reporting values as JSON for an external
// renderer. It only ever reads snapshot copies, never the live portfolio.
type Server struct {
	httpServer *http.Server
	executor   *executor.Executor
	repo       *storage.Repository
	market     market.Provider
	config     *config.Config
	logger     *logger.Logger
}

func NewServer(exec *executor.Executor, repo *storage.Repository, provider market.Provider, cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		executor: exec,
		repo:     repo,
		market:   provider,
		config:   cfg,
		logger:   log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/portfolio", s.handlePortfolio)
	mux.HandleFunc("/api/report", s.handleReport)
	mux.HandleFunc("/api/ledger", s.handleLedger)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("web server starting", "port", s.config.Web.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
