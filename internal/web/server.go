// Package web serves the read-only monitoring dashboard.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/halverin/opt-trader/internal/config"
	"github.com/halverin/opt-trader/internal/logger"
	"github.com/halverin/opt-trader/internal/storage"
)

type Server struct {
	httpServer *http.Server
	repo       *storage.Repository
	config     *config.Config
	logger     *logger.Logger
	halted     func() (bool, string)
}

// NewServer builds the dashboard server. halted reports the current session
// halt flag, nil means never halted.
func NewServer(repo *storage.Repository, cfg *config.Config, log *logger.Logger, halted func() (bool, string)) *Server {
	if halted == nil {
		halted = func() (bool, string) { return false, "" }
	}
	s := &Server{
		repo:   repo,
		config: cfg,
		logger: log,
		halted: halted,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleDashboard)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

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
