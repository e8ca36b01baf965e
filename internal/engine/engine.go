// Package engine is the HTTP and WebSocket surface of the server. It wires
// the entity repositories, the workspace store, and the change broker into
// a gorilla/mux router.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/invigo-mfg/invigo-server/internal/broker"
	"github.com/invigo-mfg/invigo-server/internal/repository"
	"github.com/invigo-mfg/invigo-server/internal/storage"
	"github.com/invigo-mfg/invigo-server/internal/workspace"
	"github.com/invigo-mfg/invigo-server/pkg/config"
	"github.com/invigo-mfg/invigo-server/pkg/health"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// Engine bundles everything the handlers need.
type Engine struct {
	cfg       *config.Config
	logger    *logger.Logger
	registry  *repository.Registry
	workspace *workspace.Store
	hub       *broker.Hub
	layout    *storage.Layout
	locks     *storage.LockTable
	health    *health.Checker
	startedAt time.Time

	server *http.Server
}

// New creates the engine. The caller owns the lifecycle of the registry,
// store, and hub; the engine only serves them.
func New(cfg *config.Config, log *logger.Logger, registry *repository.Registry,
	ws *workspace.Store, hub *broker.Hub, checker *health.Checker) *Engine {
	return &Engine{
		cfg:       cfg,
		logger:    log,
		registry:  registry,
		workspace: ws,
		hub:       hub,
		layout:    storage.NewLayout(cfg),
		locks:     storage.NewLockTable(),
		health:    checker,
		startedAt: time.Now(),
	}
}

// Start begins serving on the configured port. It blocks until the listener
// fails or Stop is called.
func (e *Engine) Start() error {
	server := NewServer(e)
	e.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", e.cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  e.cfg.PostgresCommandTimeout,
		WriteTimeout: 0, // software downloads stream for minutes
	}

	e.logger.Infof("HTTP server listening on :%d", e.cfg.Port)
	if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests within the command timeout.
func (e *Engine) Stop() error {
	if e.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PostgresCommandTimeout)
	defer cancel()
	return e.server.Shutdown(ctx)
}
