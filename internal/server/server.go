package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"rtbridge/internal/channel"
	"rtbridge/internal/config"
	"rtbridge/internal/database"
	"rtbridge/internal/plugin"
	"rtbridge/internal/rules"
	"rtbridge/internal/ws"
)

// Server represents the main server
type Server struct {
	cfg      *config.Config
	db       *database.Database
	channels *channel.Registry
	plugin   *plugin.DatabasePlugin
	handler  *ws.Handler
	wsServer *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// New creates a new Server
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	var opts []database.Option
	opts = append(opts, database.WithLogger(logger))

	if cfg.HasRules() {
		engine, err := rules.New(cfg.Rules, cfg.RulesCacheSize, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rules: %w", err)
		}
		engine.SetTimeout(cfg.GetRulesTimeoutDuration())
		opts = append(opts, database.WithRules(engine))
		logger.Info().
			Int("rules", engine.Len()).
			Dur("timeout", cfg.GetRulesTimeoutDuration()).
			Msg("read rules enabled")
	} else {
		logger.Info().Msg("read rules disabled, all reads allowed")
	}

	db := database.New(opts...)

	seed, err := cfg.LoadSeed()
	if err != nil {
		db.Close()
		return nil, err
	}
	if seed != nil {
		if err := db.Set("/", seed); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load seed: %w", err)
		}
		logger.Info().
			Str("file", cfg.SeedFile).
			Int("keys", len(seed)).
			Msg("seed loaded")
	}

	channels := channel.NewRegistry(logger)

	return &Server{
		cfg:      cfg,
		db:       db,
		channels: channels,
		plugin:   plugin.NewDatabasePlugin(db, channels, logger),
		logger:   logger,
	}, nil
}

// Start starts the server
func (s *Server) Start() error {
	s.handler = ws.NewHandler(s.plugin, s.channels, s.cfg, s.logger)
	wsAddr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.WSPort)

	listener, err := net.Listen("tcp", wsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", wsAddr, err)
	}
	s.listener = listener

	s.wsServer = &http.Server{
		Handler:     s.handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("addr", listener.Addr().String()).
			Msg("starting WebSocket server")
		if err := s.wsServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("WebSocket server error")
		}
	}()

	s.logger.Info().
		Str("ws", fmt.Sprintf("ws://%s/", listener.Addr().String())).
		Strs("methods", s.plugin.Methods()).
		Msg("endpoint available")

	return nil
}

// Addr returns the address the server listens on, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Database returns the database served by the server
func (s *Server) Database() *database.Database {
	return s.db
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	var wsErr error
	if s.wsServer != nil {
		wsErr = s.wsServer.Shutdown(ctx)
	}

	// Shutdown does not track hijacked connections
	if s.handler != nil {
		s.handler.CloseAll()
	}

	s.db.Close()

	if wsErr != nil {
		return fmt.Errorf("WebSocket server shutdown error: %w", wsErr)
	}

	s.logger.Info().
		Int("channels", s.channels.Len()).
		Msg("server stopped")
	return nil
}
