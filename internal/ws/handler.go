package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rtbridge/internal/channel"
	"rtbridge/internal/config"
	"rtbridge/internal/plugin"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Handler handles WebSocket connections
type Handler struct {
	plugin   *plugin.DatabasePlugin
	channels *channel.Registry
	cfg      *config.Config
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewHandler creates a new WebSocket handler
func NewHandler(dbPlugin *plugin.DatabasePlugin, channels *channel.Registry, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		plugin:   dbPlugin,
		channels: channels,
		cfg:      cfg,
		logger:   logger.With().Str("component", "ws").Logger(),
		clients:  make(map[*Client]struct{}),
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	h.logger.Info().
		Str("remoteAddr", r.RemoteAddr).
		Msg("new WebSocket connection")

	client := NewClient(conn, h.plugin, h.channels, h.cfg, h.logger.With().Str("remoteAddr", r.RemoteAddr).Logger())

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
	}()

	client.Run(r.Context())
}

// CloseAll closes every connected client
func (h *Handler) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	if len(clients) > 0 {
		h.logger.Info().Int("clients", len(clients)).Msg("closed client connections")
	}
}

// ClientCount returns the number of connected clients
func (h *Handler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
