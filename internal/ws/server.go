package ws

import (
	"log/slog"
	"net/http"

	"github.com/Bolatan/messaging/internal/hub"

	"github.com/gorilla/websocket"
)

type Server struct {
	hub      *hub.Hub
	logger   *slog.Logger
	upgrader *websocket.Upgrader
}

func NewServer(h *hub.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:    h,
		logger: logger,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("error upgrading to websocket", "error", err)
		return
	}

	connID := hub.NewConnID()
	conn := NewConnection(s.hub, ws, connID)
	if err := conn.Handle(r.Context()); err != nil {
		s.logger.Info("connection closed with error", "connId", connID, "error", err)
	}
}
