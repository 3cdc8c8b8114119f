package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/Bolatan/messaging/internal/api"
	"github.com/Bolatan/messaging/internal/hub"
	"github.com/Bolatan/messaging/internal/storage"
	"github.com/Bolatan/messaging/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(h *hub.Hub, storage *storage.BboltStorage, addr string) *APIServer {
	wsServer := ws.NewServer(h, nil)
	apiHandlers := api.New(storage)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", apiHandlers.HealthHandler)
	mux.HandleFunc("POST /api/users", apiHandlers.CreateUserHandler)
	mux.HandleFunc("GET /api/users", apiHandlers.UsersHandler)
	mux.HandleFunc("POST /api/chats", apiHandlers.CreateChatHandler)
	mux.HandleFunc("GET /api/chats/{userId}", apiHandlers.ChatsHandler)
	mux.HandleFunc("GET /api/messages/{chatId}", apiHandlers.MessagesHandler)
	mux.HandleFunc("POST /api/push/subscribe", apiHandlers.SubscribePushHandler)

	// WebSocket endpoint
	mux.HandleFunc("/api/chat", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
