package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"pigeon/internal/api"
	"pigeon/internal/auth"
	"pigeon/internal/chat"
	"pigeon/internal/filestore"
	"pigeon/internal/storage"
	"pigeon/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(authService *auth.AuthService, engine *chat.Engine, hub *ws.Hub, files filestore.FileStore, store *storage.BboltStorage, addr, baseURL string) *APIServer {
	wsServer := ws.NewServer(authService, hub)
	handlers := api.New(authService, engine, files, store, baseURL)

	mux := http.NewServeMux()

	// Auth endpoints (collaborator surface)
	mux.HandleFunc("POST /api/login", handlers.LoginHandler)
	mux.HandleFunc("POST /api/logoff", handlers.LogoffHandler)

	// Message endpoints
	mux.HandleFunc("GET /api/messages/users", handlers.RequireAuth(handlers.UsersHandler))
	mux.HandleFunc("GET /api/messages/{id}", handlers.RequireAuth(handlers.MessagesHandler))
	mux.HandleFunc("POST /api/messages/send/{id}", handlers.RequireAuth(handlers.SendMessageHandler))
	mux.HandleFunc("PUT /api/messages/{id}", handlers.RequireAuth(handlers.EditMessageHandler))
	mux.HandleFunc("DELETE /api/messages/{id}", handlers.RequireAuth(handlers.DeleteMessageHandler))
	// "POST /api/messages/{id}/react" conflicts with "POST /api/messages/send/{id}"
	// under ServeMux precedence rules; "{id}/{action}" is strictly less specific
	// than "send/{id}", so the pair is allowed. Non-"react" actions stay 404.
	reactHandler := handlers.RequireAuth(handlers.ReactHandler)
	mux.HandleFunc("POST /api/messages/{id}/{action}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("action") != "react" {
			http.NotFound(w, r)
			return
		}
		reactHandler(w, r)
	})

	// Image upload/serving
	mux.HandleFunc("POST /api/upload/image", handlers.RequireAuth(handlers.UploadImageHandler))
	mux.HandleFunc("GET /api/images/{id}", handlers.GetImageHandler)

	// Realtime channel
	mux.HandleFunc("GET /api/chat", wsServer.HandleConnections)

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
