package ws

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

type tokenVerifier interface {
	GetUserID(token string) (string, error)
}

type Server struct {
	auth     tokenVerifier
	hub      *Hub
	upgrader *websocket.Upgrader
}

func NewServer(auth tokenVerifier, hub *Hub) *Server {
	return &Server{
		auth: auth,
		hub:  hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

// HandleConnections upgrades the request and binds the connection to the
// authenticated user for its whole lifetime.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.GetUserID(getToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	wsc, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	conn := NewConn(s.hub, wsc, userID)
	if err := conn.Handle(r.Context()); err != nil {
		log.Printf("ws: connection for %s ended: %v", userID, err)
	}
}

// getToken pulls the session token from the header, cookie or query string.
// Browser websocket clients cannot set headers, hence the query fallback.
func getToken(r *http.Request) string {
	if token := r.Header.Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return r.URL.Query().Get("token")
}
