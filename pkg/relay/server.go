package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"collabsync/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server: WebSocket-фронт hub'а: GET /rooms/{room}?client=<id>, GET /healthz
type Server struct {
	hub    *Hub
	router *mux.Router
	logger *slog.Logger
}

func NewServer(hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{hub: hub, router: mux.NewRouter(), logger: logger}
	s.router.HandleFunc("/rooms/{room}", s.handleRoom).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe обслуживает addr до отмены ctx. Если заданы cert и key, включается TLS.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", addr, "tls", certFile != "")
		var err error
		if certFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rooms, clients := s.hub.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"rooms":   rooms,
		"clients": clients,
	})
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room"]
	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		http.Error(w, "client query parameter is required", http.StatusBadRequest)
		return
	}

	// участник регистрируется до ответа на handshake: после Dial клиент уже в комнате
	m := &wsMember{client: clientID, send: make(chan protocol.Message, sendBuffer)}
	s.hub.join(roomID, m)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "room", roomID, "client_id", clientID, "error", err)
		s.hub.leave(roomID, m)
		return
	}
	m.ws = ws

	go m.writePump(s.logger)
	m.readPump(s.hub, roomID, s.logger)
}

type wsMember struct {
	client string
	ws     *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan protocol.Message
}

func (m *wsMember) id() string {
	return m.client
}

func (m *wsMember) deliver(msg protocol.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return true
	}
	select {
	case m.send <- msg:
		return true
	default:
		return false
	}
}

func (m *wsMember) kick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.send)
	}
}

func (m *wsMember) readPump(hub *Hub, roomID string, logger *slog.Logger) {
	defer func() {
		hub.leave(roomID, m)
		m.ws.Close()
	}()

	m.ws.SetReadLimit(maxMessageSize)
	_ = m.ws.SetReadDeadline(time.Now().Add(pongWait))
	m.ws.SetPongHandler(func(string) error {
		return m.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := m.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "room", roomID, "client_id", m.client, "error", err)
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("dropping malformed message", "room", roomID, "client_id", m.client, "error", err)
			continue
		}
		// заголовок задаёт relay, а не клиент
		msg.Room = roomID
		msg.From = m.client
		hub.Dispatch(msg)
	}
}

func (m *wsMember) writePump(logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		m.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-m.send:
			_ = m.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = m.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := m.ws.WriteJSON(msg); err != nil {
				logger.Debug("websocket write failed", "client_id", m.client, "error", err)
				return
			}
		case <-ticker.C:
			_ = m.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := m.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
