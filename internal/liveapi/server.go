// Package liveapi exposes a scan's progress over HTTP while it runs:
// a /status snapshot endpoint and a /ws stream of one event per object
// as the coordinator finishes it.
package liveapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kbrandt/stencilscan/internal/coordinator"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Snapshot is the JSON body /status returns: the running tally of a scan
// still in progress, or the final coordinator.Result once it completes.
type Snapshot struct {
	Found     []coordinator.FoundFile     `json:"found"`
	Ambiguous []coordinator.AmbiguousFile `json:"ambiguous"`
	NotFound  []string                    `json:"notFound"`
	Symbols   []coordinator.Symbol        `json:"symbols"`
	Complete  bool                        `json:"complete"`
}

// Server serves live scan progress. The zero value is not usable; build
// one with NewServer.
type Server struct {
	broadcaster *Broadcaster
	mux         *http.ServeMux
	httpServer  *http.Server
	addr        string
	logger      *slog.Logger

	mu       sync.RWMutex
	snapshot Snapshot
}

func NewServer(addr string, logger *slog.Logger) *Server {
	s := &Server{
		broadcaster: NewBroadcaster(),
		mux:         http.NewServeMux(),
		addr:        addr,
		logger:      logger,
	}
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	return s
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if s.logger != nil {
		s.logger.Info("live API listening", "addr", s.addr)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.broadcaster.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil && s.logger != nil {
		s.logger.Warn("encode status snapshot", "error", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("websocket upgrade failed", "error", err)
		}
		return
	}

	ch := s.broadcaster.Subscribe()
	go s.writePump(conn, ch)
}

func (s *Server) writePump(conn *websocket.Conn, ch chan Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.broadcaster.Unsubscribe(ch)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	go drainReads(conn)

	for {
		select {
		case event, ok := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainReads discards client messages; this module's clients only ever
// receive, but the connection must still be read from to process control
// frames (pong, close) per the gorilla/websocket contract.
func drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ObjectFound records a Found result and broadcasts it to subscribers.
// Satisfies coordinator.Progress, so a *Server can be passed directly as
// a Run's Progress field.
func (s *Server) ObjectFound(f coordinator.FoundFile) {
	s.mu.Lock()
	s.snapshot.Found = append(s.snapshot.Found, f)
	s.mu.Unlock()
	s.broadcaster.Publish(Event{Type: EventObjectFound, Data: f})
}

func (s *Server) ObjectAmbiguous(a coordinator.AmbiguousFile) {
	s.mu.Lock()
	s.snapshot.Ambiguous = append(s.snapshot.Ambiguous, a)
	s.mu.Unlock()
	s.broadcaster.Publish(Event{Type: EventObjectAmbiguous, Data: a})
}

func (s *Server) ObjectNotFound(stem string) {
	s.mu.Lock()
	s.snapshot.NotFound = append(s.snapshot.NotFound, stem)
	s.mu.Unlock()
	s.broadcaster.Publish(Event{Type: EventObjectNotFound, Data: stem})
}

func (s *Server) PublishSymbol(sym coordinator.Symbol) {
	s.mu.Lock()
	s.snapshot.Symbols = append(s.snapshot.Symbols, sym)
	s.mu.Unlock()
	s.broadcaster.Publish(Event{Type: EventSymbolRecovered, Data: sym})
}

// Complete marks the snapshot final and broadcasts the whole result.
func (s *Server) Complete(result coordinator.Result) {
	s.mu.Lock()
	s.snapshot = Snapshot{
		Found:     result.Found,
		Ambiguous: result.Ambiguous,
		NotFound:  result.NotFound,
		Symbols:   result.Symbols,
		Complete:  true,
	}
	s.mu.Unlock()
	s.broadcaster.Publish(Event{Type: EventScanComplete, Data: result})
}
