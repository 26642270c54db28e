package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler runs one admitted WebSocket for its whole life. The Conn is closed
// when it returns.
type Handler func(conn *Conn)

// QueryFunc returns the payload for GET /query, or false to answer 404.
type QueryFunc func() ([]byte, bool)

// Server accepts signaling WebSockets on /ws and answers /query.
type Server struct {
	handler Handler
	query   QueryFunc

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
	conns    map[*Conn]struct{}
	wg       sync.WaitGroup
}

// NewServer creates a server that hands every WebSocket to handler. query
// may be nil.
func NewServer(handler Handler, query QueryFunc) *Server {
	return &Server{
		handler: handler,
		query:   query,
		conns:   make(map[*Conn]struct{}),
	}
}

// Listen binds address:port and starts serving. Port zero picks a free one;
// the bound port is returned. The error wraps the underlying net error so
// callers can tell an address already in use apart.
func (s *Server) Listen(address string, port uint16) (uint16, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(address, strconv.Itoa(int(port))))
	if err != nil {
		return 0, fmt.Errorf("failed to start signaling server: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/query", s.handleQuery)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.listener = listener
	s.http = srv
	s.mu.Unlock()

	go func() {
		_ = srv.Serve(listener)
	}()

	return uint16(listener.Addr().(*net.TCPAddr).Port), nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := newConn(ws, r.RemoteAddr)

	s.mu.Lock()
	if s.http == nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.wg.Done()
	}()
	s.handler(conn)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.query == nil {
		http.NotFound(w, r)
		return
	}
	payload, ok := s.query()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(payload)
}

// Close stops accepting, closes every open WebSocket and waits for their
// handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := srv.Shutdown(ctx)
	for _, c := range conns {
		c.ws.Close()
	}
	s.wg.Wait()
	if errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	return err
}
