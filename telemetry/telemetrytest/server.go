// Package telemetrytest provides test doubles for the telemetry package: an in-memory Dialer and a WebSocket
// Server that accepts telemetry streams and lets tests publish messages to them.
package telemetrytest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Server is an http.Handler serving device telemetry streams over WebSocket. It accepts both target styles
// (token/deviceid and subject query parameters) and rejects requests for another token or device.
type Server struct {
	http.Handler
	token    string
	deviceID string
	logger   *slog.Logger
	upgrader websocket.Upgrader
	connID   atomic.Uint64
	lock     sync.Mutex
	clients  map[uint64]*client
}

// NewServer returns a Server streaming deviceID to clients presenting token. An empty token disables the token check.
func NewServer(token, deviceID string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := Server{
		token:    token,
		deviceID: deviceID,
		logger:   logger,
		clients:  make(map[uint64]*client),
	}
	m := http.NewServeMux()
	m.HandleFunc("GET /", s.stream)
	s.Handler = m
	return &s
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("stream called", "path", r.URL.Path)
	if err := s.parseStreamRequest(r.URL.Query()); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "err", err)
		return
	}

	c := client{id: s.connID.Add(1), conn: conn}
	s.lock.Lock()
	s.clients[c.id] = &c
	s.lock.Unlock()
	s.logger.Debug("client connected", "connID", c.id)

	defer func() {
		s.lock.Lock()
		delete(s.clients, c.id)
		s.lock.Unlock()
		_ = conn.Close()
		s.logger.Debug("client disconnected", "connID", c.id)
	}()
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) parseStreamRequest(query url.Values) error {
	if s.token != "" && query.Get("token") != s.token {
		return errors.New("invalid token")
	}
	if subject := query.Get("subject"); subject != "" {
		device, hasPrefix := strings.CutPrefix(subject, "devices.")
		device, hasSuffix := strings.CutSuffix(device, ".telemetry")
		if !hasPrefix || !hasSuffix || device != s.deviceID {
			return fmt.Errorf("invalid subject: %s", subject)
		}
		return nil
	}
	if device := query.Get("deviceid"); device != s.deviceID {
		return fmt.Errorf("invalid device: %s", device)
	}
	return nil
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.clients)
}

// WaitForClients blocks until at least count clients are connected.
func (s *Server) WaitForClients(ctx context.Context, count int) error {
	for s.Clients() < count {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

// Publish sends a text message to every connected client.
func (s *Server) Publish(message string) error {
	var errs []error
	for _, c := range s.snapshot() {
		errs = append(errs, c.write(websocket.TextMessage, []byte(message)))
	}
	return errors.Join(errs...)
}

// CloseClients sends a normal close frame to every connected client.
func (s *Server) CloseClients() {
	for _, c := range s.snapshot() {
		_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}
}

// DropClients closes every client connection without a close frame.
func (s *Server) DropClients() {
	for _, c := range s.snapshot() {
		_ = c.conn.Close()
	}
}

func (s *Server) snapshot() []*client {
	s.lock.Lock()
	defer s.lock.Unlock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	return clients
}

type client struct {
	id   uint64
	conn *websocket.Conn
	lock sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}
