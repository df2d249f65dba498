package telemetry

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 60 * time.Second
	writeTimeout        = 10 * time.Second
)

var _ Dialer = &WebSocketDialer{}

// WebSocketDialer is a Dialer for WebSocket endpoints. http and https targets are dialed as ws and wss.
// The zero value is ready to use.
type WebSocketDialer struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Header http.Header
	Logger *slog.Logger
	// PingInterval is how often the connection is probed. Defaults to 30s.
	PingInterval time.Duration
	// PongTimeout is how long the connection may stay silent before it is considered dead. Defaults to 60s.
	PongTimeout time.Duration
}

func (d *WebSocketDialer) Dial(target string, events Events) (Conn, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid target: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid target: missing host")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := wsConn{
		logger:       cmp.Or(d.Logger, slog.New(slog.DiscardHandler)),
		cancel:       cancel,
		pingInterval: cmp.Or(d.PingInterval, defaultPingInterval),
		pongTimeout:  cmp.Or(d.PongTimeout, defaultPongTimeout),
	}
	c.state.Store(int32(ReadyConnecting))
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	go c.run(ctx, dialer, u.String(), d.Header, events)
	return &c, nil
}

type wsConn struct {
	logger       *slog.Logger
	cancel       context.CancelFunc
	pingInterval time.Duration
	pongTimeout  time.Duration
	state        atomic.Int32
	lock         sync.Mutex
	conn         *websocket.Conn
	closing      bool
	closeOnce    sync.Once
}

func (c *wsConn) ReadyState() ReadyState {
	return ReadyState(c.state.Load())
}

func (c *wsConn) Close() (err error) {
	c.closeOnce.Do(func() {
		c.lock.Lock()
		c.closing = true
		c.state.CompareAndSwap(int32(ReadyConnecting), int32(ReadyClosing))
		c.state.CompareAndSwap(int32(ReadyOpen), int32(ReadyClosing))
		conn := c.conn
		c.lock.Unlock()

		c.cancel()
		if conn == nil {
			return
		}
		// WriteControl may run concurrently with the read loop and the ping loop.
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout)); err == websocket.ErrCloseSent {
			err = nil
		}
		// unblocks the read loop; the peer's close reply is not awaited
		_ = conn.Close()
	})
	return err
}

func (c *wsConn) run(ctx context.Context, dialer *websocket.Dialer, target string, header http.Header, events Events) {
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		previous := ReadyState(c.state.Swap(int32(ReadyClosed)))
		if previous != ReadyClosing {
			if resp != nil {
				err = fmt.Errorf("%w (%s)", err, resp.Status)
			}
			events.Error(err)
		}
		events.Close()
		return
	}

	c.lock.Lock()
	if c.closing {
		c.lock.Unlock()
		_ = conn.Close()
		c.state.Store(int32(ReadyClosed))
		events.Close()
		return
	}
	c.conn = conn
	c.state.Store(int32(ReadyOpen))
	c.lock.Unlock()
	events.Open()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	go c.pingLoop(ctx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			previous := ReadyState(c.state.Swap(int32(ReadyClosed)))
			c.cancel()
			_ = conn.Close()
			if previous != ReadyClosing && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				events.Error(err)
			}
			c.logger.Debug("websocket closed", "err", err)
			events.Close()
			return
		}
		events.Message(string(data))
	}
}

func (c *wsConn) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.logger.Debug("ping failed", "err", err)
				return
			}
		}
	}
}
