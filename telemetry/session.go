package telemetry

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrConnection is the message reported to error observers when an established or opening connection fails.
// The underlying transport error is logged, not reported.
var ErrConnection = errors.New("connection error")

// Option configures a Session.
type Option func(*Session)

// WithDialer sets the transport. The default is a WebSocketDialer.
func WithDialer(dialer Dialer) Option {
	return func(s *Session) {
		s.dialer = dialer
	}
}

// WithBaseURL sets the endpoint used by Connect. The default is DefaultBaseURL.
func WithBaseURL(baseURL string) Option {
	return func(s *Session) {
		s.baseURL = baseURL
	}
}

// WithTarget sets how the connection URL is built. The default is QueryTarget.
func WithTarget(target TargetFunc) Option {
	return func(s *Session) {
		s.target = target
	}
}

// WithLogger sets the logger. By default, nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session manages the stream of one device. At most one connection is live at any time.
type Session struct {
	logger     *slog.Logger
	dialer     Dialer
	target     TargetFunc
	credential Credential
	deviceID   string
	baseURL    string

	lock             sync.Mutex
	status           Status
	conn             Conn
	dialing          bool
	generation       uint64
	messageObservers observerSet[func(Payload)]
	errorObservers   observerSet[func(string)]
	statusObservers  observerSet[func(Status)]
}

// NewSession returns a disconnected Session for deviceID. It fails with ErrInvalidSession if deviceID is empty
// or the credential is not valid.
func NewSession(credential Credential, deviceID string, options ...Option) (*Session, error) {
	if !credential.Valid() {
		return nil, fmt.Errorf("%w: credential must hold a valid token", ErrInvalidSession)
	}
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device ID must be a non-empty string", ErrInvalidSession)
	}
	s := Session{
		credential: credential,
		deviceID:   deviceID,
		target:     QueryTarget,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(&s)
	}
	s.logger = s.logger.With("device", deviceID)
	if s.dialer == nil {
		s.dialer = &WebSocketDialer{Logger: s.logger}
	}
	return &s, nil
}

// DeviceID returns the device this Session streams.
func (s *Session) DeviceID() string {
	return s.deviceID
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.status
}

// IsConnected reports whether the status is StatusConnected.
func (s *Session) IsConnected() bool {
	return s.Status() == StatusConnected
}

// Connect opens the stream on the configured base URL.
func (s *Session) Connect() {
	s.ConnectTo("")
}

// ConnectTo opens the stream on baseURL, or on the configured base URL if baseURL is empty.
// It does nothing while a connection is being set up or is open. ConnectTo returns without waiting for the
// connection: progress is reported to status observers. If the connection cannot be created at all, the status
// moves to StatusError and error observers receive the reason.
func (s *Session) ConnectTo(baseURL string) {
	s.lock.Lock()
	if s.dialing || (s.conn != nil && active(s.conn.ReadyState())) {
		s.lock.Unlock()
		return
	}
	stale := s.conn
	s.conn = nil
	s.dialing = true
	s.generation++
	generation := s.generation
	statusObservers := s.setStatus(StatusConnecting)
	s.lock.Unlock()

	if stale != nil {
		_ = stale.Close()
	}
	notify(statusObservers, StatusConnecting)

	target, err := s.target(cmp.Or(baseURL, s.baseURL, DefaultBaseURL), s.credential, s.deviceID)
	var conn Conn
	if err == nil {
		s.logger.Debug("connecting", "base", cmp.Or(baseURL, s.baseURL, DefaultBaseURL))
		conn, err = s.dialer.Dial(target, s.events(generation))
	}

	s.lock.Lock()
	if generation != s.generation {
		// disconnected while dialing
		s.lock.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	s.dialing = false
	if err != nil {
		statusObservers = s.setStatus(StatusError)
		errorObservers := s.errorObservers.list()
		s.lock.Unlock()
		s.logger.Warn("failed to create connection", "err", err)
		notify(statusObservers, StatusError)
		notify(errorObservers, "failed to create connection: "+err.Error())
		return
	}
	s.conn = conn
	s.lock.Unlock()
}

// Disconnect closes the connection and moves the status to StatusDisconnected. It does not wait for the close
// handshake. Without a connection, Disconnect does nothing.
func (s *Session) Disconnect() {
	s.lock.Lock()
	if s.conn == nil && !s.dialing {
		s.lock.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.dialing = false
	s.generation++
	statusObservers := s.setStatus(StatusDisconnected)
	s.lock.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug("close failed", "err", err)
		}
	}
	s.logger.Debug("disconnected")
	notify(statusObservers, StatusDisconnected)
}

// OnMessage registers f for every decoded message. The returned function removes the registration.
func (s *Session) OnMessage(f func(Payload)) (unsubscribe func()) {
	if f == nil {
		return func() {}
	}
	return register(s, &s.messageObservers, f)
}

// OnError registers f for connection errors. The returned function removes the registration.
func (s *Session) OnError(f func(string)) (unsubscribe func()) {
	if f == nil {
		return func() {}
	}
	return register(s, &s.errorObservers, f)
}

// OnStatusChange registers f for status transitions. The returned function removes the registration.
func (s *Session) OnStatusChange(f func(Status)) (unsubscribe func()) {
	if f == nil {
		return func() {}
	}
	return register(s, &s.statusObservers, f)
}

func register[F any](s *Session, observers *observerSet[F], f F) func() {
	s.lock.Lock()
	defer s.lock.Unlock()
	id := observers.add(f)
	var once sync.Once
	return func() {
		once.Do(func() {
			s.lock.Lock()
			defer s.lock.Unlock()
			observers.remove(id)
		})
	}
}

func (s *Session) events(generation uint64) Events {
	return Events{
		Open:    func() { s.handleOpen(generation) },
		Message: func(data string) { s.handleMessage(generation, data) },
		Error:   func(err error) { s.handleError(generation, err) },
		Close:   func() { s.handleClose(generation) },
	}
}

func (s *Session) handleOpen(generation uint64) {
	s.lock.Lock()
	if generation != s.generation {
		s.lock.Unlock()
		return
	}
	statusObservers := s.setStatus(StatusConnected)
	s.lock.Unlock()
	s.logger.Debug("connected")
	notify(statusObservers, StatusConnected)
}

func (s *Session) handleMessage(generation uint64, data string) {
	s.lock.Lock()
	if generation != s.generation {
		s.lock.Unlock()
		return
	}
	messageObservers := s.messageObservers.list()
	s.lock.Unlock()
	notify(messageObservers, Decode(data))
}

func (s *Session) handleError(generation uint64, err error) {
	s.lock.Lock()
	if generation != s.generation {
		s.lock.Unlock()
		return
	}
	statusObservers := s.setStatus(StatusError)
	errorObservers := s.errorObservers.list()
	s.lock.Unlock()
	s.logger.Warn("connection error", "err", err)
	notify(statusObservers, StatusError)
	notify(errorObservers, ErrConnection.Error())
}

func (s *Session) handleClose(generation uint64) {
	s.lock.Lock()
	if generation != s.generation {
		s.lock.Unlock()
		return
	}
	s.conn = nil
	statusObservers := s.setStatus(StatusDisconnected)
	s.lock.Unlock()
	s.logger.Debug("connection closed")
	notify(statusObservers, StatusDisconnected)
}

// setStatus must be called with s.lock held. It returns the observers to notify once the lock is released.
func (s *Session) setStatus(status Status) []func(Status) {
	s.status = status
	return s.statusObservers.list()
}

func notify[T any](observers []func(T), value T) {
	for _, f := range observers {
		f(value)
	}
}

func active(state ReadyState) bool {
	return state == ReadyConnecting || state == ReadyOpen
}
