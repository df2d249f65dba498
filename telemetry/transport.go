package telemetry

// ReadyState mirrors the lifecycle of a transport connection.
type ReadyState int

const (
	ReadyConnecting ReadyState = iota
	ReadyOpen
	ReadyClosing
	ReadyClosed
)

func (r ReadyState) String() string {
	switch r {
	case ReadyConnecting:
		return "connecting"
	case ReadyOpen:
		return "open"
	case ReadyClosing:
		return "closing"
	case ReadyClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Events are the callbacks a Dialer invokes for one connection. A Dialer calls them from a single goroutine per
// connection, in order. Error is followed by Close when the error ends the connection.
type Events struct {
	Open    func()
	Message func(data string)
	Error   func(err error)
	Close   func()
}

// Conn is a handle to a connection created by a Dialer.
type Conn interface {
	ReadyState() ReadyState
	// Close starts closing the connection. It does not wait for the close handshake and is safe to call more than once.
	Close() error
}

// Dialer opens connections. Dial must not block on network I/O: it validates the target, starts the connection
// and reports its progress through events. An error means no connection was created and no events will follow.
type Dialer interface {
	Dial(target string, events Events) (Conn, error)
}
