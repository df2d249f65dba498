package telemetrytest

import (
	"sync"

	"github.com/scadable/telemetry-go/telemetry"
)

var _ telemetry.Dialer = &Dialer{}

// Dialer is an in-memory telemetry.Dialer. Each Dial creates a Conn in the connecting state; tests drive the
// connection through the Conn's Open, Send, Fail and Drop methods.
type Dialer struct {
	// Err, if set, is returned by Dial instead of creating a Conn.
	Err   error
	lock  sync.Mutex
	conns []*Conn
}

func (d *Dialer) Dial(target string, events telemetry.Events) (telemetry.Conn, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	c := &Conn{Target: target, events: events, state: telemetry.ReadyConnecting}
	d.conns = append(d.conns, c)
	return c, nil
}

// Conns returns every Conn created so far, oldest first.
func (d *Dialer) Conns() []*Conn {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Last returns the most recent Conn, or nil.
func (d *Dialer) Last() *Conn {
	d.lock.Lock()
	defer d.lock.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

var _ telemetry.Conn = &Conn{}

// Conn is a connection created by Dialer.
type Conn struct {
	Target     string
	events     telemetry.Events
	lock       sync.Mutex
	state      telemetry.ReadyState
	closeCalls int
}

func (c *Conn) ReadyState() telemetry.ReadyState {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// Close marks the connection closed. Like a real transport, it does not report events synchronously: call Drop
// to deliver the close event.
func (c *Conn) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closeCalls++
	c.state = telemetry.ReadyClosed
	return nil
}

// CloseCalls returns the number of times Close was called.
func (c *Conn) CloseCalls() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closeCalls
}

// Open completes the handshake.
func (c *Conn) Open() {
	c.setState(telemetry.ReadyOpen)
	c.events.Open()
}

// Send delivers an inbound message.
func (c *Conn) Send(data string) {
	c.events.Message(data)
}

// Fail reports a transport error. It does not deliver the close event that normally follows; see Drop.
func (c *Conn) Fail(err error) {
	c.setState(telemetry.ReadyClosing)
	c.events.Error(err)
}

// Drop reports that the connection closed.
func (c *Conn) Drop() {
	c.setState(telemetry.ReadyClosed)
	c.events.Close()
}

func (c *Conn) setState(state telemetry.ReadyState) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.state = state
}
