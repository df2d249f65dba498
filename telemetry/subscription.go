package telemetry

import (
	"reflect"
	"sync"
)

// MissingSourceMessage is reported in Snapshot.LastError when Attach is called without a Source.
const MissingSourceMessage = "session instance is required"

// Source is the part of a Session a Subscription depends on.
type Source interface {
	Connect()
	Disconnect()
	IsConnected() bool
	OnMessage(func(Payload)) func()
	OnError(func(string)) func()
	OnStatusChange(func(Status)) func()
}

var _ Source = &Session{}

// Snapshot is the consumer-facing state of a Subscription.
type Snapshot struct {
	// Latest is the most recent payload, or nil if none arrived yet.
	Latest    *Payload
	Connected bool
	// LastError is cleared when a message arrives or the Source connects.
	LastError string
}

// SubscriptionOption configures a Subscription.
type SubscriptionOption func(*Subscription)

// WithHistory keeps the size most recent payloads, available through Subscription.History.
func WithHistory(size int) SubscriptionOption {
	return func(s *Subscription) {
		s.history = newHistory(size)
	}
}

// Subscription binds a Source's lifecycle to its consumer: it connects the Source on attach, mirrors its events
// into a Snapshot and disconnects it on Detach.
type Subscription struct {
	lock        sync.Mutex
	source      Source
	unsubscribe []func()
	epoch       uint64
	snapshot    Snapshot
	history     *history
	updates     chan struct{}
}

// Attach connects source and starts tracking it. A nil source is not an error: the returned Subscription
// reports MissingSourceMessage in its Snapshot and does nothing else.
func Attach(source Source, options ...SubscriptionOption) *Subscription {
	s := Subscription{updates: make(chan struct{}, 1)}
	for _, option := range options {
		option(&s)
	}
	s.attach(source)
	return &s
}

// Snapshot returns the current state.
func (s *Subscription) Snapshot() Snapshot {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.snapshot
}

// History returns the retained payloads, most recent first. It is empty unless WithHistory was used.
func (s *Subscription) History() []Payload {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.history.newestFirst()
}

// Updates signals that the Snapshot changed. Signals are coalesced: a consumer that falls behind receives one
// signal for any number of changes and should call Snapshot to read the latest state.
func (s *Subscription) Updates() <-chan struct{} {
	return s.updates
}

// Detach unregisters from the Source and disconnects it. The Snapshot no longer changes afterwards.
// Calling Detach more than once is safe.
func (s *Subscription) Detach() {
	s.lock.Lock()
	source, unsubscribe := s.source, s.unsubscribe
	s.source, s.unsubscribe = nil, nil
	s.epoch++
	s.lock.Unlock()

	if source == nil {
		return
	}
	for _, f := range unsubscribe {
		f()
	}
	source.Disconnect()
}

// Rebind moves the Subscription to another Source: it detaches from the current one and attaches to source with
// a fresh Snapshot. Rebinding to the current Source does nothing.
func (s *Subscription) Rebind(source Source) {
	s.lock.Lock()
	same := s.source != nil && s.source == source
	s.lock.Unlock()
	if same {
		return
	}
	s.Detach()
	s.attach(source)
}

func (s *Subscription) attach(source Source) {
	s.lock.Lock()
	s.snapshot = Snapshot{}
	s.history.reset()
	epoch := s.epoch
	s.lock.Unlock()

	if isNil(source) {
		s.update(epoch, func(snapshot *Snapshot) {
			snapshot.LastError = MissingSourceMessage
		})
		return
	}

	source.Connect()
	unsubscribe := []func(){
		source.OnMessage(func(p Payload) {
			s.update(epoch, func(snapshot *Snapshot) {
				snapshot.Latest = &p
				snapshot.LastError = ""
				if s.history != nil {
					s.history.add(p)
				}
			})
		}),
		source.OnError(func(msg string) {
			s.update(epoch, func(snapshot *Snapshot) {
				snapshot.LastError = msg
			})
		}),
		source.OnStatusChange(func(status Status) {
			s.update(epoch, func(snapshot *Snapshot) {
				snapshot.Connected = status == StatusConnected
				if snapshot.Connected {
					snapshot.LastError = ""
				}
			})
		}),
	}
	connected := source.IsConnected()

	s.lock.Lock()
	s.source = source
	s.unsubscribe = unsubscribe
	s.snapshot.Connected = connected
	s.lock.Unlock()
	s.signal()
}

// update applies f to the Snapshot unless the Subscription moved on from the attachment identified by epoch.
func (s *Subscription) update(epoch uint64, f func(*Snapshot)) {
	s.lock.Lock()
	if epoch != s.epoch {
		s.lock.Unlock()
		return
	}
	f(&s.snapshot)
	s.lock.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func isNil(source Source) bool {
	if source == nil {
		return true
	}
	v := reflect.ValueOf(source)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
