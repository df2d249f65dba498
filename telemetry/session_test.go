package telemetry_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/scadable/telemetry-go/telemetry"
	"github.com/scadable/telemetry-go/telemetry/telemetrytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, options ...telemetry.Option) (*telemetry.Session, *telemetrytest.Dialer) {
	t.Helper()
	credential, err := telemetry.NewCredential("secret")
	require.NoError(t, err)
	dialer := &telemetrytest.Dialer{}
	s, err := telemetry.NewSession(credential, "device-1", append([]telemetry.Option{telemetry.WithDialer(dialer)}, options...)...)
	require.NoError(t, err)
	return s, dialer
}

type recorder[T any] struct {
	values []T
}

func (r *recorder[T]) record(v T) {
	r.values = append(r.values, v)
}

func TestNewSession(t *testing.T) {
	credential, err := telemetry.NewCredential("secret")
	require.NoError(t, err)

	s, err := telemetry.NewSession(credential, "device-1")
	require.NoError(t, err)
	assert.Equal(t, telemetry.StatusDisconnected, s.Status())
	assert.False(t, s.IsConnected())
	assert.Equal(t, "device-1", s.DeviceID())

	_, err = telemetry.NewSession(credential, "")
	assert.ErrorIs(t, err, telemetry.ErrInvalidSession)

	_, err = telemetry.NewSession(telemetry.Credential{}, "device-1")
	assert.ErrorIs(t, err, telemetry.ErrInvalidSession)
}

func TestSession_Connect(t *testing.T) {
	s, dialer := newSession(t)
	var first, second recorder[telemetry.Status]
	s.OnStatusChange(first.record)
	s.OnStatusChange(second.record)

	s.Connect()
	assert.Equal(t, telemetry.StatusConnecting, s.Status())
	s.Connect()
	require.Len(t, dialer.Conns(), 1, "connect while connecting must not dial again")
	assert.Equal(t, "wss://api.scadable.com/?token=secret&deviceid=device-1", dialer.Last().Target)

	dialer.Last().Open()
	assert.Equal(t, telemetry.StatusConnected, s.Status())
	assert.True(t, s.IsConnected())

	s.Connect()
	assert.Len(t, dialer.Conns(), 1, "connect while connected must not dial again")

	want := []telemetry.Status{telemetry.StatusConnecting, telemetry.StatusConnected}
	assert.Equal(t, want, first.values)
	assert.Equal(t, want, second.values)
}

func TestSession_ConnectTo(t *testing.T) {
	s, dialer := newSession(t, telemetry.WithBaseURL("ws://localhost:8080/live"))
	s.Connect()
	assert.Equal(t, "ws://localhost:8080/live?token=secret&deviceid=device-1", dialer.Last().Target)

	s.Disconnect()
	s.ConnectTo("wss://override.example.com")
	assert.Equal(t, "wss://override.example.com/?token=secret&deviceid=device-1", dialer.Last().Target)

	s2, dialer2 := newSession(t, telemetry.WithTarget(telemetry.SubjectTarget), telemetry.WithBaseURL(telemetry.DefaultSubjectBaseURL))
	s2.Connect()
	assert.Equal(t, "wss://socket.scadable.com/?subject=devices.device-1.telemetry&token=secret", dialer2.Last().Target)
}

func TestSession_Messages(t *testing.T) {
	s, dialer := newSession(t)
	var received recorder[telemetry.Payload]
	unsubscribe := s.OnMessage(received.record)
	var other recorder[telemetry.Payload]
	s.OnMessage(other.record)

	s.Connect()
	conn := dialer.Last()
	conn.Open()
	conn.Send(`{"temperature":25.5,"humidity":60}`)
	conn.Send("raw telemetry data")

	require.Len(t, received.values, 2)
	assert.True(t, received.values[0].IsStructured())
	assert.Equal(t, map[string]any{"temperature": 25.5, "humidity": float64(60)}, received.values[0].Fields())
	assert.False(t, received.values[1].IsStructured())
	assert.Equal(t, "raw telemetry data", received.values[1].Raw())

	unsubscribe()
	unsubscribe()
	conn.Send("after unsubscribe")
	assert.Len(t, received.values, 2)
	assert.Len(t, other.values, 3)
}

func TestSession_TransportError(t *testing.T) {
	s, dialer := newSession(t)
	var statuses recorder[telemetry.Status]
	var errs recorder[string]
	s.OnStatusChange(statuses.record)
	s.OnError(errs.record)

	s.Connect()
	first := dialer.Last()
	first.Open()
	first.Fail(errors.New("read: connection reset by peer"))

	assert.Equal(t, telemetry.StatusError, s.Status())
	assert.Equal(t, []string{"connection error"}, errs.values)

	first.Drop()
	assert.Equal(t, telemetry.StatusDisconnected, s.Status())
	assert.Equal(t, []telemetry.Status{
		telemetry.StatusConnecting,
		telemetry.StatusConnected,
		telemetry.StatusError,
		telemetry.StatusDisconnected,
	}, statuses.values)

	// no retries: a new connection is only made on request
	assert.Len(t, dialer.Conns(), 1)
	s.Connect()
	assert.Len(t, dialer.Conns(), 2)
}

func TestSession_ReconnectAfterError(t *testing.T) {
	s, dialer := newSession(t)
	s.Connect()
	first := dialer.Last()
	first.Fail(errors.New("handshake failed"))
	require.Equal(t, telemetry.StatusError, s.Status())

	s.Connect()
	require.Len(t, dialer.Conns(), 2)
	assert.Equal(t, 1, first.CloseCalls(), "stale connection must be closed")
	assert.Equal(t, telemetry.StatusConnecting, s.Status())

	// late events of the replaced connection are ignored
	first.Drop()
	assert.Equal(t, telemetry.StatusConnecting, s.Status())
	dialer.Last().Open()
	assert.True(t, s.IsConnected())
}

func TestSession_ConstructionFailure(t *testing.T) {
	t.Run("dialer", func(t *testing.T) {
		s, dialer := newSession(t)
		dialer.Err = errors.New("boom")
		var statuses recorder[telemetry.Status]
		var errs recorder[string]
		s.OnStatusChange(statuses.record)
		s.OnError(errs.record)

		assert.NotPanics(t, s.Connect)
		assert.Equal(t, telemetry.StatusError, s.Status())
		assert.Equal(t, []telemetry.Status{telemetry.StatusConnecting, telemetry.StatusError}, statuses.values)
		assert.Equal(t, []string{"failed to create connection: boom"}, errs.values)

		dialer.Err = nil
		s.Connect()
		assert.Len(t, dialer.Conns(), 1)
	})

	t.Run("target", func(t *testing.T) {
		s, dialer := newSession(t)
		var errs recorder[string]
		s.OnError(errs.record)

		s.ConnectTo("::not a url")
		assert.Equal(t, telemetry.StatusError, s.Status())
		assert.Empty(t, dialer.Conns())
		require.Len(t, errs.values, 1)
		assert.True(t, strings.HasPrefix(errs.values[0], "failed to create connection: "), errs.values[0])
	})
}

func TestSession_Disconnect(t *testing.T) {
	t.Run("never connected", func(t *testing.T) {
		s, _ := newSession(t)
		var statuses recorder[telemetry.Status]
		s.OnStatusChange(statuses.record)

		assert.NotPanics(t, s.Disconnect)
		assert.Equal(t, telemetry.StatusDisconnected, s.Status())
		assert.Empty(t, statuses.values)
	})

	t.Run("connected", func(t *testing.T) {
		s, dialer := newSession(t)
		var statuses recorder[telemetry.Status]
		var messages recorder[telemetry.Payload]
		s.OnStatusChange(statuses.record)
		s.OnMessage(messages.record)

		s.Connect()
		conn := dialer.Last()
		conn.Open()
		s.Disconnect()
		assert.Equal(t, telemetry.StatusDisconnected, s.Status())
		assert.Equal(t, 1, conn.CloseCalls())

		s.Disconnect()
		assert.Equal(t, 1, conn.CloseCalls())

		// the close handshake completes after Disconnect returned
		conn.Send("late message")
		conn.Drop()
		assert.Empty(t, messages.values)
		assert.Equal(t, []telemetry.Status{
			telemetry.StatusConnecting,
			telemetry.StatusConnected,
			telemetry.StatusDisconnected,
		}, statuses.values)
	})

	t.Run("while connecting", func(t *testing.T) {
		s, dialer := newSession(t)
		s.Connect()
		conn := dialer.Last()
		s.Disconnect()
		assert.Equal(t, telemetry.StatusDisconnected, s.Status())

		conn.Open()
		assert.Equal(t, telemetry.StatusDisconnected, s.Status())
	})
}

func TestSession_Unsubscribe(t *testing.T) {
	s, dialer := newSession(t)
	var errs, kept recorder[string]
	unsubscribe := s.OnError(errs.record)
	s.OnError(kept.record)
	unsubscribe()
	unsubscribe()

	assert.NotPanics(t, func() {
		s.OnMessage(nil)()
		s.OnError(nil)()
		s.OnStatusChange(nil)()
	})

	s.Connect()
	dialer.Last().Fail(errors.New("fail"))
	assert.Empty(t, errs.values)
	assert.Equal(t, []string{"connection error"}, kept.values)
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status telemetry.Status
		want   string
	}{
		{telemetry.StatusDisconnected, "disconnected"},
		{telemetry.StatusConnecting, "connecting"},
		{telemetry.StatusConnected, "connected"},
		{telemetry.StatusError, "error"},
		{telemetry.Status(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}
