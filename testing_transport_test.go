package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Connection. Frames pushed with deliver come out of Read; frames
// written by the manager are recorded in order.
type fakeConn struct {
	inbound chan []byte
	done    chan struct{}

	mu        sync.Mutex
	written   [][]byte
	writeErr  error
	failErr   error
	closeCode int
	closed    bool
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case frame := <-c.inbound:
		return frame, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.failErr != nil {
			return nil, c.failErr
		}
		return nil, ErrConnectionClosed
	}
}

func (c *fakeConn) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeCode = code
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *fakeConn) deliver(frame string) {
	c.inbound <- []byte(frame)
}

// fail simulates the peer or the network dropping the connection.
func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	c.failErr = err
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *fakeConn) envelopes(t *testing.T) []Envelope {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Envelope, 0, len(c.written))
	for _, frame := range c.written {
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, env)
	}
	return out
}

func (c *fakeConn) envelopesOf(t *testing.T, mt MessageType) []Envelope {
	t.Helper()

	var out []Envelope
	for _, env := range c.envelopes(t) {
		if env.Type == mt {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeConn) code() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// fakeTransport hands out fakeConns. failures scripts the outcome of the first dials; once
// exhausted every dial succeeds. With hang set, Dial blocks until its context ends.
type fakeTransport struct {
	mu       sync.Mutex
	failures []error
	hang     bool
	dials    int
	params   []OpenConnectionParams
	conns    []*fakeConn
	dialed   chan *fakeConn
}

func newFakeTransport(failures ...error) *fakeTransport {
	return &fakeTransport{failures: failures, dialed: make(chan *fakeConn, 128)}
}

func (f *fakeTransport) Dial(ctx context.Context, p OpenConnectionParams) (Connection, error) {
	f.mu.Lock()
	n := f.dials
	f.dials++
	f.params = append(f.params, p)
	hang := f.hang
	var err error
	if n < len(f.failures) {
		err = f.failures[n]
	}
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	conn := newFakeConn()
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()
	f.dialed <- conn
	return conn, nil
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeTransport) setHang(hang bool) {
	f.mu.Lock()
	f.hang = hang
	f.mu.Unlock()
}

func (f *fakeTransport) lastParams() OpenConnectionParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[len(f.params)-1]
}

func (f *fakeTransport) nextConn(t *testing.T) *fakeConn {
	t.Helper()

	select {
	case c := <-f.dialed:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a dial")
		return nil
	}
}

// mockTransport is a testify mock for call-count assertions.
type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Dial(ctx context.Context, p OpenConnectionParams) (Connection, error) {
	args := m.Called(ctx, p)
	conn, _ := args.Get(0).(Connection)
	return conn, args.Error(1)
}

type recordedEvent struct {
	name    EventName
	payload any
}

// eventRecorder captures every event of interest in emission order.
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func recordEvents(m *ConnectionManager, names ...EventName) *eventRecorder {
	r := &eventRecorder{}
	for _, name := range names {
		name := name
		m.On(name, func(payload any) {
			r.mu.Lock()
			r.events = append(r.events, recordedEvent{name: name, payload: payload})
			r.mu.Unlock()
		})
	}
	return r
}

func (r *eventRecorder) all(name EventName) []any {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []any
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e.payload)
		}
	}
	return out
}

func (r *eventRecorder) count(name EventName) int {
	return len(r.all(name))
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a logger.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() Config {
	cfg := DefaultConfig("ws://realtime.test/ws")
	cfg.ReconnectBaseDelay = time.Millisecond
	cfg.ConnectTimeout = time.Second
	cfg.HeartbeatInterval = time.Hour
	return cfg
}

func newTestManager(t *testing.T, cfg Config, transport Transport, opts ...Option) (*ConnectionManager, *syncBuffer) {
	t.Helper()

	logs := &syncBuffer{}
	opts = append([]Option{WithTransport(transport), WithLogger(NewWriterLogger(logs))}, opts...)

	m, err := NewConnectionManager(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, logs
}

func waitForState(t *testing.T, m *ConnectionManager, state ConnectionState) {
	t.Helper()

	require.Eventually(t, func() bool {
		return m.Status().State == state
	}, 2*time.Second, time.Millisecond, "state never became %s (now %s)", state, m.Status().State)
}

var errTestNetwork = errors.New("connection reset by peer")
