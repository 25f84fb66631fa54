package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

const reasonClientDisconnect = "client disconnect"

type pendingEvent struct {
	name    EventName
	payload any
}

type dialResult struct {
	conn Connection
	err  error
}

// ConnectionManager owns the single logical connection. It drives the state machine, keeps
// the connection alive across failures, replays subscriptions and flushes the outbound queue
// on every (re)connection, and fans inbound events out through its event emitter.
//
// All mutable state is guarded by mu. Every asynchronous activity (read loop, heartbeat,
// reconnect and reopen timers, in-flight dials) captures the session it belongs to; session
// is bumped whenever that work becomes stale, so late callbacks are no-ops.
type ConnectionManager struct {
	cfg          Config
	logger       Logger
	transport    Transport
	paramsGetter OpenConnectionParamsGetter
	params       OpenConnectionParamsRepo
	backoff      BackoffCalculator
	policy       ReconnectPolicy
	metrics      *Metrics
	emitter      *EventEmitterCallback[EventName, any]

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          ConnectionState
	session        uint64
	attempts       int
	identity       string
	conn           Connection
	subs           *SubscriptionRegistry
	queue          *OutboundQueue
	heartbeat      *HeartbeatMonitor
	reconnectTimer *time.Timer
	reopenTimer    *time.Timer
	cancelAttempt  context.CancelFunc
	closed         bool
}

// NewConnectionManager validates cfg and builds a manager in the Disconnected state. Nothing
// is dialed until Connect is called.
func NewConnectionManager(cfg Config, opts ...Option) (*ConnectionManager, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &ConnectionManager{
		cfg:     cfg,
		logger:  NewNoopLogger(),
		emitter: NewEventEmitter[EventName, any](),
		state:   StateDisconnected,
		subs:    NewSubscriptionRegistry(),
		queue:   NewOutboundQueue(cfg.Queue.Capacity, cfg.overflowPolicy()),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.WithField("component", "connection_manager")

	if m.transport == nil {
		m.transport = NewWebsocketTransport(
			m.logger,
			&websocket.Dialer{
				Proxy:            http.ProxyFromEnvironment,
				HandshakeTimeout: cfg.ConnectTimeout,
			},
			cfg.WriteTimeout,
			ErrorAdapters{},
		)
	}
	if m.paramsGetter == nil {
		m.paramsGetter = NewQueryTokenParamsGetter(cfg.URL, cfg.TokenParam, nil)
	}
	if m.backoff == nil {
		m.backoff = ExponentialBackoff(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics("realtime")
	}

	m.params = NewOpenConnectionParamsRepo(m.logger, m.paramsGetter)
	m.policy = NewReconnectPolicy(cfg.MaxReconnectAttempts, m.backoff)
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.emitter.OnPanic(func(event EventName, recovered any) {
		m.logger.Errorf("handler for %s panicked: %s", event, panicError(recovered))
		m.metrics.incHandlerPanic(event)
	})
	m.metrics.setState(StateDisconnected)

	return m, nil
}

// Connect opens the transport. It is a no-op while Connecting, Connected or Reconnecting (the
// scheduled attempt keeps its place in the backoff schedule) and otherwise blocks until the
// attempt resolves. Transport failures are not returned: they are reported
// through EventError and handed to the reconnect path. The returned error only signals local
// misuse, such as a closed manager or an endpoint that cannot be built.
func (m *ConnectionManager) Connect(ctx context.Context, identity string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	switch m.state {
	case StateConnecting, StateConnected, StateReconnecting:
		m.mu.Unlock()
		return nil
	}

	m.identity = identity
	m.attempts = 0
	m.stopTimerLocked(&m.reconnectTimer)
	session := m.beginAttemptLocked()
	m.mu.Unlock()

	return m.attempt(ctx, session, identity)
}

// Disconnect closes the transport with a normal closure, cancels any pending reconnect or
// in-flight dial and leaves the manager Disconnected until Connect is called again.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.session++
	if m.cancelAttempt != nil {
		m.cancelAttempt()
		m.cancelAttempt = nil
	}
	m.stopTimerLocked(&m.reconnectTimer)
	m.stopTimerLocked(&m.reopenTimer)
	m.stopHeartbeatLocked()

	conn := m.conn
	m.conn = nil
	m.attempts = m.policy.MaxAttempts
	m.setStateLocked(StateDisconnected)

	if conn != nil {
		if err := conn.Close(CloseNormalClosure, reasonClientDisconnect); err != nil {
			m.logger.Debugf("close after disconnect: %s", err)
		}
	}
	m.mu.Unlock()

	m.logger.Infoln("disconnected on request")
	m.emit(EventDisconnected, DisconnectedPayload{Intentional: true, Reason: reasonClientDisconnect})
}

// Close disconnects and releases every listener. The manager cannot be reused.
func (m *ConnectionManager) Close() {
	m.Disconnect()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.emitter.Close()
}

// Send builds an envelope with a fresh id and timestamp. While Connected it is written
// immediately, otherwise it is queued and flushed in order on the next connection. Only
// unencodable data, a closed manager or a full queue under the reject policy yield an error.
// The immediate write holds the manager lock, so a stalled peer delays Send and every other
// call for at most Config.WriteTimeout before the connection is dropped.
func (m *ConnectionManager) Send(msgType string, data map[string]any) error {
	env := NewEnvelope(MessageType(msgType), data)
	frame, err := env.Encode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}

	if m.state != StateConnected {
		err = m.enqueueLocked(env)
		m.mu.Unlock()
		return err
	}

	if err = m.writeFrameLocked(env.Type, frame); err == nil {
		m.mu.Unlock()
		return nil
	}

	// The queue is empty while connected, so queueing before the teardown keeps order.
	qErr := m.enqueueLocked(env)
	events := m.dropConnectionLocked(err)
	m.mu.Unlock()

	m.emitAll(events)
	return qErr
}

// Subscribe adds channel to the subscription set. While Connected, a subscribe envelope is
// sent unless the channel was already a member.
func (m *ConnectionManager) Subscribe(channel string) {
	if channel == "" {
		m.logger.Warnln("ignoring subscribe with empty channel")
		return
	}

	m.mu.Lock()
	var events []pendingEvent
	if m.subs.Add(channel) && m.state == StateConnected {
		if err := m.writeLocked(subscribeEnvelope(channel)); err != nil {
			events = m.dropConnectionLocked(err)
		}
	}
	m.mu.Unlock()

	m.emitAll(events)
}

// Unsubscribe removes channel from the subscription set. While Connected, an unsubscribe
// envelope is sent if the channel was a member.
func (m *ConnectionManager) Unsubscribe(channel string) {
	m.mu.Lock()
	var events []pendingEvent
	if m.subs.Remove(channel) && m.state == StateConnected {
		if err := m.writeLocked(unsubscribeEnvelope(channel)); err != nil {
			events = m.dropConnectionLocked(err)
		}
	}
	m.mu.Unlock()

	m.emitAll(events)
}

func (m *ConnectionManager) On(event EventName, h Handler) ListenerID {
	return m.emitter.On(event, callback[any](h))
}

func (m *ConnectionManager) Off(event EventName, id ListenerID) {
	m.emitter.Off(event, id)
}

func (m *ConnectionManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		Connected:         m.state == StateConnected,
		State:             m.state,
		ReconnectAttempts: m.attempts,
		Subscriptions:     m.subs.All(),
		QueuedMessages:    m.queue.Size(),
	}
}

// attempt performs one dial for session. It must be called without holding mu.
func (m *ConnectionManager) attempt(ctx context.Context, session uint64, identity string) error {
	params, err := m.params.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrInvalidEndpoint) {
			m.mu.Lock()
			if m.session == session {
				m.setStateLocked(StateDisconnected)
			}
			m.mu.Unlock()
			return err
		}
		m.attemptFailed(session, err)
		return nil
	}

	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		return nil
	}
	m.cancelAttempt = cancel
	m.mu.Unlock()

	m.logger.Infof("connecting to %s", redactURL(params.URL))

	conn, err := m.dial(attemptCtx, params)

	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close(CloseNormalClosure, "superseded")
		}
		return nil
	}
	m.cancelAttempt = nil

	var events []pendingEvent
	if err != nil {
		events = m.attemptFailedLocked(err)
	} else {
		events = m.establishLocked(conn, session)
	}
	m.mu.Unlock()

	m.emitAll(events)
	return nil
}

// dial bounds Transport.Dial by ctx even when the transport ignores it. A connection that
// shows up after the deadline is closed.
func (m *ConnectionManager) dial(ctx context.Context, params OpenConnectionParams) (Connection, error) {
	results := make(chan dialResult, 1)
	go func() {
		conn, err := m.transport.Dial(ctx, params)
		results <- dialResult{conn: conn, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil && !errors.Is(r.err, ErrConnectTimeout) && (errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(r.err)) {
			r.err = errors.Wrap(ErrConnectTimeout, r.err.Error())
		}
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-results; r.conn != nil {
				_ = r.conn.Close(CloseNormalClosure, "connect abandoned")
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrapf(ErrConnectTimeout, "no answer within %s", m.cfg.ConnectTimeout)
		}
		return nil, errors.Wrap(ErrCannotConnect, ctx.Err().Error())
	}
}

func (m *ConnectionManager) attemptFailed(session uint64, err error) {
	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		return
	}
	events := m.attemptFailedLocked(err)
	m.mu.Unlock()

	m.emitAll(events)
}

func (m *ConnectionManager) attemptFailedLocked(err error) []pendingEvent {
	m.logger.Warnf("connect attempt failed: %s", err)
	m.setStateLocked(StateDisconnected)

	events := []pendingEvent{{name: EventError, payload: ErrorPayload{Err: err}}}
	return append(events, m.lossLocked(err)...)
}

// establishLocked runs the Connected entry sequence: heartbeat, subscription replay, queue
// flush. A write failure during the sequence tears the fresh connection down again.
func (m *ConnectionManager) establishLocked(conn Connection, session uint64) []pendingEvent {
	m.conn = conn
	m.setStateLocked(StateConnected)
	m.logger.Infoln("connected")

	hb := NewHeartbeatMonitor(
		m.logger,
		m.cfg.HeartbeatInterval,
		m.cfg.HeartbeatTimeout,
		func() error { return m.sendHeartbeat(session) },
		func(err error) { m.connectionLost(session, err) },
	)
	m.heartbeat = hb
	hb.Start()

	for _, channel := range m.subs.All() {
		if err := m.writeLocked(subscribeEnvelope(channel)); err != nil {
			return m.dropConnectionLocked(err)
		}
	}

	flushed, err := m.queue.DrainInto(m.writeLocked)
	m.metrics.setQueued(m.queue.Size())
	if err != nil {
		return m.dropConnectionLocked(err)
	}
	if flushed > 0 {
		m.logger.Infof("flushed %d queued message(s)", flushed)
	}

	m.attempts = 0
	m.metrics.incConnect()

	go m.readLoop(conn, session, hb)
	m.scheduleReopenLocked(session)

	return []pendingEvent{{name: EventConnected}}
}

// dropConnectionLocked handles the loss of an established connection.
func (m *ConnectionManager) dropConnectionLocked(cause error) []pendingEvent {
	m.session++
	m.stopHeartbeatLocked()
	m.stopTimerLocked(&m.reopenTimer)

	if m.conn != nil {
		_ = m.conn.Close(CloseGoingAway, "connection lost")
		m.conn = nil
	}
	m.setStateLocked(StateDisconnected)
	m.logger.Warnf("connection lost: %s", cause)

	events := []pendingEvent{
		{name: EventDisconnected, payload: DisconnectedPayload{Intentional: false, Reason: cause.Error()}},
		{name: EventError, payload: ErrorPayload{Err: cause}},
	}
	return append(events, m.lossLocked(cause)...)
}

// lossLocked either schedules the next reconnect attempt or, once attempts are exhausted,
// moves to Failed.
func (m *ConnectionManager) lossLocked(cause error) []pendingEvent {
	if !m.policy.Allow(m.attempts) {
		m.setStateLocked(StateFailed)
		m.logger.Errorf("giving up after %d reconnect attempt(s): %s", m.attempts, cause)

		payload := ErrorPayload{Err: errors.Wrap(ErrReconnectExhausted, cause.Error())}
		return []pendingEvent{
			{name: EventError, payload: payload},
			{name: EventReconnectExhausted, payload: payload},
		}
	}

	m.attempts++
	delay := m.policy.Delay(m.attempts)
	m.setStateLocked(StateReconnecting)
	m.metrics.incReconnect()
	m.logger.Infof("retrying to connect after %s (attempt %d/%d)", delay, m.attempts, m.policy.MaxAttempts)

	session := m.session
	m.stopTimerLocked(&m.reconnectTimer)
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.fireReconnect(session)
	})

	return []pendingEvent{{name: EventReconnecting, payload: ReconnectingPayload{Attempt: m.attempts, Delay: delay}}}
}

// fireReconnect runs when a reconnect timer expires. The timer may have lost a race with
// Disconnect or Connect, so the current state decides whether anything happens.
func (m *ConnectionManager) fireReconnect(session uint64) {
	m.mu.Lock()
	if m.closed || m.session != session || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	next := m.beginAttemptLocked()
	identity := m.identity
	m.mu.Unlock()

	_ = m.attempt(m.ctx, next, identity)
}

func (m *ConnectionManager) scheduleReopenLocked(session uint64) {
	if m.cfg.ReopenInterval <= 0 {
		return
	}
	m.stopTimerLocked(&m.reopenTimer)
	m.reopenTimer = time.AfterFunc(m.cfg.ReopenInterval, func() {
		m.reopen(session)
	})
}

// reopen recycles a healthy connection. It does not count as a failed attempt.
func (m *ConnectionManager) reopen(session uint64) {
	m.mu.Lock()
	if m.closed || m.session != session || m.state != StateConnected {
		m.mu.Unlock()
		return
	}

	m.logger.Infof("reopening connection after %s", m.cfg.ReopenInterval)
	m.reopenTimer = nil
	m.stopHeartbeatLocked()
	if m.conn != nil {
		_ = m.conn.Close(CloseNormalClosure, "reopen")
		m.conn = nil
	}
	m.setStateLocked(StateDisconnected)
	next := m.beginAttemptLocked()
	identity := m.identity
	m.mu.Unlock()

	m.emit(EventDisconnected, DisconnectedPayload{Intentional: false, Reason: "reopen interval"})
	_ = m.attempt(m.ctx, next, identity)
}

func (m *ConnectionManager) connectionLost(session uint64, cause error) {
	m.mu.Lock()
	if m.session != session || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	events := m.dropConnectionLocked(cause)
	m.mu.Unlock()

	m.emitAll(events)
}

func (m *ConnectionManager) sendHeartbeat(session uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != session || m.state != StateConnected {
		return nil
	}
	return m.writeLocked(heartbeatEnvelope())
}

func (m *ConnectionManager) readLoop(conn Connection, session uint64, hb *HeartbeatMonitor) {
	for {
		frame, err := conn.Read()
		if err != nil {
			m.connectionLost(session, err)
			return
		}
		hb.Touch()
		m.dispatch(frame)
	}
}

// dispatch routes one inbound frame. Malformed frames and unknown types never affect the
// connection.
func (m *ConnectionManager) dispatch(frame []byte) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		m.metrics.incMalformed()
		m.logger.Warnf("discarding inbound frame: %s", err)
		return
	}

	if env.Type == "" {
		m.metrics.incMalformed()
		m.logger.Warnf("unknown message type: discarding frame without type")
		return
	}

	if env.Type.IsHeartbeat() {
		m.metrics.incInbound(env.Type)
		m.logger.Debugln("<= [HEARTBEAT]")
		return
	}

	if env.Data == nil {
		env.Data = map[string]any{}
	}

	if name, ok := EventFor(env.Type); ok {
		m.metrics.incInbound(env.Type)
		m.emit(name, env.Data)
		return
	}

	m.metrics.incInbound("unknown")
	m.logger.Debugf("unknown message type %q, emitting as %s", env.Type, EventMessage)
	m.emit(EventMessage, env)
}

func (m *ConnectionManager) beginAttemptLocked() uint64 {
	m.session++
	m.setStateLocked(StateConnecting)
	return m.session
}

func (m *ConnectionManager) writeLocked(env Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		m.logger.Errorf("dropping unencodable envelope %s: %s", env.ID, err)
		return nil
	}
	return m.writeFrameLocked(env.Type, frame)
}

func (m *ConnectionManager) writeFrameLocked(mt MessageType, frame []byte) error {
	if m.conn == nil {
		return ErrConnectionClosed
	}
	if err := m.conn.Write(frame); err != nil {
		return err
	}
	m.metrics.incSent(mt)
	return nil
}

func (m *ConnectionManager) enqueueLocked(env Envelope) error {
	dropped, err := m.queue.Enqueue(env)
	if dropped != nil {
		m.metrics.incDropped()
		m.logger.Warnf("outbound queue full (%s), dropped %s", m.queue.policy, dropped)
	}
	m.metrics.setQueued(m.queue.Size())
	return err
}

func (m *ConnectionManager) setStateLocked(s ConnectionState) {
	if m.state != s {
		m.logger.Debugf("state %s -> %s", m.state, s)
	}
	m.state = s
	m.metrics.setState(s)
}

func (m *ConnectionManager) stopHeartbeatLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}

func (m *ConnectionManager) stopTimerLocked(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *ConnectionManager) emit(name EventName, payload any) {
	m.emitter.Emit(name, payload)
}

func (m *ConnectionManager) emitAll(events []pendingEvent) {
	for _, e := range events {
		m.emit(e.name, e.payload)
	}
}
