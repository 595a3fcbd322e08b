// Package push keeps the websocket push channel alive and routes its frames
// into the board store.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"qaboard/internal/clock"
	"qaboard/internal/logging"
	"qaboard/internal/metrics"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosedClean
	StateClosedError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosedClean:
		return "closed"
	case StateClosedError:
		return "closed_error"
	}
	return "unknown"
}

var ErrStopped = errors.New("push: manager stopped")

type FrameHandler interface {
	Route(frame []byte) error
}

// Fallback is started while no push channel is open. Start and Stop must
// be idempotent and must not block.
type Fallback interface {
	Start()
	Stop()
}

var pingFrame = []byte(`{"type":"ping"}`)

type Manager struct {
	url            string
	dialer         Dialer
	handler        FrameHandler
	fallback       Fallback
	clock          clock.Clock
	reconnectDelay time.Duration
	keepaliveEvery time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	listener       func(State)

	fbMu sync.Mutex

	mu        sync.Mutex
	ctx       context.Context
	state     State
	conn      Conn
	gen       uint64
	keepalive clock.Timer
	reconnect clock.Timer
	polling   bool
	stopped   bool
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = clock.OrReal(c) }
}

func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.reconnectDelay = d
		}
	}
}

func WithKeepalive(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.keepaliveEvery = d
		}
	}
}

func WithFallback(f Fallback) Option {
	return func(m *Manager) { m.fallback = f }
}

func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrDiscard(l) }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithStateListener registers fn for every state transition. It is called
// with the manager's lock held, so it must not block or call back in.
func WithStateListener(fn func(State)) Option {
	return func(m *Manager) { m.listener = fn }
}

func NewManager(url string, handler FrameHandler, opts ...Option) *Manager {
	m := &Manager{
		url:            url,
		dialer:         WebsocketDialer{Dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}},
		handler:        handler,
		clock:          clock.Real{},
		reconnectDelay: 3 * time.Second,
		keepaliveEvery: 30 * time.Second,
		logger:         logging.Discard(),
		ctx:            context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start clears a previous Stop and opens the channel. A failed dial is
// returned but a reconnect is already scheduled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = false
	m.ctx = ctx
	m.mu.Unlock()
	return m.Connect(ctx)
}

// Connect opens a new channel, closing any current one first. Frames from
// the replaced connection are no longer routed and its close does not
// trigger a reconnect.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	m.stopKeepaliveLocked()
	old := m.conn
	m.conn = nil
	m.gen++
	gen := m.gen
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if old != nil {
		_ = old.Close(CloseNormal, "reconnecting")
	}

	conn, err := m.dialer.Dial(ctx, m.url)

	m.mu.Lock()
	if gen != m.gen || m.stopped {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close(CloseNormal, "superseded")
		}
		if m.isStopped() {
			return ErrStopped
		}
		return nil
	}
	if err != nil {
		m.logger.Warn("push dial failed", "url", m.url, "err", err)
		m.closedLocked(CloseAbnormal)
		m.mu.Unlock()
		m.syncFallback()
		return fmt.Errorf("dial %s: %w", m.url, err)
	}
	m.conn = conn
	m.polling = false
	m.setStateLocked(StateOpen)
	m.scheduleKeepaliveLocked(gen, conn)
	m.mu.Unlock()

	m.logger.Info("push channel open", "url", m.url)
	m.syncFallback()
	go m.readLoop(gen, conn)
	return nil
}

// Stop closes the channel with a normal close code and cancels every timer.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.gen++
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	m.stopKeepaliveLocked()
	conn := m.conn
	m.conn = nil
	m.polling = false
	m.setStateLocked(StateClosedClean)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close(CloseNormal, "client closing")
	}
	m.syncFallback()
}

func (m *Manager) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		frame, err := conn.Read()
		if err != nil {
			m.handleClose(gen, conn, err)
			return
		}
		_ = m.handler.Route(frame)
	}
}

// handleClose releases conn after its read side failed. Connections replaced
// by Connect or Stop were already closed there.
func (m *Manager) handleClose(gen uint64, conn Conn, err error) {
	m.mu.Lock()
	if gen != m.gen || m.stopped {
		m.mu.Unlock()
		return
	}
	code := closeCode(err)
	m.logger.Info("push channel closed", "code", code, "err", err)
	m.closedLocked(code)
	m.mu.Unlock()
	_ = conn.Close(CloseNormal, "")
	m.syncFallback()
}

// closedLocked records a close. Only a normal close skips the reconnect;
// either way the fallback runs until a channel is open again.
func (m *Manager) closedLocked(code int) {
	m.conn = nil
	m.stopKeepaliveLocked()
	m.polling = true
	if code == CloseNormal {
		m.setStateLocked(StateClosedClean)
		return
	}
	m.setStateLocked(StateClosedError)
	if m.reconnect != nil {
		return
	}
	ctx := m.ctx
	var t clock.Timer
	t = m.clock.AfterFunc(m.reconnectDelay, func() {
		m.mu.Lock()
		if m.reconnect != t {
			m.mu.Unlock()
			return
		}
		m.reconnect = nil
		m.mu.Unlock()
		if err := m.Connect(ctx); err != nil && !errors.Is(err, ErrStopped) {
			m.logger.Warn("push reconnect failed", "err", err)
		}
	})
	m.reconnect = t
	m.metrics.ReconnectScheduled()
	m.logger.Warn("push reconnect scheduled", "delay", m.reconnectDelay)
}

func (m *Manager) scheduleKeepaliveLocked(gen uint64, conn Conn) {
	m.keepalive = m.clock.AfterFunc(m.keepaliveEvery, func() { m.ping(gen, conn) })
}

func (m *Manager) stopKeepaliveLocked() {
	if m.keepalive != nil {
		m.keepalive.Stop()
		m.keepalive = nil
	}
}

func (m *Manager) ping(gen uint64, conn Conn) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateOpen {
		m.mu.Unlock()
		return
	}
	m.keepalive = nil
	m.mu.Unlock()

	if err := conn.Write(pingFrame); err != nil {
		m.logger.Warn("push keepalive failed", "err", err)
		_ = conn.Close(websocket.CloseGoingAway, "keepalive failed")
		return
	}

	m.mu.Lock()
	if gen == m.gen && m.state == StateOpen && m.keepalive == nil {
		m.scheduleKeepaliveLocked(gen, conn)
	}
	m.mu.Unlock()
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.metrics.ConnectionState(int(s))
	if m.listener != nil {
		m.listener(s)
	}
}

// syncFallback applies the latest wanted polling state. Serialising it
// keeps a late Start from outliving a newer Stop.
func (m *Manager) syncFallback() {
	if m.fallback == nil {
		return
	}
	m.fbMu.Lock()
	defer m.fbMu.Unlock()
	m.mu.Lock()
	want := m.polling
	m.mu.Unlock()
	if want {
		m.fallback.Start()
	} else {
		m.fallback.Stop()
	}
}
