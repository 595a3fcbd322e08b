package push

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qaboard/internal/clock"
)

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once

	mu         sync.Mutex
	closeErr   error
	writes     [][]byte
	closeCodes []int
	writeErr   error
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.closeErr
	}
}

func (c *fakeConn) Write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), frame...))
	return nil
}

// Close is a local close: the reader sees the transport go away.
func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	c.closeCodes = append(c.closeCodes, code)
	c.mu.Unlock()
	c.finish(&CloseError{Code: CloseAbnormal, Err: errors.New("use of closed connection")})
	return nil
}

func (c *fakeConn) remoteClose(code int) {
	c.finish(&CloseError{Code: code})
}

func (c *fakeConn) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closeErr = err
		c.mu.Unlock()
		close(c.closed)
	})
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeConn) codes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.closeCodes...)
}

type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failNext int
	dials    int
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failNext > 0 {
		d.failNext--
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type fakeFallback struct {
	mu      sync.Mutex
	running bool
	starts  int
}

func (f *fakeFallback) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		f.starts++
	}
	f.running = true
}

func (f *fakeFallback) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeFallback) isRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

type recordingHandler struct {
	mu     sync.Mutex
	frames []string
}

func (h *recordingHandler) Route(frame []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, string(frame))
	return nil
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.frames...)
}

type harness struct {
	m        *Manager
	clk      *clock.Fake
	dialer   *fakeDialer
	fallback *fakeFallback
	handler  *recordingHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clk:      clock.NewFake(time.Time{}),
		dialer:   &fakeDialer{},
		fallback: &fakeFallback{},
		handler:  &recordingHandler{},
	}
	h.m = NewManager("ws://board.test/ws", h.handler,
		WithClock(h.clk),
		WithDialer(h.dialer),
		WithFallback(h.fallback),
	)
	t.Cleanup(h.m.Stop)
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.State() == want }, time.Second, 5*time.Millisecond,
		"state never reached %s", want)
}

func TestStartOpensChannel(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background()))
	assert.Equal(t, StateOpen, h.m.State())
	assert.False(t, h.fallback.isRunning())
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestFramesRoutedInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background()))
	c := h.dialer.conn(0)
	for _, f := range []string{"one", "two", "three"} {
		c.frames <- []byte(f)
	}
	require.Eventually(t, func() bool { return len(h.handler.seen()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, h.handler.seen())
}

func TestAbnormalCloseReconnectsAfterDelay(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background()))

	h.dialer.conn(0).remoteClose(CloseAbnormal)
	h.waitState(t, StateClosedError)
	assert.True(t, h.fallback.isRunning())
	assert.Equal(t, 1, h.clk.Pending())

	h.clk.Advance(2999 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.dialCount())

	h.clk.Advance(time.Millisecond)
	assert.Equal(t, 2, h.dialer.dialCount())
	assert.Equal(t, StateOpen, h.m.State())
	assert.False(t, h.fallback.isRunning())
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background()))

	h.dialer.conn(0).remoteClose(CloseNormal)
	h.waitState(t, StateClosedClean)
	assert.Zero(t, h.clk.Pending())

	h.clk.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())
	assert.True(t, h.fallback.isRunning())
}

func TestRemoteCloseReleasesConnection(t *testing.T) {
	for _, code := range []int{CloseNormal, 1001, CloseAbnormal} {
		h := newHarness(t)
		require.NoError(t, h.m.Start(context.Background()))
		c := h.dialer.conn(0)

		c.remoteClose(code)
		require.Eventually(t, func() bool { return len(c.codes()) == 1 }, time.Second, 5*time.Millisecond,
			"connection closed with %d was never released", code)
		assert.NotEqual(t, StateOpen, h.m.State())
	}
}

func TestStopClosesNormallyAndCancelsTimers(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background()))
	c := h.dialer.conn(0)

	h.m.Stop()
	assert.Equal(t, []int{CloseNormal}, c.codes())
	assert.Equal(t, StateClosedClean, h.m.State())
	assert.Zero(t, h.clk.Pending())
	assert.False(t, h.fallback.isRunning())

	h.clk.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())
	assert.ErrorIs(t, h.m.Connect(context.Background()), ErrStopped)
}

func TestKeepalivePingsWhileOpen(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background()))
	c := h.dialer.conn(0)

	h.clk.Advance(29 * time.Second)
	assert.Zero(t, c.writeCount())
	h.clk.Advance(time.Second)
	assert.Equal(t, 1, c.writeCount())
	h.clk.Advance(30 * time.Second)
	assert.Equal(t, 2, c.writeCount())
	assert.JSONEq(t, `{"type":"ping"}`, string(c.writes[0]))
}

func TestKeepaliveFailureTriggersReconnect(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background()))
	c := h.dialer.conn(0)
	c.mu.Lock()
	c.writeErr = errors.New("broken pipe")
	c.mu.Unlock()

	h.clk.Advance(30 * time.Second)
	h.waitState(t, StateClosedError)
	assert.Equal(t, 1, h.clk.Pending())
}

func TestDialFailureKeepsOneReconnectPending(t *testing.T) {
	h := newHarness(t)
	h.dialer.failNext = 2

	require.Error(t, h.m.Start(context.Background()))
	assert.Equal(t, StateClosedError, h.m.State())
	assert.True(t, h.fallback.isRunning())
	assert.Equal(t, 1, h.clk.Pending())

	h.clk.Advance(3 * time.Second)
	assert.Equal(t, 2, h.dialer.dialCount())
	assert.Equal(t, StateClosedError, h.m.State())
	assert.Equal(t, 1, h.clk.Pending())

	h.clk.Advance(3 * time.Second)
	assert.Equal(t, StateOpen, h.m.State())
	assert.False(t, h.fallback.isRunning())
	assert.Equal(t, 1, h.fallback.starts)
}

func TestConnectReplacesChannelWithoutReconnect(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background()))
	first := h.dialer.conn(0)

	require.NoError(t, h.m.Connect(context.Background()))
	assert.Equal(t, []int{CloseNormal}, first.codes())

	assert.Never(t, func() bool { return h.m.State() != StateOpen }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 1, h.clk.Pending())
	assert.Equal(t, 2, h.dialer.dialCount())
}

func TestRoutesFramesFromReplacementChannel(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background()))
	require.NoError(t, h.m.Connect(context.Background()))

	second := h.dialer.conn(1)
	second.frames <- []byte("fresh")
	require.Eventually(t, func() bool { return len(h.handler.seen()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"fresh"}, h.handler.seen())
}

func TestStateListenerSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []State
	clk := clock.NewFake(time.Time{})
	d := &fakeDialer{}
	m := NewManager("ws://x/ws", &recordingHandler{}, WithClock(clk), WithDialer(d),
		WithStateListener(func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}))
	require.NoError(t, m.Start(context.Background()))
	m.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateOpen, StateClosedClean}, states)
}
