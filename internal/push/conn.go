package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	CloseNormal   = websocket.CloseNormalClosure
	CloseAbnormal = websocket.CloseAbnormalClosure
)

// CloseError reports how a connection ended. Code is CloseAbnormal when
// the transport failed without a close frame.
type CloseError struct {
	Code int
	Text string
	Err  error
}

func (e *CloseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("closed %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("closed %d %s", e.Code, e.Text)
}

func (e *CloseError) Unwrap() error { return e.Err }

func closeCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormal
}

type Conn interface {
	// Read blocks for the next text frame. It returns a *CloseError once
	// the connection is gone.
	Read() ([]byte, error)
	Write(frame []byte) error
	Close(code int, reason string) error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c   *websocket.Conn
	wmu sync.Mutex
}

func (w *wsConn) Read() ([]byte, error) {
	for {
		msgType, data, err := w.c.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, &CloseError{Code: ce.Code, Text: ce.Text}
			}
			return nil, &CloseError{Code: CloseAbnormal, Err: err}
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w *wsConn) Write(frame []byte) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, frame)
}

func (w *wsConn) Close(code int, reason string) error {
	w.wmu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = w.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	w.wmu.Unlock()
	return w.c.Close()
}
