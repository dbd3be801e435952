package bridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	bridgelog "github.com/rubiojr/cdpbridge/pkg/log"
)

var transportLogger = bridgelog.ForService("transport")

// Transport wraps a single gorilla/websocket connection with JSON framing,
// ping/pong keepalive, and close detection. It is the thin
// layer every connection kind (extension, BROP client, CDP client) is built
// on top of.
//
// send is safe for concurrent use; Receive is not (it owns the single read
// loop, matching gorilla/websocket's one-reader requirement).
type Transport struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// NewTransport wraps an already-upgraded websocket connection.
func NewTransport(conn *websocket.Conn) *Transport {
	t := &Transport{conn: conn, closed: make(chan struct{})}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return t
}

const (
	pingInterval = 10 * time.Second
	pongWait     = 30 * time.Second
)

// Send serializes v as JSON and writes it as one text frame. It returns
// ErrTransportClosed if the transport has already been closed.
func (t *Transport) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}

	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return nil
}

// Receive blocks until one text frame arrives, the peer closes, or an error
// occurs. The returned bool is false once the stream is finished; callers
// should stop calling Receive at that point, since it is not restartable.
func (t *Transport) Receive() ([]byte, bool) {
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Keepalive runs a background ping loop until the transport is closed. It
// should be started in its own goroutine once per transport.
func (t *Transport) Keepalive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			_ = t.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := t.conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				transportLogger.Record("error", "transport", "ping", t.conn.RemoteAddr().String(), err.Error())
				return
			}
		}
	}
}

// Close closes the underlying connection. Safe to call multiple times and
// from any goroutine.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

