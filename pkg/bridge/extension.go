package bridge

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	bridgelog "github.com/rubiojr/cdpbridge/pkg/log"
)

var conduitLogger = bridgelog.ForService("conduit")

// ConduitState is the extension conduit's connection state machine:
// Disconnected -> Connecting -> Connected -> Disconnected.
type ConduitState int

const (
	StateDisconnected ConduitState = iota
	StateConnecting
	StateConnected
)

// ExtensionCommand is a command sent upstream to the extension.
type ExtensionCommand struct {
	Type      string          `json:"type"` // "brop_command" | "cdp_command"
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
}

// ExtensionResponse is a response frame received from the extension.
type ExtensionResponse struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// ExtensionEvent is an asynchronous event frame received from the
// extension, either a BROP-style tab event or a CDP-style event.
type ExtensionEvent struct {
	Type      string          `json:"type"` // "event" | "cdp_event"
	EventType string          `json:"event_type,omitempty"`
	TabID     json.RawMessage `json:"tabId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// extensionEnvelope is used only to sniff the "type" discriminator before
// decoding into the concrete shape.
type extensionEnvelope struct {
	Type string `json:"type"`
}

// Conduit owns the single upstream extension connection. Exactly zero or
// one extension is attached at any time; a new connection replaces
// whatever was there rather than being rejected, since only one extension
// instance is ever expected to be live.
type Conduit struct {
	mu        sync.RWMutex
	transport *Transport
	state     ConduitState

	onConnect    func()
	onDisconnect func()

	upgrader websocket.Upgrader
}

// NewConduit constructs a disconnected conduit. onConnect/onDisconnect are
// invoked (off the internal lock) on each transition, letting the engine
// drain the command queue and cancel inflight requests respectively.
func NewConduit(onConnect, onDisconnect func()) *Conduit {
	return &Conduit{
		state:        StateDisconnected,
		onConnect:    onConnect,
		onDisconnect: onDisconnect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP accepts the extension's WebSocket connection and runs its read
// loop until disconnect. Intended to be the handler for the dedicated
// extension port (default 9224).
func (c *Conduit) ServeHTTP(w http.ResponseWriter, r *http.Request, onFrame func([]byte)) {
	c.mu.Lock()
	if c.transport == nil {
		c.state = StateConnecting
	}
	c.mu.Unlock()

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.mu.Lock()
		if c.transport == nil {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		conduitLogger.Record("error", "extension", "upgrade", r.RemoteAddr, err.Error())
		return
	}

	t := NewTransport(conn)

	c.mu.Lock()
	prev := c.transport
	c.transport = t
	c.state = StateConnected
	c.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	conduitLogger.Record("ok", "extension", "connected", r.RemoteAddr, "")
	if c.onConnect != nil {
		c.onConnect()
	}

	go t.Keepalive()

	for {
		data, ok := t.Receive()
		if !ok {
			break
		}
		onFrame(data)
	}

	c.mu.Lock()
	if c.transport == t {
		c.transport = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	_ = t.Close()

	conduitLogger.Record("ok", "extension", "disconnected", r.RemoteAddr, "")
	if c.onDisconnect != nil {
		c.onDisconnect()
	}
}

// Connected reports whether an extension is currently attached.
func (c *Conduit) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateConnected
}

// Submit sends a command upstream. Returns ErrExtensionOffline if no
// extension is attached.
func (c *Conduit) Submit(cmd ExtensionCommand) error {
	c.mu.RLock()
	t := c.transport
	c.mu.RUnlock()
	if t == nil {
		return ErrExtensionOffline
	}
	if err := t.Send(cmd); err != nil {
		return err
	}
	return nil
}

// sniffType returns the "type" discriminator of an upstream frame without
// fully decoding it, so the engine's dispatch loop can route to the
// correct concrete decoder.
func sniffType(data []byte) string {
	var env extensionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	return env.Type
}
