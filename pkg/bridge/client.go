package bridge

import (
	"sync"
)

// ClientKind distinguishes which protocol a client connection speaks.
type ClientKind int

const (
	KindBROP ClientKind = iota
	KindCDP
)

// CDPRole distinguishes a CDP client's WebSocket upgrade path.
type CDPRole int

const (
	RoleBrowserLevel CDPRole = iota
	RoleSessionBound
)

// Client represents one external peer connection: a BROP client or a
// CDP client, browser-level or session-bound. Outbound frames are pushed
// onto Outbox by the engine's dispatch loop; the connection's own
// writer goroutine drains it onto the wire, giving the engine a bounded,
// non-blocking send path: a full Outbox closes the client rather than
// stalling fan-out.
type Client struct {
	ID    string
	Label string
	Kind  ClientKind
	Role  CDPRole

	// Outbox is the bounded per-client send channel. The engine never
	// blocks writing to it: Enqueue uses a non-blocking select.
	Outbox chan any

	mu            sync.Mutex
	subscriptions map[string]struct{} // BROP tab subscriptions, keyed by tabId
	discoverFlag  bool                // Target.setDiscoverTargets state
	autoAttach    bool                // Target.setAutoAttach state

	closeOnce sync.Once
	closed    chan struct{}
}

const clientOutboxSize = 64

// NewClient constructs a client connection record.
func NewClient(id, label string, kind ClientKind) *Client {
	return &Client{
		ID:            id,
		Label:         label,
		Kind:          kind,
		Outbox:        make(chan any, clientOutboxSize),
		subscriptions: make(map[string]struct{}),
		closed:        make(chan struct{}),
	}
}

// Enqueue pushes a frame onto the client's outbox, closing the client
// instead of blocking if the outbox is full.
func (c *Client) Enqueue(frame any) bool {
	select {
	case c.Outbox <- frame:
		return true
	default:
		c.Close()
		return false
	}
}

// Close marks the client closed and closes its outbox's consuming signal.
// Safe to call multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once Close has been called,
// usable directly in a select alongside reads from Outbox.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Subscribe adds tabID to this client's BROP tab-event subscription set.
// Idempotent: subscribing twice does not multiply delivery.
func (c *Client) Subscribe(tabID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[tabID] = struct{}{}
}

// Unsubscribe removes tabID from the subscription set. A no-op for a
// non-member tab; callers should still treat it as success.
func (c *Client) Unsubscribe(tabID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, tabID)
}

// SubscribedTo reports whether this client is subscribed to tabID.
func (c *Client) SubscribedTo(tabID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[tabID]
	return ok
}

// SetDiscoverTargets records the Target.setDiscoverTargets flag.
func (c *Client) SetDiscoverTargets(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoverFlag = v
}

// SetAutoAttach records the Target.setAutoAttach flag.
func (c *Client) SetAutoAttach(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoAttach = v
}

// ClientRegistry tracks every connected client by id, used by the engine to
// route responses and events and to clean up on disconnect.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientRegistry constructs an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client)}
}

func (cr *ClientRegistry) Add(c *Client) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.clients[c.ID] = c
}

func (cr *ClientRegistry) Remove(id string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	delete(cr.clients, id)
}

func (cr *ClientRegistry) Get(id string) (*Client, bool) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	c, ok := cr.clients[id]
	return c, ok
}

// BrowserLevelClients returns every connected CDP browser-level client.
func (cr *ClientRegistry) BrowserLevelClients() []*Client {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	var out []*Client
	for _, c := range cr.clients {
		if c.Kind == KindCDP && c.Role == RoleBrowserLevel {
			out = append(out, c)
		}
	}
	return out
}

// BROPClients returns every connected BROP client.
func (cr *ClientRegistry) BROPClients() []*Client {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	var out []*Client
	for _, c := range cr.clients {
		if c.Kind == KindBROP {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of connected clients, for get_server_status.
func (cr *ClientRegistry) Count() int {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	return len(cr.clients)
}
