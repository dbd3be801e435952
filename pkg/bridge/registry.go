package bridge

import (
	"sync"
	"time"
)

// PendingRequest is one outstanding request forwarded to the extension.
// It is mutated only by the Registry that owns it.
type PendingRequest struct {
	RequestID      string
	OriginClientID string
	ClientKind     ClientKind
	Method         string
	SessionID      string
	Deadline       time.Time
	timer          *time.Timer

	// ClientMessageID is the id the originating client used on its own
	// wire, echoed back verbatim once the extension responds. RequestID
	// (the registry key and the id sent upstream) is a separate,
	// process-unique value so two clients that happen to choose the same
	// client-facing id never collide in the registry.
	ClientMessageID *MessageID

	// KeepAcrossReconnect, when set, survives an extension disconnect
	// instead of failing fast with transport-lost. Target.createTarget
	// is not marked this way: it is explicitly a tracked, fail-fast request.
	KeepAcrossReconnect bool
}

// Registry correlates requestIds to their originating client connection.
// Registration is atomic with the send that creates it;
// a timeout removes its entry and invokes onTimeout exactly once for it,
// while client and extension disconnects remove entries and return them
// to the caller (CancelClient, CancelNonSurviving).
type Registry struct {
	mu       sync.Mutex
	pending  map[string]*PendingRequest
	onTimeout func(*PendingRequest)
}

// NewRegistry constructs an empty registry. onTimeout is invoked (off the
// registry's lock) whenever an entry's deadline fires before it is
// resolved.
func NewRegistry(onTimeout func(*PendingRequest)) *Registry {
	return &Registry{
		pending:   make(map[string]*PendingRequest),
		onTimeout: onTimeout,
	}
}

// Register adds a pending request with the given deadline, starting its
// timeout timer. A requestId appearing at most once in the registry is
// enforced by the caller always minting fresh ids per request.
func (r *Registry) Register(req *PendingRequest, timeout time.Duration) {
	req.Deadline = time.Now().Add(timeout)
	r.mu.Lock()
	r.pending[req.RequestID] = req
	r.mu.Unlock()

	req.timer = time.AfterFunc(timeout, func() {
		removed := r.remove(req.RequestID)
		if removed != nil && r.onTimeout != nil {
			r.onTimeout(removed)
		}
	})
}

// Resolve looks up and removes the pending request for requestId, stopping
// its timer. The second return value is false if no such request exists
// (already resolved, timed out, or never registered).
func (r *Registry) Resolve(requestID string) (*PendingRequest, bool) {
	req := r.remove(requestID)
	return req, req != nil
}

func (r *Registry) remove(requestID string) *PendingRequest {
	r.mu.Lock()
	req, ok := r.pending[requestID]
	if ok {
		delete(r.pending, requestID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if req.timer != nil {
		req.timer.Stop()
	}
	return req
}

// CancelClient removes and returns every pending request owned by
// clientID, stopping their timers. Used on client disconnect.
func (r *Registry) CancelClient(clientID string) []*PendingRequest {
	r.mu.Lock()
	var owned []*PendingRequest
	for id, req := range r.pending {
		if req.OriginClientID == clientID {
			owned = append(owned, req)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, req := range owned {
		if req.timer != nil {
			req.timer.Stop()
		}
	}
	return owned
}

// CancelNonSurviving removes and returns every pending request that is not
// marked KeepAcrossReconnect, used when the extension disconnects.
func (r *Registry) CancelNonSurviving() []*PendingRequest {
	r.mu.Lock()
	var dropped []*PendingRequest
	for id, req := range r.pending {
		if !req.KeepAcrossReconnect {
			dropped = append(dropped, req)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, req := range dropped {
		if req.timer != nil {
			req.timer.Stop()
		}
	}
	return dropped
}

// Len reports the number of outstanding requests, mainly for tests and the
// get_server_status metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
