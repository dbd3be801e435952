package bridge

import (
	"sync"
	"time"
)

// Target is a page known to have been created through the bridge. It
// is written only by the engine's single dispatch loop; TargetTable's
// mutex exists so get_server_status and discovery HTTP handlers can read
// concurrently without round-tripping through that loop.
type Target struct {
	TargetID         string
	BrowserContextID string
	OwnerClientID    string
	CreatedAt        time.Time
	Sessions         map[string]struct{}
}

// Session is a logical CDP sub-channel on top of a client connection.
type Session struct {
	SessionID string
	TargetID  string
	ClientID  string
	CreatedAt time.Time
}

// TargetTable owns the target and session indices as one table per
// concept rather than several ad-hoc maps. All mutating methods are
// intended to be called only from the engine's dispatch loop; the mutex
// exists purely so discovery/status reads never race with it.
type TargetTable struct {
	mu       sync.RWMutex
	targets  map[string]*Target
	sessions map[string]*Session
}

// NewTargetTable constructs an empty table.
func NewTargetTable() *TargetTable {
	return &TargetTable{
		targets:  make(map[string]*Target),
		sessions: make(map[string]*Session),
	}
}

// CreateTarget records a newly created target, owned by clientID.
func (tt *TargetTable) CreateTarget(targetID, browserContextID, clientID string) *Target {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	t := &Target{
		TargetID:         targetID,
		BrowserContextID: browserContextID,
		OwnerClientID:    clientID,
		CreatedAt:        time.Now(),
		Sessions:         make(map[string]struct{}),
	}
	tt.targets[targetID] = t
	return t
}

// Target looks up a target by id.
func (tt *TargetTable) Target(targetID string) (*Target, bool) {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	t, ok := tt.targets[targetID]
	return t, ok
}

// ActiveTarget returns an arbitrary target, used when Target.getTargetInfo
// is called with no targetId to pick the active tab. With no targets,
// returns false.
func (tt *TargetTable) ActiveTarget() (*Target, bool) {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	for _, t := range tt.targets {
		return t, true
	}
	return nil, false
}

// RegisterSession creates a session bound to targetID and clientID,
// recording it on both the session index and the owning target.
func (tt *TargetTable) RegisterSession(sessionID, targetID, clientID string) *Session {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	s := &Session{SessionID: sessionID, TargetID: targetID, ClientID: clientID, CreatedAt: time.Now()}
	tt.sessions[sessionID] = s
	if t, ok := tt.targets[targetID]; ok {
		t.Sessions[sessionID] = struct{}{}
	}
	return s
}

// Session looks up a session by id. Every sessionId advertised to a
// client must resolve here with a non-zero owner.
func (tt *TargetTable) Session(sessionID string) (*Session, bool) {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	s, ok := tt.sessions[sessionID]
	return s, ok
}

// RemoveTarget deletes a target and every session bound to it, used on
// Target.detachedFromTarget or owning-client disconnect.
func (tt *TargetTable) RemoveTarget(targetID string) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	t, ok := tt.targets[targetID]
	if !ok {
		return
	}
	for sid := range t.Sessions {
		delete(tt.sessions, sid)
	}
	delete(tt.targets, targetID)
}

// RemoveClientSessions removes every session owned by clientID, leaving
// the underlying targets in place (they remain owned by the process; the
// default policy, applied by the engine, is to drop them separately on
// disconnect).
func (tt *TargetTable) RemoveClientSessions(clientID string) []*Session {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	var removed []*Session
	for sid, s := range tt.sessions {
		if s.ClientID == clientID {
			removed = append(removed, s)
			delete(tt.sessions, sid)
			if t, ok := tt.targets[s.TargetID]; ok {
				delete(t.Sessions, sid)
			}
		}
	}
	return removed
}

// TargetsOwnedBy returns every target owned by clientID.
func (tt *TargetTable) TargetsOwnedBy(clientID string) []*Target {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	var owned []*Target
	for _, t := range tt.targets {
		if t.OwnerClientID == clientID {
			owned = append(owned, t)
		}
	}
	return owned
}

// ListTargets returns a snapshot of every known target, used by discovery.
func (tt *TargetTable) ListTargets() []*Target {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	out := make([]*Target, 0, len(tt.targets))
	for _, t := range tt.targets {
		out = append(out, t)
	}
	return out
}

// Count returns the number of known targets, for get_server_status.
func (tt *TargetTable) Count() int {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return len(tt.targets)
}
