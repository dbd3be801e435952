package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SessionManager owns target/session lifecycle: synthetic CDP method
// handling, the Target.createTarget critical path, and suppression of duplicate
// extension-sourced attach events. Every method here runs on the engine's
// single dispatch goroutine; it owns no independent locking.
type SessionManager struct {
	targets *TargetTable
	version BrowserVersion

	// emittedAttach marks targetIds for which the bridge has already sent
	// a synthetic Target.attachedToTarget, so the corresponding
	// extension-sourced event can be suppressed.
	emittedAttach map[string]struct{}

	forwardUntrackedAttach bool
}

// BrowserVersion is the fixed browser-identification object used for both
// GET /json/version and the Browser.getVersion synthetic method.
// Its shape mimics a real modern Chrome build because at least one
// downstream client refuses to attach otherwise.
type BrowserVersion struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	V8Version            string `json:"V8-Version"`
	WebKitVersion        string `json:"WebKit-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// NewSessionManager constructs a session manager backed by targets.
// wsDebuggerURL is the browser-level WebSocket URL advertised in
// Browser.getVersion / GET /json/version.
func NewSessionManager(targets *TargetTable, wsDebuggerURL string, forwardUntrackedAttach bool) *SessionManager {
	return &SessionManager{
		targets: targets,
		version: BrowserVersion{
			Browser:              "Chrome/124.0.6367.91",
			ProtocolVersion:      "1.3",
			UserAgent:            "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.6367.91 Safari/537.36",
			V8Version:            "12.4.254.14",
			WebKitVersion:        "537.36 (@0000000000000000000000000000000000000000)",
			WebSocketDebuggerURL: wsDebuggerURL,
		},
		emittedAttach:          make(map[string]struct{}),
		forwardUntrackedAttach: forwardUntrackedAttach,
	}
}

// Version returns the fixed browser version object.
func (sm *SessionManager) Version() BrowserVersion {
	return sm.version
}

// syntheticMethods is the fixed set of CDP methods the bridge answers
// itself without consulting the extension.
var syntheticMethods = map[string]bool{
	"Browser.getVersion":        true,
	"Target.getBrowserContexts": true,
	"Target.setDiscoverTargets": true,
	"Target.setAutoAttach":      true,
	"Target.getTargetInfo":      true,
	"Target.attachToTarget":     true,
	"Runtime.enable":            true,
	"Page.enable":               true,
}

// IsSynthetic reports whether method is handled locally.
func IsSynthetic(method string) bool {
	return syntheticMethods[method]
}

// HandleSynthetic answers a synthetic method for the given client, mutating
// the target/session tables and client flags as needed. It returns the
// result payload to send back as {id, result}, plus any extra frames
// (events) that must follow it on the same connection, in order.
func (sm *SessionManager) HandleSynthetic(client *Client, method string, params json.RawMessage) (result any, events []CDPFrame, err error) {
	switch method {
	case "Browser.getVersion":
		return sm.version, nil, nil

	case "Target.getBrowserContexts":
		return map[string]any{"browserContextIds": []string{"default"}}, nil, nil

	case "Target.setDiscoverTargets":
		var p struct {
			Discover bool `json:"discover"`
		}
		_ = json.Unmarshal(params, &p)
		client.SetDiscoverTargets(p.Discover)
		return map[string]any{}, nil, nil

	case "Target.setAutoAttach":
		var p struct {
			AutoAttach bool `json:"autoAttach"`
		}
		_ = json.Unmarshal(params, &p)
		client.SetAutoAttach(p.AutoAttach)
		return map[string]any{}, nil, nil

	case "Target.getTargetInfo":
		var p struct {
			TargetID string `json:"targetId"`
		}
		_ = json.Unmarshal(params, &p)
		var t *Target
		var ok bool
		if p.TargetID != "" {
			t, ok = sm.targets.Target(p.TargetID)
		} else {
			t, ok = sm.targets.ActiveTarget()
		}
		if !ok {
			return map[string]any{}, nil, nil
		}
		return map[string]any{"targetInfo": targetInfo(t)}, nil, nil

	case "Target.attachToTarget":
		var p struct {
			TargetID string `json:"targetId"`
		}
		if err := json.Unmarshal(params, &p); err != nil || p.TargetID == "" {
			return nil, nil, fmt.Errorf("%w: missing targetId", ErrParse)
		}
		t, ok := sm.targets.Target(p.TargetID)
		if !ok {
			return nil, nil, fmt.Errorf("%w: unknown targetId %q", ErrParse, p.TargetID)
		}
		sessionID := newSessionID()
		sm.targets.RegisterSession(sessionID, t.TargetID, client.ID)
		sm.emittedAttach[t.TargetID] = struct{}{}

		attachParams, _ := json.Marshal(map[string]any{
			"sessionId":          sessionID,
			"targetInfo":         targetInfo(t),
			"waitingForDebugger": false,
		})
		event := CDPFrame{Method: "Target.attachedToTarget", Params: attachParams}
		return map[string]any{"sessionId": sessionID}, []CDPFrame{event}, nil

	case "Runtime.enable", "Page.enable":
		return map[string]any{}, nil, nil
	}

	return nil, nil, fmt.Errorf("%w: %s is not a synthetic method", ErrUnknownMethod, method)
}

// CompleteTargetCreation executes the target-creation critical path: given a
// successful Target.createTarget response from the extension, it records
// the target, allocates a session, and returns the response frame plus the
// three ordered events the caller must send, in order, on the originating
// client connection only.
func (sm *SessionManager) CompleteTargetCreation(id *MessageID, clientID, targetID, browserContextID, url string) (response CDPFrame, events []CDPFrame, sessionID string) {
	t := sm.targets.CreateTarget(targetID, browserContextID, clientID)
	sessionID = newSessionID()
	sm.targets.RegisterSession(sessionID, targetID, clientID)

	result, _ := json.Marshal(map[string]any{"targetId": targetID})
	response = CDPFrame{ID: id, Result: result}

	info := targetInfo(t)
	info["url"] = url

	createdParams, _ := json.Marshal(map[string]any{"targetInfo": mergedInfo(info, false)})
	changedParams, _ := json.Marshal(map[string]any{"targetInfo": mergedInfo(info, true)})
	attachedParams, _ := json.Marshal(map[string]any{
		"sessionId":          sessionID,
		"targetInfo":         mergedInfo(info, true),
		"waitingForDebugger": false,
	})

	events = []CDPFrame{
		{Method: "Target.targetCreated", Params: createdParams},
		{Method: "Target.targetInfoChanged", Params: changedParams},
		{Method: "Target.attachedToTarget", Params: attachedParams},
	}

	sm.emittedAttach[targetID] = struct{}{}
	return response, events, sessionID
}

// ShouldSuppressAttach reports whether an extension-sourced
// Target.attachedToTarget for targetID duplicates one the bridge already
// emitted. Controlled by the forwardUntrackedAttach flag: when set, an
// attach for a target the bridge never emitted one for (a manually opened
// tab) is allowed through instead of being suppressed unconditionally.
func (sm *SessionManager) ShouldSuppressAttach(targetID string) bool {
	_, emitted := sm.emittedAttach[targetID]
	if emitted {
		return true
	}
	return !sm.forwardUntrackedAttach
}

// RegisterSessionFromEvent records a session the bridge learns about from
// an extension event it chose to forward (only reachable when
// forward_untracked_attach is enabled), so later session-scoped commands
// for it resolve correctly.
func (sm *SessionManager) RegisterSessionFromEvent(sessionID, targetID, clientID string) {
	sm.targets.RegisterSession(sessionID, targetID, clientID)
}

func targetInfo(t *Target) map[string]any {
	return map[string]any{
		"targetId":         t.TargetID,
		"type":             "page",
		"title":            "",
		"url":              "about:blank",
		"attached":         len(t.Sessions) > 0,
		"browserContextId": t.BrowserContextID,
	}
}

func mergedInfo(info map[string]any, attached bool) map[string]any {
	out := make(map[string]any, len(info))
	for k, v := range info {
		out[k] = v
	}
	out["attached"] = attached
	return out
}

// newSessionID mints a 32-hex-uppercase session id.
func newSessionID() string {
	id := uuid.New()
	raw := fmt.Sprintf("%x", id[:])
	return upperHex(raw)
}

func upperHex(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// newRequestID mints a process-unique request id for pending-request
// correlation.
func newRequestID() string {
	return uuid.NewString()
}
