package bridge

import (
	"encoding/json"
	"strings"
)

// FanOut classifies inbound extension events and routes them to the
// correct client connection(s), applying the CDP session-routing rules and
// the BROP tab-subscription rules. Like SessionManager, it runs only on
// the engine's dispatch goroutine. Delivery is via each Client's own
// bounded Outbox channel, so no separate broker is needed between
// extension events and client connections.
type FanOut struct {
	clients *ClientRegistry
	targets *TargetTable
}

// NewFanOut constructs a fan-out router.
func NewFanOut(clients *ClientRegistry, targets *TargetTable) *FanOut {
	return &FanOut{clients: clients, targets: targets}
}

// RouteCDPEvent delivers a cdp_event frame from the extension. Events
// whose method starts with "Target." go to browser-level clients;
// everything else goes to the client owning the event's session, or falls
// back to browser-level clients if no session exists.
func (f *FanOut) RouteCDPEvent(method string, params json.RawMessage, sessionID string) {
	frame := CDPFrame{Method: method, Params: params, SessionID: sessionID}

	if strings.HasPrefix(method, "Target.") {
		for _, c := range f.clients.BrowserLevelClients() {
			c.Enqueue(frame)
		}
		return
	}

	if sessionID != "" {
		if s, ok := f.targets.Session(sessionID); ok {
			if c, ok := f.clients.Get(s.ClientID); ok {
				c.Enqueue(frame)
				return
			}
		}
	}

	for _, c := range f.clients.BrowserLevelClients() {
		c.Enqueue(frame)
	}
}

// RouteBROPEvent delivers a BROP tab event: if tabID is known,
// only clients subscribed to that tab receive it; otherwise it is
// broadcast to every BROP client. tab_closed/tab_removed additionally
// clears the tab's subscription set on every client.
func (f *FanOut) RouteBROPEvent(eventType, tabID string, payload map[string]any) {
	frame := map[string]any{
		"type":       "event",
		"event_type": eventType,
	}
	if tabID != "" {
		frame["tabId"] = tabID
	}
	for k, v := range payload {
		frame[k] = v
	}

	bropClients := f.clients.BROPClients()

	if tabID == "" {
		for _, c := range bropClients {
			c.Enqueue(frame)
		}
		return
	}

	for _, c := range bropClients {
		if c.SubscribedTo(tabID) {
			c.Enqueue(frame)
		}
	}

	if eventType == "tab_closed" || eventType == "tab_removed" {
		for _, c := range bropClients {
			c.Unsubscribe(tabID)
		}
	}
}
