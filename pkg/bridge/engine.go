package bridge

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	bridgelog "github.com/rubiojr/cdpbridge/pkg/log"
)

var engineLogger = bridgelog.ForService("engine")

// bropIDCounter assigns ids to BROP frames that arrived without one.
var bropIDCounter atomic.Int64

func newCounterID() int64 {
	return bropIDCounter.Add(1)
}

// Engine is the bridge's multiplex/routing core. It owns the single
// writer goroutine (Run) that mutates the target/session/registry/conduit
// state; every other goroutine (per-connection read loops) submits work
// via Submit instead of touching that state directly, so the shared maps
// stay single-writer without locks.
type Engine struct {
	Conduit  *Conduit
	Registry *Registry
	Targets  *TargetTable
	Clients  *ClientRegistry
	Queue    *CommandQueue
	FanOut   *FanOut
	Sessions *SessionManager

	cdpTimeout  time.Duration
	bropTimeout time.Duration

	// pendingCreate tracks which outstanding requestIds are a
	// Target.createTarget awaiting its critical-path completion. It
	// is touched only from the dispatch loop, same as every other table
	// here.
	pendingCreate map[string]createTargetIntent

	intents   chan func()
	extFrames chan []byte
	startedAt time.Time
}

type createTargetIntent struct {
	url              string
	browserContextID string
}

// NewEngine wires up an engine with the given per-protocol timeouts, queue
// grace period, and browser-level WebSocket debugger URL (advertised via
// Browser.getVersion / GET /json/version).
func NewEngine(cdpTimeout, bropTimeout, queueGrace time.Duration, wsDebuggerURL string, forwardUntrackedAttach bool) *Engine {
	targets := NewTargetTable()
	clients := NewClientRegistry()

	e := &Engine{
		Targets:       targets,
		Clients:       clients,
		Queue:         NewCommandQueue(queueGrace),
		FanOut:        NewFanOut(clients, targets),
		Sessions:      NewSessionManager(targets, wsDebuggerURL, forwardUntrackedAttach),
		cdpTimeout:    cdpTimeout,
		bropTimeout:   bropTimeout,
		pendingCreate: make(map[string]createTargetIntent),
		intents:       make(chan func(), 256),
		extFrames:     make(chan []byte, 256),
		startedAt:     time.Now(),
	}

	e.Registry = NewRegistry(e.onRequestTimeout)
	e.Conduit = NewConduit(e.onExtensionConnect, e.onExtensionDisconnect)
	return e
}

// Submit enqueues fn to run on the engine's single dispatch goroutine.
// Safe to call from any goroutine; fn itself must not block.
func (e *Engine) Submit(fn func()) {
	e.intents <- fn
}

// SubmitExtensionFrame hands a raw frame from the extension conduit to the
// dispatch loop for decoding and routing. Intended as the onFrame callback
// passed to Conduit.ServeHTTP.
func (e *Engine) SubmitExtensionFrame(data []byte) {
	e.extFrames <- data
}

// Run is the engine's single writer goroutine. It must be started exactly
// once; it returns when stop is closed.
func (e *Engine) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case fn := <-e.intents:
			fn()
		case data := <-e.extFrames:
			e.processExtensionFrame(data)
		case now := <-ticker.C:
			e.expireQueue(now)
		}
	}
}

// --- conduit lifecycle hooks ----------------------------------------------

func (e *Engine) onExtensionConnect() {
	e.Submit(func() {
		for _, cmd := range e.Queue.DrainAll() {
			e.dispatchToConduit(cmd.ClientID, cmd.ClientMessageID, KindBROP, cmd.Method, cmd.Params, cmd.SessionID, e.bropTimeout)
		}
	})
}

func (e *Engine) onExtensionDisconnect() {
	e.Submit(func() {
		for _, req := range e.Registry.CancelNonSurviving() {
			delete(e.pendingCreate, req.RequestID)
			e.failRequest(req, ErrTransportLost)
		}
	})
}

// DisconnectClient tears down every piece of engine state owned by
// clientID: its pending requests are cancelled, its sessions are removed,
// and the targets it owns are dropped (the default reclaim policy; they
// are not handed off to another client). Listeners call this once per
// connection, alongside removing the client from the client registry.
func (e *Engine) DisconnectClient(clientID string) {
	e.Submit(func() {
		for _, req := range e.Registry.CancelClient(clientID) {
			delete(e.pendingCreate, req.RequestID)
		}
		e.Targets.RemoveClientSessions(clientID)
		for _, t := range e.Targets.TargetsOwnedBy(clientID) {
			e.Targets.RemoveTarget(t.TargetID)
		}
	})
}

// --- BROP command path -----------------------------------------------------

// BROP methods the listener answers itself, never touching the conduit.
// Kept here, rather than on SessionManager, since they are protocol-local
// rather than CDP session concerns.
const (
	methodGetServerStatus   = "get_server_status"
	methodSubscribeTab      = "subscribe_tab_events"
	methodUnsubscribeTab    = "unsubscribe_tab_events"
)

// HandleBROPCommand processes one parsed BROP frame from client. Local
// methods are answered synchronously; everything else is forwarded via the
// engine's dispatch loop.
func (e *Engine) HandleBROPCommand(client *Client, frame *BROPFrame) {
	if frame.ID == nil {
		frame.ID = NewNumericID(newCounterID())
	}

	switch frame.Method {
	case methodGetServerStatus:
		client.Enqueue(e.serverStatusResponse(frame.ID))
		return
	case methodSubscribeTab:
		tabID := extractTabID(frame.Params)
		client.Subscribe(tabID)
		client.Enqueue(BROPResponse{ID: frame.ID, Success: true})
		return
	case methodUnsubscribeTab:
		tabID := extractTabID(frame.Params)
		client.Unsubscribe(tabID)
		client.Enqueue(BROPResponse{ID: frame.ID, Success: true})
		return
	}

	method, params, id := frame.Method, frame.Params, frame.ID
	e.Submit(func() {
		e.forwardBROP(client, id, method, params)
	})
}

func (e *Engine) forwardBROP(client *Client, clientID *MessageID, method string, params json.RawMessage) {
	if !e.Conduit.Connected() {
		e.Queue.Enqueue(QueuedCommand{
			ClientID:        client.ID,
			Method:          method,
			Params:          params,
			ClientMessageID: clientID,
		})
		return
	}
	e.dispatchToConduit(client.ID, clientID, KindBROP, method, params, "", e.bropTimeout)
}

func extractTabID(params json.RawMessage) string {
	var p struct {
		TabID string `json:"tabId"`
	}
	_ = json.Unmarshal(params, &p)
	return p.TabID
}

// --- CDP command path -------------------------------------------------------

// HandleCDPCommand processes one parsed CDP frame from client.
func (e *Engine) HandleCDPCommand(client *Client, frame *CDPFrame) {
	if IsSynthetic(frame.Method) {
		id, method, params := frame.ID, frame.Method, frame.Params
		e.Submit(func() {
			result, events, err := e.Sessions.HandleSynthetic(client, method, params)
			if err != nil {
				client.Enqueue(errorFrame(id, err))
				return
			}
			resultJSON, _ := json.Marshal(result)
			client.Enqueue(CDPFrame{ID: id, Result: resultJSON})
			for _, evt := range events {
				client.Enqueue(evt)
			}
		})
		return
	}

	if frame.Method == "Target.createTarget" {
		id, params := frame.ID, frame.Params
		e.Submit(func() {
			e.handleCreateTarget(client, id, params)
		})
		return
	}

	id, method, params, sessionID := frame.ID, frame.Method, frame.Params, frame.SessionID
	e.Submit(func() {
		e.dispatchToConduit(client.ID, id, KindCDP, method, params, sessionID, e.cdpTimeout)
	})
}

func (e *Engine) handleCreateTarget(client *Client, clientID *MessageID, params json.RawMessage) {
	if !e.Conduit.Connected() {
		client.Enqueue(errorFrame(clientID, ErrExtensionOffline))
		return
	}

	var p struct {
		URL              string `json:"url"`
		BrowserContextID string `json:"browserContextId"`
	}
	_ = json.Unmarshal(params, &p)

	requestID := newRequestID()
	e.Registry.Register(&PendingRequest{
		RequestID:       requestID,
		OriginClientID:  client.ID,
		ClientKind:      KindCDP,
		ClientMessageID: clientID,
		Method:          "Target.createTarget",
	}, e.cdpTimeout)

	err := e.Conduit.Submit(ExtensionCommand{
		Type:   "cdp_command",
		ID:     requestID,
		Method: "Target.createTarget",
		Params: params,
	})
	if err != nil {
		if req, ok := e.Registry.Resolve(requestID); ok {
			e.failRequest(req, err)
		}
		return
	}
	e.pendingCreate[requestID] = createTargetIntent{url: p.URL, browserContextID: p.BrowserContextID}
}

// dispatchToConduit registers a pending request keyed by a fresh
// process-unique requestId and forwards it upstream, or fails it
// immediately if the extension is offline.
func (e *Engine) dispatchToConduit(clientID string, clientMsgID *MessageID, kind ClientKind, method string, params json.RawMessage, sessionID string, timeout time.Duration) {
	client, ok := e.Clients.Get(clientID)
	if !ok {
		return
	}
	if !e.Conduit.Connected() {
		e.failClient(client, clientMsgID, kind, ErrExtensionOffline)
		return
	}

	requestID := newRequestID()
	e.Registry.Register(&PendingRequest{
		RequestID:       requestID,
		OriginClientID:  clientID,
		ClientKind:      kind,
		ClientMessageID: clientMsgID,
		Method:          method,
		SessionID:       sessionID,
	}, timeout)

	frameType := "cdp_command"
	if kind == KindBROP {
		frameType = "brop_command"
	}
	err := e.Conduit.Submit(ExtensionCommand{
		Type:      frameType,
		ID:        requestID,
		Method:    method,
		Params:    params,
		SessionID: sessionID,
		ClientID:  clientID,
	})
	if err != nil {
		if req, ok := e.Registry.Resolve(requestID); ok {
			e.failRequest(req, err)
		}
	}
}

// --- extension frame processing --------------------------------------------

func (e *Engine) processExtensionFrame(data []byte) {
	switch sniffType(data) {
	case "response":
		e.handleExtensionResponse(data)
	case "event":
		e.handleExtensionBROPEvent(data)
	case "cdp_event":
		e.handleExtensionCDPEvent(data)
	default:
		engineLogger.Record("error", "extension", "unknown-frame", "extension", "unrecognized frame type")
	}
}

func (e *Engine) handleExtensionResponse(data []byte) {
	var resp ExtensionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		engineLogger.Record("error", "extension", "response", "extension", err.Error())
		return
	}

	req, ok := e.Registry.Resolve(resp.ID)
	if !ok {
		return // late or already-timed-out response
	}
	client, ok := e.Clients.Get(req.OriginClientID)
	if !ok {
		delete(e.pendingCreate, resp.ID)
		return
	}

	if create, isCreate := e.pendingCreate[resp.ID]; isCreate {
		delete(e.pendingCreate, resp.ID)
		e.completeTargetCreate(client, req, resp, create)
		return
	}

	e.deliverResponse(client, req, resp)
}

func (e *Engine) completeTargetCreate(client *Client, req *PendingRequest, resp ExtensionResponse, create createTargetIntent) {
	if resp.Error != nil || (resp.Success != nil && !*resp.Success) {
		client.Enqueue(errorFrame(req.ClientMessageID, fmt.Errorf("%w: extension rejected Target.createTarget", ErrUnknownMethod)))
		engineLogger.Record("error", "cdp_command", "Target.createTarget", client.Label, "extension rejected")
		return
	}

	var result struct {
		TargetID string `json:"targetId"`
	}
	_ = json.Unmarshal(resp.Result, &result)

	response, events, _ := e.Sessions.CompleteTargetCreation(req.ClientMessageID, client.ID, result.TargetID, create.browserContextID, create.url)

	client.Enqueue(response)
	for _, evt := range events {
		client.Enqueue(evt)
	}
	engineLogger.Record("ok", "cdp_command", "Target.createTarget", client.Label, result.TargetID)
}

func (e *Engine) deliverResponse(client *Client, req *PendingRequest, resp ExtensionResponse) {
	if req.ClientKind == KindBROP {
		out := BROPResponse{ID: req.ClientMessageID}
		switch {
		case resp.Error != nil:
			out.Success = false
			out.Error = string(resp.Error)
		case resp.Success != nil:
			out.Success = *resp.Success
			out.Result = resp.Result
		default:
			out.Success = true
			out.Result = resp.Result
		}
		client.Enqueue(out)
		return
	}

	if resp.Error != nil {
		client.Enqueue(CDPFrame{ID: req.ClientMessageID, Error: &CDPError{Code: -32000, Message: string(resp.Error)}})
		engineLogger.Record("error", "cdp_command", req.Method, client.Label, string(resp.Error))
		return
	}
	client.Enqueue(CDPFrame{ID: req.ClientMessageID, Result: resp.Result})
	engineLogger.Record("ok", "cdp_command", req.Method, client.Label, "")
}

func (e *Engine) handleExtensionBROPEvent(data []byte) {
	var evt ExtensionEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		engineLogger.Record("error", "event", "parse", "extension", err.Error())
		return
	}
	var tabID string
	_ = json.Unmarshal(evt.TabID, &tabID)

	payload := map[string]any{}
	_ = json.Unmarshal(evt.Params, &payload)
	e.FanOut.RouteBROPEvent(evt.EventType, tabID, payload)
}

func (e *Engine) handleExtensionCDPEvent(data []byte) {
	var evt ExtensionEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		engineLogger.Record("error", "event", "parse", "extension", err.Error())
		return
	}

	if evt.Method == "Target.attachedToTarget" {
		var p struct {
			TargetInfo struct {
				TargetID string `json:"targetId"`
			} `json:"targetInfo"`
		}
		_ = json.Unmarshal(evt.Params, &p)
		if e.Sessions.ShouldSuppressAttach(p.TargetInfo.TargetID) {
			engineLogger.Record("skipped", "event", evt.Method, "extension", "async-skipped")
			return
		}
	}

	if evt.Method == "Target.detachedFromTarget" {
		var p struct {
			TargetID string `json:"targetId"`
		}
		_ = json.Unmarshal(evt.Params, &p)
		if p.TargetID != "" {
			e.Targets.RemoveTarget(p.TargetID)
			engineLogger.Record("ok", "event", evt.Method, "extension", p.TargetID)
		}
	}

	e.FanOut.RouteCDPEvent(evt.Method, evt.Params, evt.SessionID)
}

// --- timeouts and failures ---------------------------------------------------

func (e *Engine) onRequestTimeout(req *PendingRequest) {
	e.Submit(func() {
		delete(e.pendingCreate, req.RequestID)
		e.failRequest(req, ErrCommandTimeout)
	})
}

func (e *Engine) failRequest(req *PendingRequest, err error) {
	client, ok := e.Clients.Get(req.OriginClientID)
	if !ok {
		return
	}
	e.failClient(client, req.ClientMessageID, req.ClientKind, err)
	engineLogger.Record("error", "command", req.Method, client.Label, err.Error())
}

func (e *Engine) failClient(client *Client, clientMsgID *MessageID, kind ClientKind, err error) {
	if kind == KindBROP {
		client.Enqueue(BROPResponse{ID: clientMsgID, Success: false, Error: err.Error()})
		return
	}
	client.Enqueue(errorFrame(clientMsgID, err))
}

func (e *Engine) expireQueue(now time.Time) {
	for _, cmd := range e.Queue.DrainExpired(now) {
		client, ok := e.Clients.Get(cmd.ClientID)
		if !ok {
			continue
		}
		client.Enqueue(BROPResponse{
			ID:      cmd.ClientMessageID,
			Success: false,
			Error:   ExtensionOfflineMessage,
		})
	}
}

// --- status -------------------------------------------------------------

// Status is the in-process metrics snapshot returned by get_server_status.
type Status struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	ExtensionAttached bool    `json:"extension_attached"`
	Clients           int     `json:"clients"`
	Targets           int     `json:"targets"`
	PendingRequests   int     `json:"pending_requests"`
	QueuedCommands    int     `json:"queued_commands"`
}

// StatusSnapshot reports a point-in-time metrics snapshot. Safe to call
// from any goroutine: every field it reads comes from a registry with its
// own lock rather than from the dispatch loop's unsynchronized state.
func (e *Engine) StatusSnapshot() Status {
	return Status{
		UptimeSeconds:     time.Since(e.startedAt).Seconds(),
		ExtensionAttached: e.Conduit.Connected(),
		Clients:           e.Clients.Count(),
		Targets:           e.Targets.Count(),
		PendingRequests:   e.Registry.Len(),
		QueuedCommands:    e.Queue.Len(),
	}
}

func (e *Engine) serverStatusResponse(id *MessageID) BROPResponse {
	result, _ := json.Marshal(e.StatusSnapshot())
	return BROPResponse{ID: id, Success: true, Result: result}
}

func errorFrame(id *MessageID, err error) CDPFrame {
	return CDPFrame{ID: id, Error: &CDPError{Code: CDPErrorCode(err), Message: err.Error()}}
}
