package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialExtension connects to srv as if it were the Chrome extension,
// returning the raw websocket connection for the test to drive directly.
func dialExtension(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing extension endpoint: %v", err)
	}
	return conn
}

func newTestEngine() *Engine {
	return NewEngine(time.Second, time.Second, 50*time.Millisecond, "ws://127.0.0.1:9222/devtools/browser/bridge", false)
}

func TestEngineGetServerStatusAnsweredLocally(t *testing.T) {
	e := newTestEngine()
	stop := make(chan struct{})
	go e.Run(stop)
	defer close(stop)

	client := NewClient("c1", "test", KindBROP)
	e.Clients.Add(client)

	e.HandleBROPCommand(client, &BROPFrame{ID: NewNumericID(1), Method: "get_server_status"})

	select {
	case frame := <-client.Outbox:
		resp := frame.(BROPResponse)
		if !resp.Success {
			t.Fatalf("expected success response, got %+v", resp)
		}
		var status Status
		if err := json.Unmarshal(resp.Result, &status); err != nil {
			t.Fatalf("unmarshaling status: %v", err)
		}
		if status.ExtensionAttached {
			t.Fatalf("expected extension_attached false with no conduit connected")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for get_server_status response")
	}
}

func TestEngineBROPForwardingOfflineQueuesThenFails(t *testing.T) {
	e := newTestEngine()
	stop := make(chan struct{})
	go e.Run(stop)
	defer close(stop)

	client := NewClient("c1", "test", KindBROP)
	e.Clients.Add(client)

	e.HandleBROPCommand(client, &BROPFrame{ID: NewNumericID(1), Method: "list_tabs"})

	// With the extension offline the command is queued rather than
	// failed immediately; it is failed once the queue grace elapses.
	select {
	case frame := <-client.Outbox:
		resp := frame.(BROPResponse)
		if resp.Success {
			t.Fatalf("expected eventual failure once the offline queue grace elapses, got %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the queued command to expire")
	}
}

func TestEngineCreateTargetCriticalPath(t *testing.T) {
	e := newTestEngine()
	stop := make(chan struct{})
	go e.Run(stop)
	defer close(stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.Conduit.ServeHTTP(w, r, e.SubmitExtensionFrame)
	}))
	defer srv.Close()
	extConn := dialExtension(t, srv)
	defer extConn.Close()

	waitConnected(t, e)

	client := NewClient("c1", "test", KindCDP)
	client.Role = RoleBrowserLevel
	e.Clients.Add(client)

	params, _ := json.Marshal(map[string]any{"url": "https://example.com"})
	e.HandleCDPCommand(client, &CDPFrame{ID: NewNumericID(7), Method: "Target.createTarget", Params: params})

	_, data, err := extConn.ReadMessage()
	if err != nil {
		t.Fatalf("reading forwarded command: %v", err)
	}
	var cmd ExtensionCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		t.Fatalf("unmarshaling forwarded command: %v", err)
	}
	if cmd.Method != "Target.createTarget" {
		t.Fatalf("expected Target.createTarget forwarded upstream, got %s", cmd.Method)
	}

	resp := ExtensionResponse{Type: "response", ID: cmd.ID, Result: json.RawMessage(`{"targetId":"target-1"}`)}
	success := true
	resp.Success = &success
	respData, _ := json.Marshal(resp)
	if err := extConn.WriteMessage(websocket.TextMessage, respData); err != nil {
		t.Fatalf("writing extension response: %v", err)
	}

	frames := collectFrames(t, client, 4)
	if frames[0].(CDPFrame).ID.String() != "7" {
		t.Fatalf("expected first frame to be the response to id 7, got %+v", frames[0])
	}
	wantOrder := []string{"Target.targetCreated", "Target.targetInfoChanged", "Target.attachedToTarget"}
	for i, want := range wantOrder {
		got := frames[i+1].(CDPFrame)
		if got.Method != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, got.Method)
		}
	}
}

func TestEngineDisconnectClientCancelsPendingRequestAndDropsSessionsAndTargets(t *testing.T) {
	e := newTestEngine()
	stop := make(chan struct{})
	go e.Run(stop)
	defer close(stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.Conduit.ServeHTTP(w, r, e.SubmitExtensionFrame)
	}))
	defer srv.Close()
	extConn := dialExtension(t, srv)
	defer extConn.Close()
	waitConnected(t, e)

	client := NewClient("c1", "test", KindCDP)
	client.Role = RoleBrowserLevel
	e.Clients.Add(client)

	// A pending request owned by the client: Page.reload forwarded upstream
	// but never answered.
	e.HandleCDPCommand(client, &CDPFrame{ID: NewNumericID(1), Method: "Page.reload"})
	if _, _, err := extConn.ReadMessage(); err != nil {
		t.Fatalf("reading forwarded command: %v", err)
	}

	// A target and session owned by the client, registered directly since
	// exercising the full createTarget critical path isn't needed here.
	done := make(chan struct{})
	e.Submit(func() {
		resp, events, _ := e.Sessions.CompleteTargetCreation(NewNumericID(2), client.ID, "target-1", "ctx-1", "about:blank")
		client.Enqueue(resp)
		for _, evt := range events {
			client.Enqueue(evt)
		}
		close(done)
	})
	<-done
	<-client.Outbox // response
	<-client.Outbox // Target.targetCreated
	<-client.Outbox // Target.targetInfoChanged
	<-client.Outbox // Target.attachedToTarget

	if e.Registry.Len() != 1 {
		t.Fatalf("expected 1 pending request before disconnect, got %d", e.Registry.Len())
	}
	if e.Targets.Count() != 1 {
		t.Fatalf("expected 1 target before disconnect, got %d", e.Targets.Count())
	}

	e.DisconnectClient(client.ID)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e.Registry.Len() == 0 && e.Targets.Count() == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if e.Registry.Len() != 0 {
		t.Fatalf("expected disconnect to cancel the client's pending request, %d remain", e.Registry.Len())
	}
	if e.Targets.Count() != 0 {
		t.Fatalf("expected disconnect to drop the client's owned targets, %d remain", e.Targets.Count())
	}
}

func TestEngineTargetDetachedFromTargetDestroysTarget(t *testing.T) {
	e := newTestEngine()
	stop := make(chan struct{})
	go e.Run(stop)
	defer close(stop)

	client := NewClient("c1", "test", KindCDP)
	client.Role = RoleBrowserLevel
	e.Clients.Add(client)

	done := make(chan struct{})
	e.Submit(func() {
		resp, events, _ := e.Sessions.CompleteTargetCreation(NewNumericID(1), client.ID, "target-1", "ctx-1", "about:blank")
		client.Enqueue(resp)
		for _, evt := range events {
			client.Enqueue(evt)
		}
		close(done)
	})
	<-done
	<-client.Outbox
	<-client.Outbox
	<-client.Outbox
	<-client.Outbox

	if e.Targets.Count() != 1 {
		t.Fatalf("expected 1 target after creation, got %d", e.Targets.Count())
	}

	params, _ := json.Marshal(map[string]any{"targetId": "target-1"})
	evt, _ := json.Marshal(ExtensionEvent{Type: "cdp_event", Method: "Target.detachedFromTarget", Params: params})
	e.SubmitExtensionFrame(evt)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e.Targets.Count() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected Target.detachedFromTarget to remove the target, %d remain", e.Targets.Count())
}

func waitConnected(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e.Conduit.Connected() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for the extension conduit to connect")
}

func collectFrames(t *testing.T, client *Client, n int) []any {
	t.Helper()
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		select {
		case f := <-client.Outbox:
			out = append(out, f)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d/%d", i+1, n)
		}
	}
	return out
}
