// Package cdp implements the CDP listener and discovery HTTP surface:
// GET /json/version, GET /json and /json/list, GET /logs, and the
// WebSocket upgrade that classifies a connecting client as browser-level
// or session-bound from its URL path.
package cdp

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/rubiojr/cdpbridge/pkg/api"
	"github.com/rubiojr/cdpbridge/pkg/bridge"
	bridgelog "github.com/rubiojr/cdpbridge/pkg/log"
)

var logger = bridgelog.ForService("cdp")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var clientSeq atomic.Int64

// Listener serves the CDP discovery HTTP endpoints and WebSocket upgrade
// on behalf of a bridge engine.
type Listener struct {
	engine              *bridge.Engine
	wsDebuggerURL       string
	legacyPageDiscovery bool
}

// NewListener constructs a CDP listener bound to engine. wsDebuggerURL is
// the browser-level WebSocket endpoint advertised in discovery responses.
func NewListener(engine *bridge.Engine, wsDebuggerURL string, legacyPageDiscovery bool) *Listener {
	return &Listener{engine: engine, wsDebuggerURL: wsDebuggerURL, legacyPageDiscovery: legacyPageDiscovery}
}

// RegisterRoutes mounts the discovery and WebSocket endpoints on mux.
func (l *Listener) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /json/version", api.CorsMiddleware(http.HandlerFunc(l.handleVersion)))
	mux.Handle("GET /json", api.CorsMiddleware(http.HandlerFunc(l.handleList)))
	mux.Handle("GET /json/list", api.CorsMiddleware(http.HandlerFunc(l.handleList)))
	mux.Handle("GET /logs", api.CorsMiddleware(http.HandlerFunc(l.handleLogs)))
	mux.Handle("GET /status", api.CorsMiddleware(http.HandlerFunc(l.handleStatus)))
	mux.HandleFunc("GET /", l.handleUpgrade)
}

// handleVersion mimics a real modern Chrome build's /json/version response.
// Content is policy-critical: at least one downstream client
// refuses to attach if this looks like a non-Chrome server.
func (l *Listener) handleVersion(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, l.engine.Sessions.Version())
}

// targetEntry is one element of the GET /json / /json/list array.
type targetEntry struct {
	Description          string `json:"description"`
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// handleList returns only the synthetic browser target by default:
// advertising real page targets here causes duplicate-target errors in
// downstream clients, since they also learn about pages via Target.*
// events. legacyPageDiscovery re-enables listing page targets once they
// exist, for deployments that need the older behavior.
func (l *Listener) handleList(w http.ResponseWriter, r *http.Request) {
	entries := []targetEntry{{
		Description:          "",
		ID:                   "browser",
		Title:                "cdpbridge",
		Type:                 "browser",
		URL:                  "",
		WebSocketDebuggerURL: l.wsDebuggerURL,
	}}

	if l.legacyPageDiscovery {
		for _, t := range l.engine.Targets.ListTargets() {
			entries = append(entries, targetEntry{
				ID:                   t.TargetID,
				Title:                "",
				Type:                 "page",
				URL:                  "about:blank",
				WebSocketDebuggerURL: l.wsDebuggerURL + "/devtools/page/" + t.TargetID,
			})
		}
	}

	api.WriteJSON(w, http.StatusOK, entries)
}

// handleLogs serves the structured log ring buffer for diagnostics,
// supporting limit and level query parameters. Text, JSON,
// and gzip-compressed JSON output are supported via ?format=.
func (l *Listener) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	level := r.URL.Query().Get("level")
	records := bridgelog.Snapshot(limit, level)

	writeLogs(w, r.URL.Query().Get("format"), records)
}

// handleStatus reports the engine's in-process metrics snapshot, used by
// the status CLI command.
func (l *Listener) handleStatus(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, l.engine.StatusSnapshot())
}

// classifyRole derives a client's CDP role from its WebSocket upgrade path.
func classifyRole(path string, hasBrowserClient bool) bridge.CDPRole {
	switch {
	case strings.HasPrefix(path, "/devtools/browser/"):
		return bridge.RoleBrowserLevel
	case strings.HasPrefix(path, "/devtools/page/"), strings.HasPrefix(path, "/session/"):
		return bridge.RoleSessionBound
	default:
		if hasBrowserClient {
			return bridge.RoleBrowserLevel
		}
		return bridge.RoleBrowserLevel
	}
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Record("error", "cdp", "upgrade", r.RemoteAddr, err.Error())
		return
	}

	role := classifyRole(r.URL.Path, len(l.engine.Clients.BrowserLevelClients()) > 0)

	id := clientSeq.Add(1)
	client := bridge.NewClient(clientIDString(id), r.RemoteAddr, bridge.KindCDP)
	client.Role = role
	l.engine.Clients.Add(client)
	logger.Record("ok", "cdp", "connected", r.RemoteAddr, roleLabel(role))

	transport := bridge.NewTransport(conn)
	go l.writeLoop(client, transport)
	go transport.Keepalive()

	for {
		data, ok := transport.Receive()
		if !ok {
			break
		}
		l.handleFrame(client, data)
	}

	l.engine.Clients.Remove(client.ID)
	l.engine.DisconnectClient(client.ID)
	client.Close()
	_ = transport.Close()
	logger.Record("ok", "cdp", "disconnected", r.RemoteAddr, "")
}

func (l *Listener) handleFrame(client *bridge.Client, data []byte) {
	frame, err := bridge.ParseCDPFrame(data)
	if err != nil {
		if err == bridge.ErrInvalidMessageID {
			// Respond with a single error frame; no upstream request is created.
			client.Enqueue(bridge.CDPFrame{
				Error: &bridge.CDPError{Code: bridge.CDPErrorCode(err), Message: err.Error()},
			})
			logger.Record("error", "cdp_command", "invalid-message-id", client.Label, "")
			return
		}
		logger.Record("error", "cdp_command", "parse-error", client.Label, err.Error())
		return
	}

	if !frame.IsCommand() {
		logger.Record("error", "cdp_command", "parse-error", client.Label, "frame is not a command")
		return
	}

	l.engine.HandleCDPCommand(client, frame)
}

func (l *Listener) writeLoop(client *bridge.Client, transport *bridge.Transport) {
	for {
		select {
		case <-client.Done():
			return
		case frame, ok := <-client.Outbox:
			if !ok {
				return
			}
			if err := transport.Send(frame); err != nil {
				client.Close()
				return
			}
		}
	}
}

func clientIDString(id int64) string {
	return "cdp-" + strconv.FormatInt(id, 10)
}

func roleLabel(role bridge.CDPRole) string {
	if role == bridge.RoleBrowserLevel {
		return "browser-level"
	}
	return "session-bound"
}
