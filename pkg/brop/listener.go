// Package brop implements the BROP listener: it accepts
// BROP clients over WebSocket, parses command frames, and either answers
// them locally or hands them to the bridge engine for forwarding to the
// extension.
package brop

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/rubiojr/cdpbridge/pkg/bridge"
	bridgelog "github.com/rubiojr/cdpbridge/pkg/log"
)

var logger = bridgelog.ForService("brop")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var clientSeq atomic.Int64

// Listener serves the BROP WebSocket endpoint on behalf of a bridge engine.
type Listener struct {
	engine *bridge.Engine
}

// NewListener constructs a BROP listener bound to engine.
func NewListener(engine *bridge.Engine) *Listener {
	return &Listener{engine: engine}
}

// RegisterRoutes mounts the BROP WebSocket upgrade path on mux.
func (l *Listener) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", l.handleUpgrade)
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Record("error", "brop", "upgrade", r.RemoteAddr, err.Error())
		return
	}

	id := clientSeq.Add(1)
	label := r.RemoteAddr
	client := bridge.NewClient(clientIDString(id), label, bridge.KindBROP)
	l.engine.Clients.Add(client)
	logger.Record("ok", "brop", "connected", label, "")

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
	logger.Record("ok", "brop", "disconnected", label, "")
}

func (l *Listener) handleFrame(client *bridge.Client, data []byte) {
	frame, err := bridge.ParseBROPFrame(data)
	if err != nil {
		logger.Record("error", "brop_command", "parse-error", client.Label, err.Error())
		// Reply only if the message had an identifiable id; a frame that
		// fails to parse at all has none to reply with.
		return
	}
	l.engine.HandleBROPCommand(client, frame)
}

// writeLoop drains a client's bounded outbox onto its transport until the
// client is closed, matching the per-connection writer goroutine pattern
// used throughout the bridge.
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
	return "brop-" + strconv.FormatInt(id, 10)
}
