package cdp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rubiojr/cdpbridge/pkg/bridge"
)

func newTestServer(t *testing.T, legacyPageDiscovery bool) (*httptest.Server, *bridge.Engine) {
	t.Helper()
	engine := bridge.NewEngine(time.Second, time.Second, 2*time.Second, "ws://127.0.0.1:9222/devtools/browser/bridge", false)
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go engine.Run(stop)

	l := NewListener(engine, "ws://127.0.0.1:9222/devtools/browser/bridge", legacyPageDiscovery)
	mux := http.NewServeMux()
	l.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, engine
}

func TestHandleVersionMimicsChrome(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp, err := http.Get(srv.URL + "/json/version")
	if err != nil {
		t.Fatalf("GET /json/version: %v", err)
	}
	defer resp.Body.Close()

	var version bridge.BrowserVersion
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !strings.HasPrefix(version.Browser, "Chrome/") {
		t.Fatalf("expected Browser to start with Chrome/, got %s", version.Browser)
	}
}

func TestHandleListDefaultOnlySyntheticBrowserTarget(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp, err := http.Get(srv.URL + "/json/list")
	if err != nil {
		t.Fatalf("GET /json/list: %v", err)
	}
	defer resp.Body.Close()

	var entries []targetEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != "browser" {
		t.Fatalf("expected only the synthetic browser target by default, got %+v", entries)
	}
}

func TestHandleStatusReportsEngineSnapshot(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var status bridge.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if status.ExtensionAttached {
		t.Fatalf("expected extension_attached false with no extension connected")
	}
}

func TestHandleUpgradeClassifiesBrowserLevelRole(t *testing.T) {
	srv, engine := newTestServer(t, false)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/devtools/browser/bridge"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(engine.Clients.BrowserLevelClients()) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for the connection to register as browser-level")
}
