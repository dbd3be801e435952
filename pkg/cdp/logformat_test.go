package cdp

import (
	"compress/gzip"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	bridgelog "github.com/rubiojr/cdpbridge/pkg/log"
)

func sampleRecords() []bridgelog.Record {
	return []bridgelog.Record{
		{Time: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Status: "ok", Kind: "cdp_command", Subject: "Page.enable", Connection: "cdp-1"},
		{Time: time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC), Status: "error", Kind: "brop_command", Subject: "list_tabs", Connection: "brop-1", Detail: "extension offline"},
	}
}

func TestWriteLogsJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeLogs(w, "json", sampleRecords())

	var entries []logEntry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatalf("decoding JSON body: %v", err)
	}
	if len(entries) != 2 || entries[1].Detail != "extension offline" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestWriteLogsText(t *testing.T) {
	w := httptest.NewRecorder()
	writeLogs(w, "text", sampleRecords())

	if w.Header().Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Fatalf("expected text/plain content type, got %s", w.Header().Get("Content-Type"))
	}
	if w.Body.Len() == 0 {
		t.Fatalf("expected a non-empty text body")
	}
}

func TestWriteLogsGzip(t *testing.T) {
	w := httptest.NewRecorder()
	writeLogs(w, "gzip", sampleRecords())

	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip content-encoding, got %s", w.Header().Get("Content-Encoding"))
	}

	gz, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("opening gzip reader: %v", err)
	}
	defer gz.Close()

	var entries []logEntry
	if err := json.NewDecoder(gz).Decode(&entries); err != nil {
		t.Fatalf("decoding gzipped JSON body: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}
