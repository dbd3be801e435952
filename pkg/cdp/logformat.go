package cdp

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/klauspost/compress/gzip"

	bridgelog "github.com/rubiojr/cdpbridge/pkg/log"
)

// logEntry is the JSON shape of one /logs record.
type logEntry struct {
	Time       string `json:"time"`
	Status     string `json:"status"`
	Kind       string `json:"kind"`
	Subject    string `json:"subject"`
	Connection string `json:"connection"`
	Detail     string `json:"detail,omitempty"`
}

// writeLogs renders records in the requested format: "json" (the default),
// "text" (the five-column textual form also used on stdout/stderr), or
// "gzip" (gzip-compressed JSON, for pulling a large buffer over a slow
// link without the client needing its own Accept-Encoding negotiation).
func writeLogs(w http.ResponseWriter, format string, records []bridgelog.Record) {
	switch format {
	case "text":
		writeLogsText(w, records)
	case "gzip":
		writeLogsGzip(w, records)
	default:
		writeLogsJSON(w, records)
	}
}

func toEntries(records []bridgelog.Record) []logEntry {
	entries := make([]logEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, logEntry{
			Time:       r.Time.Format("2006-01-02T15:04:05.000Z07:00"),
			Status:     r.Status,
			Kind:       r.Kind,
			Subject:    r.Subject,
			Connection: r.Connection,
			Detail:     r.Detail,
		})
	}
	return entries
}

func writeLogsJSON(w http.ResponseWriter, records []bridgelog.Record) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(toEntries(records))
}

func writeLogsText(w http.ResponseWriter, records []bridgelog.Record) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	for _, r := range records {
		fmt.Fprintf(w, "%s %-8s %-12s %-28s %-16s %s\n",
			r.Time.Format("2006-01-02T15:04:05.000Z07:00"),
			r.Status, r.Kind, r.Subject, r.Connection, r.Detail)
	}
}

func writeLogsGzip(w http.ResponseWriter, records []bridgelog.Record) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(http.StatusOK)

	gz := gzip.NewWriter(w)
	defer gz.Close()
	_ = json.NewEncoder(gz).Encode(toEntries(records))
}
