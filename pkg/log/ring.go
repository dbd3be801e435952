package log

import (
	"container/ring"
	"sync"
	"time"
)

// Record is one structured log entry: the five columns from the bridge's
// connection log (timestamp, status, type, command/event subject,
// connection label) plus a free-form detail string.
type Record struct {
	Time       time.Time
	Status     string // "ok", "error", "timeout", "skipped", ...
	Kind       string // "brop_command", "cdp_command", "event", "extension", ...
	Subject    string // method / event name / command description
	Connection string // human label of the connection involved
	Detail     string // error message or other free-form detail
}

// Buffer is a fixed-capacity, concurrency-safe ring buffer of Records. The
// oldest record is overwritten once capacity is reached (default 1,000).
type Buffer struct {
	mu   sync.Mutex
	r    *ring.Ring
	size int
	cap  int
}

// NewBuffer constructs a ring buffer with the given capacity. A non-positive
// capacity falls back to 1000.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Buffer{r: ring.New(capacity), cap: capacity}
}

func (b *Buffer) add(rec Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r.Value = rec
	b.r = b.r.Next()
	if b.size < b.cap {
		b.size++
	}
}

// Resize replaces the buffer's capacity, discarding prior contents. Used by
// config hot-reload.
func (b *Buffer) Resize(capacity int) {
	if capacity <= 0 {
		capacity = 1000
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r = ring.New(capacity)
	b.cap = capacity
	b.size = 0
}

// Snapshot returns up to limit most-recent records (newest last), optionally
// filtered by status ("error" matches "error" and "timeout"; any other
// non-empty level matches that status exactly; "" matches everything).
// limit <= 0 means "no limit".
func (b *Buffer) Snapshot(limit int, level string) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	all := make([]Record, 0, b.size)
	// b.r currently points at the next slot to overwrite, i.e. the oldest
	// entry once the buffer has wrapped. Walk size steps starting there.
	start := b.r
	if b.size < b.cap {
		// Buffer hasn't wrapped yet; oldest entry is cap-size steps back,
		// which is simply the zero-valued entries we must skip. Easiest is
		// to walk from the furthest-back populated slot.
		start = b.r
		for i := 0; i < b.cap-b.size; i++ {
			start = start.Next()
		}
	}
	start.Do(func(v any) {
		if v == nil {
			return
		}
		rec, ok := v.(Record)
		if !ok {
			return
		}
		all = append(all, rec)
	})

	if level != "" {
		filtered := all[:0:0]
		for _, rec := range all {
			if matchesLevel(rec.Status, level) {
				filtered = append(filtered, rec)
			}
		}
		all = filtered
	}

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

func matchesLevel(status, level string) bool {
	if level == "error" {
		return status == "error" || status == "timeout"
	}
	return status == level
}

// defaultRing is the process-wide ring buffer backing Logger.Record and the
// discovery HTTP /logs endpoint.
var defaultRing = NewBuffer(1000)

// SetRingCapacity resizes the shared ring buffer (e.g. on config reload).
func SetRingCapacity(capacity int) {
	defaultRing.Resize(capacity)
}

// Snapshot exposes the shared ring buffer's contents.
func Snapshot(limit int, level string) []Record {
	return defaultRing.Snapshot(limit, level)
}
