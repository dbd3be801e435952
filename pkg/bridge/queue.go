package bridge

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"
)

// QueuedCommand buffers a client command while the extension is offline.
// It is FIFO and carries its own deadline so a stalled reconnect fails the
// command instead of holding it forever.
type QueuedCommand struct {
	ClientID        string
	Method          string
	Params          json.RawMessage
	SessionID       string
	ClientMessageID *MessageID
	EnqueuedAt      time.Time
	Deadline        time.Time
}

// CommandQueue holds commands arriving while the extension conduit is
// disconnected, draining them in FIFO order on reconnect.
type CommandQueue struct {
	mu    sync.Mutex
	items *list.List
	grace time.Duration
}

// NewCommandQueue constructs an empty queue with the given per-entry grace
// period, defaulting to 2s.
func NewCommandQueue(grace time.Duration) *CommandQueue {
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &CommandQueue{items: list.New(), grace: grace}
}

// Enqueue appends a command to the queue.
func (q *CommandQueue) Enqueue(cmd QueuedCommand) {
	cmd.EnqueuedAt = time.Now()
	cmd.Deadline = cmd.EnqueuedAt.Add(q.grace)
	q.mu.Lock()
	q.items.PushBack(cmd)
	q.mu.Unlock()
}

// DrainExpired removes and returns every entry whose deadline has already
// passed, leaving the rest in place. Called periodically by the engine so
// stale entries are failed with extension-offline even if no reconnect
// ever happens.
func (q *CommandQueue) DrainExpired(now time.Time) []QueuedCommand {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []QueuedCommand
	var next *list.Element
	for e := q.items.Front(); e != nil; e = next {
		next = e.Next()
		cmd := e.Value.(QueuedCommand)
		if now.After(cmd.Deadline) {
			expired = append(expired, cmd)
			q.items.Remove(e)
		}
	}
	return expired
}

// DrainAll removes and returns every queued command in FIFO order, used
// when the extension reconnects to replay buffered commands into the
// conduit.
func (q *CommandQueue) DrainAll() []QueuedCommand {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := make([]QueuedCommand, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		drained = append(drained, e.Value.(QueuedCommand))
	}
	q.items.Init()
	return drained
}

// Len reports the number of queued commands, for get_server_status.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
