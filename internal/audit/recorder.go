package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"rollcall/internal/queue"
)

// MessageType tags audit messages on the queue.
const MessageType = "audit"

// Recorder hands entries to the queue so the claim hot path never waits on
// the audit store. Recording is best-effort: any failure is logged and
// swallowed, it must never change a validation decision already made.
type Recorder struct {
	q       queue.Queue
	timeout time.Duration
}

// NewRecorder creates a recorder publishing to q.
func NewRecorder(q queue.Queue) *Recorder {
	return &Recorder{q: q, timeout: 2 * time.Second}
}

// Record enqueues an entry. Deliberately detached from the request context:
// a claim that was already decided should still be audited even if the
// caller hangs up.
func (r *Recorder) Record(_ context.Context, e Entry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		log.Printf("audit marshal failed: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.q.Publish(ctx, queue.Message{Type: MessageType, Body: body}); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}

// Decode parses a queued audit message body.
func Decode(body []byte) (Entry, error) {
	var e Entry
	err := json.Unmarshal(body, &e)
	return e, err
}
