package securelink

import (
	"context"
	"sync"
	"time"

	"caselink.org/internal/audit"
)

// auditRecorder appends access-log rows fire-and-forget. Write failures are
// swallowed and mirrored to the structured log; the validation outcome they
// belong to has already been decided and must not change. With a started
// worker the write never blocks the validator's return.
type auditRecorder struct {
	store   Store
	timeout time.Duration

	mu sync.Mutex
	ch chan *AccessLogEntry
	wg sync.WaitGroup
}

func newAuditRecorder(store Store, timeout time.Duration) *auditRecorder {
	return &auditRecorder{store: store, timeout: timeout}
}

// start switches the recorder into async mode with a buffered queue. A full
// queue degrades to the synchronous path instead of dropping the row.
func (r *auditRecorder) start(buffer int) {
	if buffer <= 0 {
		buffer = 256
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		return
	}
	r.ch = make(chan *AccessLogEntry, buffer)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for entry := range r.ch {
			r.write(entry)
		}
	}()
}

func (r *auditRecorder) close() {
	r.mu.Lock()
	ch := r.ch
	r.ch = nil
	r.mu.Unlock()
	if ch != nil {
		close(ch)
		r.wg.Wait()
	}
}

func (r *auditRecorder) record(entry *AccessLogEntry) {
	r.mu.Lock()
	ch := r.ch
	r.mu.Unlock()
	if ch != nil {
		select {
		case ch <- entry:
			return
		default:
			// queue full, fall through to the synchronous write
		}
	}
	r.write(entry)
}

func (r *auditRecorder) write(entry *AccessLogEntry) {
	// Detached from the request context: the caller may already be gone.
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.AppendAccessLog(ctx, entry); err != nil {
		_ = audit.LogEvent(ctx, "securelink.access_log.write_failed", map[string]any{
			"link_id": entry.LinkID,
			"granted": entry.AccessGranted,
			"reason":  string(entry.DenialReason),
			"error":   err.Error(),
		})
	}
}
