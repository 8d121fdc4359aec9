package progress

import (
	"context"
	"sync"
	"time"
)

// DefaultHistorySize is the number of events kept per job.
const DefaultHistorySize = 200

type jobHistory struct {
	events  []Event
	seq     int64
	updated time.Time
}

// Fallback keeps a bounded per-job event history and publishes every event
// to in-process subscribers. It backs the poll and SSE endpoints and the
// WebSocket replay, so clients that lose the socket can catch up.
type Fallback struct {
	size int

	mu   sync.RWMutex
	jobs map[string]*jobHistory

	subMu       sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
}

// NewFallback creates a history holding up to size events per job.
func NewFallback(size int) *Fallback {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &Fallback{
		size:        size,
		jobs:        make(map[string]*jobHistory),
		subscribers: make(map[string]map[chan Event]struct{}),
	}
}

// Emit records ev and publishes it.
func (f *Fallback) Emit(_ context.Context, ev Event) {
	f.Record(ev)
}

// Record assigns the next sequence number of the job, stores the event and
// publishes it. It returns the stamped event.
func (f *Fallback) Record(ev Event) Event {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	f.mu.Lock()
	h := f.jobs[ev.JobID]
	if h == nil {
		h = &jobHistory{}
		f.jobs[ev.JobID] = h
	}
	h.seq++
	ev.Seq = h.seq
	h.events = append(h.events, ev)
	if over := len(h.events) - f.size; over > 0 {
		h.events = append(h.events[:0:0], h.events[over:]...)
	}
	h.updated = time.Now()
	f.mu.Unlock()

	f.publish(ev)
	return ev
}

// Since returns the job's events with a sequence number above since.
func (f *Fallback) Since(jobID string, since int64) []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h := f.jobs[jobID]
	if h == nil {
		return []Event{}
	}
	out := make([]Event, 0, len(h.events))
	for _, ev := range h.events {
		if ev.Seq > since {
			out = append(out, ev)
		}
	}
	return out
}

// LastSeq returns the job's latest sequence number, 0 when unknown.
func (f *Fallback) LastSeq(jobID string) int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if h := f.jobs[jobID]; h != nil {
		return h.seq
	}
	return 0
}

// Done reports whether the job's latest event is terminal.
func (f *Fallback) Done(jobID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h := f.jobs[jobID]
	return h != nil && len(h.events) > 0 && h.events[len(h.events)-1].Type.Terminal()
}

// Subscribe returns a channel of the job's future events. The channel is
// closed when ctx is done. Slow subscribers miss events rather than block
// publishers; they can fill the gap with Since.
func (f *Fallback) Subscribe(ctx context.Context, jobID string) <-chan Event {
	ch := make(chan Event, 16)

	f.subMu.Lock()
	if f.subscribers[jobID] == nil {
		f.subscribers[jobID] = make(map[chan Event]struct{})
	}
	f.subscribers[jobID][ch] = struct{}{}
	f.subMu.Unlock()

	go func() {
		<-ctx.Done()
		f.subMu.Lock()
		if subs := f.subscribers[jobID]; subs != nil {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(f.subscribers, jobID)
			}
		}
		close(ch)
		f.subMu.Unlock()
	}()

	return ch
}

// publish sends under the read lock so a subscriber channel cannot be
// closed mid-send. Sends never block.
func (f *Fallback) publish(ev Event) {
	f.subMu.RLock()
	defer f.subMu.RUnlock()
	for ch := range f.subscribers[ev.JobID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Sweep drops histories not updated since before cutoff and returns how
// many were removed.
func (f *Fallback) Sweep(cutoff time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for id, h := range f.jobs {
		if h.updated.Before(cutoff) {
			delete(f.jobs, id)
			removed++
		}
	}
	return removed
}
