// Package progress delivers pipeline step events to the UI over WebSocket,
// with an in-memory history that clients can poll or stream when the socket
// is unavailable.
package progress

import (
	"context"
	"time"

	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

// EventType names a progress event.
type EventType string

const (
	EventJobStarted    EventType = "job_started"
	EventStepStarted   EventType = "step_started"
	EventStepCompleted EventType = "step_completed"
	EventStepFailed    EventType = "step_failed"
	EventAgentRetrying EventType = "agent_retrying"
	EventJobCompleted  EventType = "job_completed"
	EventJobFailed     EventType = "job_failed"
)

// Terminal reports whether no further events follow for the job.
func (e EventType) Terminal() bool {
	return e == EventJobCompleted || e == EventJobFailed
}

// Event is one step-status update for a job.
type Event struct {
	JobID     string                `json:"jobId"`
	Type      EventType             `json:"type"`
	Step      tcc.OrchestrationStep `json:"step,omitempty"`
	AgentID   tcc.AgentID           `json:"agentId,omitempty"`
	Status    tcc.Status            `json:"status,omitempty"`
	Message   string                `json:"message,omitempty"`
	Progress  int                   `json:"progress"`
	Data      map[string]any        `json:"data,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
	// Seq is assigned by the history and increases per job.
	Seq int64 `json:"seq"`
}

// Emitter publishes progress events. Emit never blocks on slow consumers.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev Event)

func (f EmitterFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Recorder stamps an event before delivery. *Fallback implements it.
type Recorder interface {
	Record(ev Event) Event
}

// Multi fans an event out to several emitters. Recorders run first so every
// other emitter sees the stamped sequence number.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	for _, e := range m {
		if r, ok := e.(Recorder); ok {
			ev = r.Record(ev)
		}
	}
	for _, e := range m {
		if _, ok := e.(Recorder); ok || e == nil {
			continue
		}
		e.Emit(ctx, ev)
	}
}

// NewEvent fills the progress percent from the step.
func NewEvent(jobID string, typ EventType, step tcc.OrchestrationStep) Event {
	ev := Event{
		JobID:     jobID,
		Type:      typ,
		Step:      step,
		Timestamp: time.Now().UTC(),
	}
	if step != "" {
		ev.Progress = tcc.ProgressPercent(step)
	}
	switch typ {
	case EventJobCompleted:
		ev.Progress = 100
		ev.Status = tcc.StatusCompleted
	case EventJobFailed, EventStepFailed:
		ev.Status = tcc.StatusError
	case EventStepCompleted:
		ev.Status = tcc.StatusCompleted
	case EventStepStarted, EventAgentRetrying, EventJobStarted:
		ev.Status = tcc.StatusInProgress
	}
	return ev
}
