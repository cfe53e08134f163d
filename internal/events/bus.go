// Package events provides the per-task event bus: an append-only event log
// combined with in-process publish/subscribe fan-out to live observers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/docstream/internal/observability"
)

// EventKind classifies task events.
type EventKind string

const (
	KindProgress   EventKind = "progress"
	KindStatus     EventKind = "status"
	KindError      EventKind = "error"
	KindCompletion EventKind = "completion"
)

// Terminal reports whether the kind ends a task's event stream.
func (k EventKind) Terminal() bool {
	return k == KindCompletion || k == KindError
}

// Event is an immutable, ordered fact about a task's progress or outcome.
// Seq is strictly increasing per task, starting at 1.
type Event struct {
	TaskID    uuid.UUID       `json:"task_id"`
	Seq       uint64          `json:"seq"`
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Payload shapes, one per event kind.
type (
	// ProgressPayload reports extraction progress without a status change.
	ProgressPayload struct {
		Stage    string `json:"stage,omitempty"`
		Progress int    `json:"progress"`
		Message  string `json:"message"`
	}

	// StatusPayload reports a lifecycle status change.
	StatusPayload struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}

	// ErrorPayload reports a task failure.
	ErrorPayload struct {
		Error   string `json:"error"`
		Details string `json:"details,omitempty"`
	}

	// CompletionPayload carries the result artifact references by role.
	CompletionPayload struct {
		Results map[string]string `json:"results"`
	}
)

var (
	// ErrBackpressure indicates a subscriber was disconnected because its
	// buffer overflowed. Events are never silently dropped.
	ErrBackpressure = errors.New("subscriber disconnected: buffer overflow")
	// ErrLogDropped indicates the task's event log was reclaimed by the
	// retention sweeper while the subscriber was attached.
	ErrLogDropped = errors.New("event log dropped")
)

// Subscription is a live observer bound to one task's event stream.
type Subscription struct {
	taskID uuid.UUID
	ch     chan Event

	mu     sync.Mutex
	err    error
	closed bool

	unregister func(*Subscription)
}

// Events returns the live feed channel. It is closed when the subscription
// ends; check Err afterwards to distinguish a clean close from backpressure.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// TaskID returns the task this subscription observes.
func (s *Subscription) TaskID() uuid.UUID {
	return s.taskID
}

// Err returns the reason the subscription ended, or nil for a clean close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unregisters the subscription and releases its buffer. Safe to call
// multiple times and concurrently with appends.
func (s *Subscription) Close() {
	s.unregister(s)
}

// closeLocked finalizes the subscription. Caller must hold the owning
// taskState mutex so no broadcast can race the channel close.
func (s *Subscription) closeLocked(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

// taskState is the per-task shared state: sequence counter, log, and
// subscriber registry, all guarded by one mutex so append-and-broadcast is
// atomic with respect to subscriber registration.
type taskState struct {
	mu         sync.Mutex
	seq        uint64
	log        []Event
	subs       map[*Subscription]struct{}
	terminal   bool
	lastAppend time.Time
}

// Bus distributes lifecycle and progress events to per-task subscribers and
// retains the append-only historical log for replay.
type Bus struct {
	logger *observability.Logger
	buffer int

	mu    sync.RWMutex
	tasks map[uuid.UUID]*taskState
}

// Config holds event bus settings.
type Config struct {
	// SubscriberBuffer is the per-subscriber channel capacity. A subscriber
	// that falls this far behind is disconnected with ErrBackpressure.
	SubscriberBuffer int
}

// NewBus creates an event bus.
func NewBus(logger *observability.Logger, cfg Config) *Bus {
	buffer := cfg.SubscriberBuffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		logger: logger.WithComponent("eventbus"),
		buffer: buffer,
		tasks:  make(map[uuid.UUID]*taskState),
	}
}

// Append assigns the next sequence number for the task, persists the event
// to the historical log, and broadcasts it to all current subscribers. A
// subscriber registering concurrently observes the event either in its
// replay snapshot or in its live feed, never both and never neither.
func (b *Bus) Append(ctx context.Context, taskID uuid.UUID, kind EventKind, payload interface{}) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event payload: %w", err)
	}

	ts := b.state(taskID)

	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.seq++
	evt := Event{
		TaskID:    taskID,
		Seq:       ts.seq,
		Kind:      kind,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}
	ts.log = append(ts.log, evt)
	ts.lastAppend = evt.Timestamp
	if kind.Terminal() {
		ts.terminal = true
	}

	for sub := range ts.subs {
		select {
		case sub.ch <- evt:
		default:
			// Slow consumer: disconnecting beats silently dropping events.
			delete(ts.subs, sub)
			sub.closeLocked(ErrBackpressure)
			b.logger.Warn().
				Str("task_id", taskID.String()).
				Uint64("seq", evt.Seq).
				Msg("subscriber disconnected on backpressure")
		}
	}

	b.logger.Debug().
		Str("task_id", taskID.String()).
		Str("kind", string(kind)).
		Uint64("seq", evt.Seq).
		Int("subscribers", len(ts.subs)).
		Msg("event appended")

	return evt, nil
}

// Subscribe registers a live observer for the task.
func (b *Bus) Subscribe(taskID uuid.UUID) *Subscription {
	_, sub := b.subscribe(taskID, false)
	return sub
}

// SubscribeWithHistory atomically snapshots the historical log and registers
// a live observer. The returned history concatenated with the live feed is
// gapless and duplicate-free.
func (b *Bus) SubscribeWithHistory(taskID uuid.UUID) ([]Event, *Subscription) {
	return b.subscribe(taskID, true)
}

func (b *Bus) subscribe(taskID uuid.UUID, withHistory bool) ([]Event, *Subscription) {
	ts := b.state(taskID)

	sub := &Subscription{
		taskID:     taskID,
		ch:         make(chan Event, b.buffer),
		unregister: func(s *Subscription) { b.remove(taskID, s) },
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	var history []Event
	if withHistory {
		history = make([]Event, len(ts.log))
		copy(history, ts.log)
	}
	ts.subs[sub] = struct{}{}
	return history, sub
}

// History returns a copy of the task's event log in order. Idempotent.
func (b *Bus) History(taskID uuid.UUID) []Event {
	b.mu.RLock()
	ts, ok := b.tasks[taskID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	history := make([]Event, len(ts.log))
	copy(history, ts.log)
	return history
}

// SubscriberCount returns the number of live subscribers for a task.
func (b *Bus) SubscriberCount(taskID uuid.UUID) int {
	b.mu.RLock()
	ts, ok := b.tasks[taskID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.subs)
}

// Drop discards the task's log and disconnects its subscribers. Intended for
// retention of terminal tasks; appending after Drop restarts the sequence,
// so callers must only drop tasks that accept no further events.
func (b *Bus) Drop(taskID uuid.UUID) {
	b.mu.Lock()
	ts, ok := b.tasks[taskID]
	if ok {
		delete(b.tasks, taskID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	for sub := range ts.subs {
		delete(ts.subs, sub)
		sub.closeLocked(ErrLogDropped)
	}
	ts.log = nil
}

// StartSweeper runs a background loop that drops logs of terminal tasks idle
// past the retention window. Returns immediately; the loop stops when ctx is
// cancelled. A retention of zero disables sweeping.
func (b *Bus) StartSweeper(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.sweep(retention)
			}
		}
	}()
}

func (b *Bus) sweep(retention time.Duration) {
	cutoff := time.Now().UTC().Add(-retention)

	b.mu.RLock()
	candidates := make([]uuid.UUID, 0)
	for id, ts := range b.tasks {
		ts.mu.Lock()
		expired := ts.terminal && ts.lastAppend.Before(cutoff)
		ts.mu.Unlock()
		if expired {
			candidates = append(candidates, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range candidates {
		b.Drop(id)
		b.logger.Info().Str("task_id", id.String()).Msg("event log reclaimed")
	}
}

// remove unregisters a subscriber and closes it cleanly.
func (b *Bus) remove(taskID uuid.UUID, sub *Subscription) {
	b.mu.RLock()
	ts, ok := b.tasks[taskID]
	b.mu.RUnlock()
	if !ok {
		sub.closeLocked(nil)
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.subs, sub)
	sub.closeLocked(nil)
}

// state returns the task's shared state, creating it lazily.
func (b *Bus) state(taskID uuid.UUID) *taskState {
	b.mu.RLock()
	ts, ok := b.tasks[taskID]
	b.mu.RUnlock()
	if ok {
		return ts
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ts, ok = b.tasks[taskID]; ok {
		return ts
	}
	ts = &taskState{subs: make(map[*Subscription]struct{})}
	b.tasks[taskID] = ts
	return ts
}
