// Package tracker is the client side of the live queue: it folds the
// stream into waiting and ready sets, keeps the connection alive and
// registers the user's ticket for push notifications.
package tracker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tableqr/waitlist/internal/waitlist"
)

// NoticeKind identifies a user-facing notice.
type NoticeKind int

const (
	// NoticeReady fires once when the tracked ticket enters the ready set.
	NoticeReady NoticeKind = iota + 1
	// NoticeServed fires when a snapshot shows the tracked ticket served;
	// the ticket is no longer tracked.
	NoticeServed
	// NoticeMissing fires once when the tracked ticket is on neither list.
	NoticeMissing
	// NoticeRegistered fires after a successful registration.
	NoticeRegistered
)

// String returns the notice kind name.
func (k NoticeKind) String() string {
	switch k {
	case NoticeReady:
		return "ready"
	case NoticeServed:
		return "served"
	case NoticeMissing:
		return "missing"
	case NoticeRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// Notice is an informational message for the user.
type Notice struct {
	Kind        NoticeKind
	QueueNumber int
	Message     string
}

// State is a copy of the engine's view of the board.
type State struct {
	Waiting []int
	Ready   []int
	// Tracked is the user's own ticket, or 0 when none is tracked.
	Tracked int
}

// EngineConfig holds configuration for the Engine.
type EngineConfig struct {
	// OnNotice and OnChange are called outside the engine's lock, in the
	// order the triggering messages were applied.
	OnNotice func(Notice)
	OnChange func(State)
	Logger   zerolog.Logger
}

// Engine holds the local reconciliation state: two disjoint, sorted sets
// of queue numbers plus the tracked ticket. Messages are expected from a
// single goroutine; the lock only guards concurrent readers.
type Engine struct {
	onNotice func(Notice)
	onChange func(State)
	logger   zerolog.Logger

	// serializes callbacks so observers see states in apply order
	emitMu sync.Mutex

	mu            sync.Mutex
	waiting       []int
	ready         []int
	tracked       int
	trackedReady  bool
	trackedMissed bool
}

// NewEngine creates an empty Engine.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		onNotice: cfg.OnNotice,
		onChange: cfg.OnChange,
		logger:   cfg.Logger,
	}
}

// ApplySnapshot replaces the whole state with the snapshot's buckets. A
// queue number that appears more than once is bucketed by its latest
// ticket, the highest QueueID, or the later entry when IDs tie. A tracked
// ticket whose latest entry is served stops being tracked.
func (e *Engine) ApplySnapshot(tickets []waitlist.Ticket) {
	e.update(func() []Notice {
		latest := make(map[int]waitlist.Ticket, len(tickets))
		for _, t := range tickets {
			if prev, ok := latest[t.QueueNumber]; ok && prev.QueueID > t.QueueID {
				continue
			}
			latest[t.QueueNumber] = t
		}

		var waiting, ready []int
		for number, t := range latest {
			switch t.Status {
			case waitlist.StatusWaiting:
				waiting = append(waiting, number)
			case waitlist.StatusReady:
				ready = append(ready, number)
			}
		}
		e.waiting = normalize(waiting)
		e.ready = normalize(ready)

		var notices []Notice
		if t, ok := latest[e.tracked]; ok && e.tracked != 0 && t.Status.IsTerminal() {
			notices = append(notices, Notice{
				Kind:        NoticeServed,
				QueueNumber: e.tracked,
				Message:     fmt.Sprintf("Order %02d has been served.", e.tracked),
			})
			e.setTrackedLocked(0)
		}
		return append(notices, e.trackedNoticesLocked()...)
	})
}

// ApplyMutation folds one change into the state. Applying the same change
// twice leaves the same state as applying it once.
func (e *Engine) ApplyMutation(change waitlist.ChangeEvent) {
	e.update(func() []Notice {
		if change.Old != nil && (change.New == nil || change.Old.QueueNumber != change.New.QueueNumber) {
			e.removeLocked(change.Old.QueueNumber)
		}
		if change.New == nil {
			return e.trackedNoticesLocked()
		}

		number := change.New.QueueNumber
		e.removeLocked(number)

		switch change.New.Status {
		case waitlist.StatusWaiting:
			e.waiting = insert(e.waiting, number)
		case waitlist.StatusReady:
			e.ready = insert(e.ready, number)
		}
		return e.trackedNoticesLocked()
	})
}

// HandleMessage parses one stream payload and applies it. Malformed
// payloads are dropped.
func (e *Engine) HandleMessage(data []byte) {
	msg, err := waitlist.ParseMessage(data)
	if err != nil {
		e.logger.Debug().Err(err).Msg("ignoring malformed stream message")
		return
	}

	switch msg.Type {
	case waitlist.MessageSnapshot:
		e.ApplySnapshot(msg.Snapshot)
	case waitlist.MessageMutation:
		e.ApplyMutation(*msg.Mutation)
	}
}

// Track sets the user's ticket. Zero stops tracking.
func (e *Engine) Track(queueNumber int) {
	e.update(func() []Notice {
		e.setTrackedLocked(queueNumber)
		return e.trackedNoticesLocked()
	})
}

// IsWaiting reports whether a number is currently in the waiting set.
func (e *Engine) IsWaiting(queueNumber int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return contains(e.waiting, queueNumber)
}

// State returns a copy of the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// Notify delivers a notice produced outside the engine, such as a
// successful registration, through the same callback.
func (e *Engine) Notify(n Notice) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	if e.onNotice != nil {
		e.onNotice(n)
	}
}

func (e *Engine) update(apply func() []Notice) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	notices := apply()
	state := e.stateLocked()
	e.mu.Unlock()

	if e.onChange != nil {
		e.onChange(state)
	}
	if e.onNotice != nil {
		for _, n := range notices {
			e.onNotice(n)
		}
	}
}

func (e *Engine) setTrackedLocked(queueNumber int) {
	e.tracked = queueNumber
	e.trackedReady = false
	e.trackedMissed = false
}

// trackedNoticesLocked emits edge-triggered notices for the tracked
// ticket: each fires once per entry into its condition.
func (e *Engine) trackedNoticesLocked() []Notice {
	if e.tracked == 0 {
		return nil
	}

	var notices []Notice
	inReady := contains(e.ready, e.tracked)
	if inReady && !e.trackedReady {
		notices = append(notices, Notice{
			Kind:        NoticeReady,
			QueueNumber: e.tracked,
			Message:     fmt.Sprintf("Order %02d is ready.", e.tracked),
		})
	}
	e.trackedReady = inReady

	missing := !inReady && !contains(e.waiting, e.tracked)
	if missing && !e.trackedMissed {
		notices = append(notices, Notice{
			Kind:        NoticeMissing,
			QueueNumber: e.tracked,
			Message:     fmt.Sprintf("Order %02d is not on the board right now.", e.tracked),
		})
	}
	e.trackedMissed = missing

	return notices
}

func (e *Engine) removeLocked(number int) {
	e.waiting = remove(e.waiting, number)
	e.ready = remove(e.ready, number)
}

func (e *Engine) stateLocked() State {
	return State{
		Waiting: append([]int{}, e.waiting...),
		Ready:   append([]int{}, e.ready...),
		Tracked: e.tracked,
	}
}

// normalize sorts and deduplicates numbers in place.
func normalize(numbers []int) []int {
	sort.Ints(numbers)
	out := numbers[:0]
	for _, n := range numbers {
		if len(out) == 0 || n != out[len(out)-1] {
			out = append(out, n)
		}
	}
	return out
}

func contains(sorted []int, n int) bool {
	i := sort.SearchInts(sorted, n)
	return i < len(sorted) && sorted[i] == n
}

func insert(sorted []int, n int) []int {
	i := sort.SearchInts(sorted, n)
	if i < len(sorted) && sorted[i] == n {
		return sorted
	}
	sorted = append(sorted, 0)
	copy(sorted[i+1:], sorted[i:])
	sorted[i] = n
	return sorted
}

func remove(sorted []int, n int) []int {
	i := sort.SearchInts(sorted, n)
	if i == len(sorted) || sorted[i] != n {
		return sorted
	}
	return append(sorted[:i], sorted[i+1:]...)
}
