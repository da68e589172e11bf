package software

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type EventKind int

const (
	EventCommandBegin EventKind = iota
	EventSubmit
	EventFenceSignal
	EventPresent
)

func (k EventKind) String() string {
	switch k {
	case EventCommandBegin:
		return "begin"
	case EventSubmit:
		return "submit"
	case EventFenceSignal:
		return "fence-signal"
	case EventPresent:
		return "present"
	default:
		return "unknown"
	}
}

/**
 * @brief One entry of the device timeline. Seq is a global, strictly
 * increasing counter; Time is the wall clock at the same moment.
 */
type TimelineEvent struct {
	Seq           uint64
	Kind          EventKind
	CommandBuffer uint64
	Fence         metadata.FenceHandle
	Time          time.Time
}

// Timeline records the order in which the host and the queue touched
// command buffers and fences.
type Timeline struct {
	seq    atomic.Uint64
	mu     sync.Mutex
	events []TimelineEvent
}

func (t *Timeline) record(kind EventKind, cb uint64, f metadata.FenceHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, TimelineEvent{
		Seq:           t.seq.Add(1),
		Kind:          kind,
		CommandBuffer: cb,
		Fence:         f,
		Time:          time.Now(),
	})
}

func (t *Timeline) Events() []TimelineEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TimelineEvent(nil), t.events...)
}

// Filter returns the events of the given kind in order.
func (t *Timeline) Filter(kind EventKind) []TimelineEvent {
	var out []TimelineEvent
	for _, e := range t.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}
