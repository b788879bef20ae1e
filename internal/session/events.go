package session

import (
	"slices"
	"sync"

	"github.com/comigor/ollamachat/internal/chat"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventDelta carries the whole live buffer after a delta was applied.
	EventDelta EventKind = iota
	// EventFinalized carries the completed assistant message.
	EventFinalized
	// EventCancelled carries the partial message, if any was kept.
	EventCancelled
	// EventError carries the generation error and the partial message, if any.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventFinalized:
		return "finalized"
	case EventCancelled:
		return "cancelled"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is published to observers as a generation progresses.
type Event struct {
	Kind    EventKind
	Text    string
	Message *chat.Message
	Err     error
}

type observers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Event)
}

func (o *observers) add(fn func(Event)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func(Event))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

func (o *observers) publish(ev Event) {
	o.mu.Lock()
	ids := make([]int, 0, len(o.fns))
	for id := range o.fns {
		ids = append(ids, id)
	}
	fns := make([]func(Event), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, o.fns[id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
