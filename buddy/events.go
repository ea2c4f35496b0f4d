package buddy

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/slog"
)

// EventType identifies the step of an allocator operation that an Event describes
type EventType uint32

const (
	// EventInitialized is emitted once when an Allocator is created
	EventInitialized EventType = iota
	// EventAllocationAttempt is emitted before an allocation of a positive size is searched for
	EventAllocationAttempt
	// EventAllocated is emitted when an allocation succeeds
	EventAllocated
	// EventAllocationFailed is emitted when an allocation is rejected for any reason
	EventAllocationFailed
	// EventSplit is emitted for every free block that is halved while producing an allocation
	EventSplit
	// EventDeallocated is emitted when an allocation is released
	EventDeallocated
	// EventDeallocationFailed is emitted when Deallocate finds no allocation for the owner
	EventDeallocationFailed
	// EventMerged is emitted for every pair of free buddies that are coalesced
	EventMerged
)

var eventTypeMapping = map[EventType]string{
	EventInitialized:        "EventInitialized",
	EventAllocationAttempt:  "EventAllocationAttempt",
	EventAllocated:          "EventAllocated",
	EventAllocationFailed:   "EventAllocationFailed",
	EventSplit:              "EventSplit",
	EventDeallocated:        "EventDeallocated",
	EventDeallocationFailed: "EventDeallocationFailed",
	EventMerged:             "EventMerged",
}

func (t EventType) String() string {
	return eventTypeMapping[t]
}

func (t EventType) level() slog.Level {
	switch t {
	case EventAllocationAttempt, EventSplit, EventMerged:
		return slog.LevelDebug
	case EventAllocationFailed, EventDeallocationFailed:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Event is a single observable step of an allocator operation. Owner, Address and Size are
// zero when they do not apply to the event type: Size is the block size for allocations,
// splits (the block that was split) and merges (the merged block), and the requested size
// for failed allocations.
type Event struct {
	Type    EventType
	Time    time.Time
	Message string

	Owner   string
	Address int
	Size    int
}

func (e Event) String() string {
	return e.Message
}

// EventSink receives every Event produced by an Allocator. Events are delivered synchronously,
// in order, after the operation that produced them has completed and released the allocator's
// lock. Sinks may call back into the allocator.
type EventSink interface {
	OnEvent(event Event)
}

// EventSinkFunc adapts a function to the EventSink interface
type EventSinkFunc func(event Event)

func (f EventSinkFunc) OnEvent(event Event) {
	f(event)
}

type eventQueue struct {
	logger  *slog.Logger
	sink    EventSink
	pending []Event
}

func (q *eventQueue) record(eventType EventType, owner string, address, size int, format string, args ...any) {
	q.pending = append(q.pending, Event{
		Type:    eventType,
		Time:    time.Now(),
		Message: fmt.Sprintf(format, args...),
		Owner:   owner,
		Address: address,
		Size:    size,
	})
}

func (q *eventQueue) RegionSplit(offset, parentSize, childSize int) {
	q.record(EventSplit, "", offset, parentSize,
		"Split block of size %d at address %d into two blocks of size %d", parentSize, offset, childSize)
}

func (q *eventQueue) RegionsMerged(offset, mergedSize int) {
	q.record(EventMerged, "", offset, mergedSize,
		"Merged block at address %d into size %d", offset, mergedSize)
}

// mark returns a position that rollback can later discard events back to
func (q *eventQueue) mark() int {
	return len(q.pending)
}

func (q *eventQueue) rollback(mark int) {
	q.pending = q.pending[:mark]
}

func (q *eventQueue) drain() []Event {
	events := q.pending
	q.pending = nil
	return events
}

func (q *eventQueue) dispatch(events []Event) {
	for _, event := range events {
		q.logger.LogAttrs(context.Background(), event.Type.level(), event.Message,
			slog.String("type", event.Type.String()),
			slog.String("owner", event.Owner),
			slog.Int("address", event.Address),
			slog.Int("size", event.Size),
		)

		if q.sink != nil {
			q.sink.OnEvent(event)
		}
	}
}
