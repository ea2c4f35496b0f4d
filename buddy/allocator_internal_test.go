package buddy

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func TestFailedReleaseEmitsNoEvents(t *testing.T) {
	var delivered []Event
	allocator, err := New(slog.New(slog.NewTextHandler(io.Discard)), 64, CreateOptions{
		EventSink: EventSinkFunc(func(event Event) {
			delivered = append(delivered, event)
		}),
	})
	require.NoError(t, err)

	alloc, err := allocator.AllocateHandle(8, "A")
	require.NoError(t, err)

	// Release the block behind the allocator's back so its own release fails in the metadata
	require.NoError(t, allocator.metadata.Free(alloc.handle))
	allocator.events.drain()
	delivered = nil

	require.Error(t, alloc.Free())
	require.Empty(t, delivered)
	require.Empty(t, allocator.events.pending)
	require.Len(t, allocator.Allocations(), 1)

	require.False(t, allocator.Deallocate("A"))
	require.Empty(t, delivered)
	require.Empty(t, allocator.events.pending)
}

func TestEventQueueRollback(t *testing.T) {
	queue := eventQueue{}

	queue.record(EventAllocated, "A", 0, 8, "kept")
	mark := queue.mark()
	queue.record(EventDeallocated, "A", 0, 8, "withdrawn")
	queue.RegionsMerged(0, 16)
	queue.rollback(mark)

	events := queue.drain()
	require.Len(t, events, 1)
	require.Equal(t, "kept", events[0].Message)
	require.Empty(t, queue.drain())
}
