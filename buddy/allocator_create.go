package buddy

import (
	"math/bits"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/buddysim/buddy/internal/utils"
	"github.com/vkngwrapper/buddysim/memutils"
	"github.com/vkngwrapper/buddysim/memutils/metadata"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = map[CreateFlags]string{}

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping[f] = str
}

func (f CreateFlags) String() string {
	var names []string
	for remaining := uint32(f); remaining != 0; remaining &= remaining - 1 {
		flag := CreateFlags(1 << bits.TrailingZeros32(remaining))
		name, ok := allocatorCreateFlagsMapping[flag]
		if !ok {
			name = "UnknownCreateFlag"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator and all objects created from it
	// will not be synchronized internally. The consumer must guarantee they are used from only one
	// goroutine at a time or are synchronized by some other mechanism.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	AllocatorCreateExternallySynchronized.Register("AllocatorCreateExternallySynchronized")
}

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags

	// EventSink is an optional observer that receives an Event for every significant step:
	// construction, allocation attempts and results, splits, deallocations and merges. It never
	// affects control flow.
	EventSink EventSink
}

// New creates a new Allocator managing the address space [0, totalSize), all of it initially free.
//
// logger - Receives a structured record of every Event. If nil, slog.Default() is used.
//
// totalSize - The size of the address space. It must be a positive power of two, otherwise an
// error matching memutils.InvalidConfigurationError is returned.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, totalSize int, options CreateOptions) (*Allocator, error) {
	if totalSize < 1 {
		return nil, errors.Wrapf(memutils.InvalidConfigurationError, "total size must be positive, but was %d", totalSize)
	}

	err := memutils.CheckPow2(totalSize, "total size")
	if err != nil {
		return nil, errors.Mark(err, memutils.InvalidConfigurationError)
	}

	if logger == nil {
		logger = slog.Default()
	}

	allocator := &Allocator{
		logger:      logger,
		createFlags: options.Flags,
		mutex: utils.OptionalRWMutex{
			UseMutex: options.Flags&AllocatorCreateExternallySynchronized == 0,
		},
		events: eventQueue{
			logger: logger,
			sink:   options.EventSink,
		},
	}

	allocator.metadata = metadata.NewBuddyBlockMetadata(&allocator.events)
	allocator.metadata.Init(totalSize)

	allocator.events.record(EventInitialized, "", 0, totalSize, "Initialized buddy allocator with %d units of memory", totalSize)
	allocator.events.dispatch(allocator.events.drain())

	return allocator, nil
}
