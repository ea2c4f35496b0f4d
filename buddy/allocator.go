package buddy

import (
	"context"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/buddysim/buddy/internal/utils"
	"github.com/vkngwrapper/buddysim/memutils"
	"github.com/vkngwrapper/buddysim/memutils/metadata"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// maxBlockSize is the largest power of two an int can hold
const maxBlockSize = 1 << (bits.UintSize - 2)

// Allocator simulates the binary buddy allocation algorithm over a fixed address space. Callers
// allocate blocks on behalf of an owner, an opaque string, and release them by owner or by
// Allocation handle.
//
// Every operation runs to completion, including all splits and merges, before it returns, and
// either fully applies or leaves the allocator untouched. Unless AllocatorCreateExternallySynchronized
// was passed to New, the allocator may be used from several goroutines at once.
type Allocator struct {
	logger      *slog.Logger
	createFlags CreateFlags

	mutex    utils.OptionalRWMutex
	events   eventQueue
	metadata *metadata.BuddyBlockMetadata

	// Live allocations in the order they were made
	allocations []*Allocation
}

// Stats is the space accounting of an Allocator. The three values always add up to the total size.
type Stats struct {
	// AllocatedSpace is the sum of the sizes requested by live allocations
	AllocatedSpace int
	// FreeSpace is the sum of the sizes of all free blocks
	FreeSpace int
	// InternalFragmentation is the space reserved by live allocations beyond what they requested
	InternalFragmentation int
}

// AllocationInfo is a snapshot of a live allocation
type AllocationInfo struct {
	Owner         string
	Address       int
	BlockSize     int
	RequestedSize int
}

// InternalFragmentation is the unused space at the end of the allocation's block
func (i AllocationInfo) InternalFragmentation() int {
	return i.BlockSize - i.RequestedSize
}

// Region is a snapshot of one block of the address space, either free or allocated
type Region struct {
	Address int
	Size    int
	Free    bool

	// Owner and RequestedSize are only populated for allocated regions
	Owner         string
	RequestedSize int
}

// TotalSize returns the size of the address space this allocator manages
func (a *Allocator) TotalSize() int {
	return a.metadata.Size()
}

// FindBlockSize returns the size of the block that an allocation of requestedSize would reserve:
// the smallest power of two greater than or equal to requestedSize.
func (a *Allocator) FindBlockSize(requestedSize int) (int, error) {
	if requestedSize < 1 {
		return 0, errors.Wrapf(memutils.InvalidSizeError, "requested size is %d", requestedSize)
	}
	if requestedSize > maxBlockSize {
		return 0, errors.Wrapf(memutils.InsufficientMemoryError, "no block can hold %d", requestedSize)
	}

	return memutils.NextPow2(requestedSize), nil
}

// Allocate reserves a block of at least requestedSize on behalf of owner and returns its address.
// The block is placed at the lowest free address of the smallest power-of-two size class that can
// hold requestedSize, splitting larger free blocks as needed.
//
// An error matching memutils.InvalidSizeError is returned if requestedSize is not positive, and an
// error matching memutils.InsufficientMemoryError is returned if no block of the needed size can be
// produced. Owners are not required to be unique.
func (a *Allocator) Allocate(requestedSize int, owner string) (int, error) {
	alloc, err := a.AllocateHandle(requestedSize, owner)
	if err != nil {
		return 0, err
	}

	return alloc.Address(), nil
}

// AllocateHandle behaves like Allocate, but returns an Allocation that can later be passed to Free.
func (a *Allocator) AllocateHandle(requestedSize int, owner string) (*Allocation, error) {
	a.mutex.Lock()
	alloc, err := a.allocate(requestedSize, owner)
	events := a.events.drain()
	a.mutex.Unlock()

	a.events.dispatch(events)
	return alloc, err
}

func (a *Allocator) allocate(requestedSize int, owner string) (*Allocation, error) {
	blockSize, err := a.FindBlockSize(requestedSize)
	if err != nil {
		a.events.record(EventAllocationFailed, owner, 0, requestedSize,
			"Allocation failed for owner '%s' with size %d: %v", owner, requestedSize, err)
		return nil, errors.Wrapf(err, "failed to allocate for owner '%s'", owner)
	}

	a.events.record(EventAllocationAttempt, owner, 0, blockSize,
		"Attempting to allocate %d units (%d unit block) for owner '%s'", requestedSize, blockSize, owner)

	success, request, err := a.metadata.CreateAllocationRequest(requestedSize)
	if err != nil {
		return nil, err
	}

	if !success {
		a.events.record(EventAllocationFailed, owner, 0, requestedSize,
			"Allocation failed for owner '%s' with size %d: not enough memory", owner, requestedSize)

		if blockSize > a.metadata.Size() {
			return nil, errors.Wrapf(memutils.InsufficientMemoryError,
				"block size %d for owner '%s' exceeds the total size %d", blockSize, owner, a.metadata.Size())
		}

		return nil, errors.Wrapf(memutils.InsufficientMemoryError,
			"no free block of size %d could be produced for owner '%s'", blockSize, owner)
	}

	alloc := &Allocation{
		owner:           owner,
		address:         request.Offset,
		blockSize:       request.Size,
		requestedSize:   requestedSize,
		parentAllocator: a,
	}

	alloc.handle, err = a.metadata.Alloc(request, alloc)
	if err != nil {
		return nil, err
	}

	a.allocations = append(a.allocations, alloc)

	a.events.record(EventAllocated, owner, alloc.address, alloc.blockSize,
		"Allocated %d units to owner '%s' at address %d", requestedSize, owner, alloc.address)

	return alloc, nil
}

// Deallocate releases the earliest live allocation made on behalf of owner, merging the freed block
// with its buddies for as long as they are free. It returns false, and changes nothing, if owner
// has no live allocation.
func (a *Allocator) Deallocate(owner string) bool {
	a.mutex.Lock()
	found := a.deallocate(owner)
	events := a.events.drain()
	a.mutex.Unlock()

	a.events.dispatch(events)
	return found
}

func (a *Allocator) deallocate(owner string) bool {
	index := slices.IndexFunc(a.allocations, func(alloc *Allocation) bool {
		return alloc.owner == owner
	})
	if index < 0 {
		a.events.record(EventDeallocationFailed, owner, 0, 0, "Deallocate failed: no owner named '%s' found", owner)
		return false
	}

	err := a.freeAt(index)
	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelError, "failed to release allocation",
			slog.String("owner", owner),
			slog.Any("error", err))
		return false
	}

	return true
}

// Free releases a specific allocation. Unlike Deallocate, it is unambiguous when several live
// allocations share an owner. An error is returned if the allocation was already freed or was
// made by a different Allocator.
func (a *Allocator) Free(alloc *Allocation) error {
	if alloc == nil {
		return errors.New("attempted to free a nil allocation")
	}

	a.mutex.Lock()
	err := a.free(alloc)
	events := a.events.drain()
	a.mutex.Unlock()

	a.events.dispatch(events)
	return err
}

func (a *Allocator) free(alloc *Allocation) error {
	if alloc.parentAllocator != a {
		return errors.Newf("allocation for owner '%s' was made by a different allocator", alloc.owner)
	}

	index := slices.Index(a.allocations, alloc)
	if index < 0 {
		return errors.Newf("allocation for owner '%s' at address %d has already been freed", alloc.owner, alloc.address)
	}

	return a.freeAt(index)
}

func (a *Allocator) freeAt(index int) error {
	alloc := a.allocations[index]

	// Merge events follow the deallocation, so it is recorded first and withdrawn on failure
	mark := a.events.mark()
	a.events.record(EventDeallocated, alloc.owner, alloc.address, alloc.blockSize,
		"Deallocated memory of owner '%s' at address %d", alloc.owner, alloc.address)

	err := a.metadata.Free(alloc.handle)
	if err != nil {
		a.events.rollback(mark)
		return errors.Wrapf(err, "allocation for owner '%s' is not tracked by the block metadata", alloc.owner)
	}

	a.allocations = slices.Delete(a.allocations, index, index+1)
	alloc.handle = metadata.NoAllocation
	return nil
}

// Stats returns the current space accounting. It does not modify the allocator.
func (a *Allocator) Stats() Stats {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var stats memutils.Statistics
	a.metadata.AddStatistics(&stats)

	return Stats{
		AllocatedSpace:        stats.RequestedBytes,
		FreeSpace:             a.metadata.SumFreeSize(),
		InternalFragmentation: stats.InternalFragmentation(),
	}
}

// DetailedStatistics returns allocation and free-range statistics, including the smallest and
// largest free blocks
func (a *Allocator) DetailedStatistics() memutils.DetailedStatistics {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var stats memutils.DetailedStatistics
	stats.Clear()
	a.metadata.AddDetailedStatistics(&stats)
	return stats
}

// Allocations returns a snapshot of the live allocations in the order they were made
func (a *Allocator) Allocations() []AllocationInfo {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	infos := make([]AllocationInfo, 0, len(a.allocations))
	for _, alloc := range a.allocations {
		infos = append(infos, alloc.info())
	}
	return infos
}

// FreeLists returns a snapshot of every size class, mapped to the ascending addresses of its
// free blocks. Size classes without free blocks map to an empty slice.
func (a *Allocator) FreeLists() map[int][]int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	freeLists := make(map[int][]int)
	for _, size := range a.metadata.SizeClasses() {
		freeList := a.metadata.FreeRegions(size)
		if freeList == nil {
			freeList = []int{}
		}
		freeLists[size] = freeList
	}
	return freeLists
}

// Regions returns a snapshot of the whole address space as a sequence of free and allocated
// blocks in ascending address order
func (a *Allocator) Regions() ([]Region, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var regions []Region
	err := a.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		region := Region{
			Address: offset,
			Size:    size,
			Free:    free,
		}

		if alloc, ok := userData.(*Allocation); ok && !free {
			region.Owner = alloc.owner
			region.RequestedSize = alloc.requestedSize
		}

		regions = append(regions, region)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return regions, nil
}

// Validate performs internal consistency checks on the allocator and its block metadata. When
// the allocator is functioning correctly, it should not be possible for this method to return an error.
func (a *Allocator) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	err := a.metadata.Validate()
	if err != nil {
		return err
	}

	if len(a.allocations) != a.metadata.AllocationCount() {
		return errors.Newf("the allocator tracks %d allocations, but the block metadata has %d", len(a.allocations), a.metadata.AllocationCount())
	}

	for _, alloc := range a.allocations {
		suballoc, err := a.metadata.Suballocation(alloc.handle)
		if err != nil {
			return errors.Wrapf(err, "allocation for owner '%s' at address %d", alloc.owner, alloc.address)
		}

		if suballoc.UserData != alloc {
			return errors.Newf("allocation for owner '%s' at address %d does not match its block metadata entry", alloc.owner, alloc.address)
		}

		if suballoc.Offset != alloc.address || suballoc.Size != alloc.blockSize || suballoc.RequestedSize != alloc.requestedSize {
			return errors.Newf("allocation for owner '%s' is recorded at address %d with size %d/%d, but the block metadata has address %d with size %d/%d",
				alloc.owner, alloc.address, alloc.requestedSize, alloc.blockSize, suballoc.Offset, suballoc.RequestedSize, suballoc.Size)
		}
	}

	return nil
}

// BuildStatsString returns a json document describing the allocator's space accounting. When
// detailed is true, it also describes the contents of every free list and every live allocation.
func (a *Allocator) BuildStatsString(detailed bool) string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var stats memutils.Statistics
	a.metadata.AddStatistics(&stats)

	writer := jwriter.NewWriter()
	objState := writer.Object()

	totalObj := objState.Name("Total").Object()
	totalObj.Name("TotalSize").Int(a.metadata.Size())
	totalObj.Name("AllocatedSpace").Int(stats.RequestedBytes)
	totalObj.Name("FreeSpace").Int(a.metadata.SumFreeSize())
	totalObj.Name("InternalFragmentation").Int(stats.InternalFragmentation())
	totalObj.Name("AllocationCount").Int(stats.AllocationCount)
	totalObj.End()

	if detailed {
		blockObj := objState.Name("Block").Object()
		a.metadata.BlockJsonData(&blockObj)
		blockObj.End()

		allocArray := objState.Name("Allocations").Array()
		for _, alloc := range a.allocations {
			allocObj := allocArray.Object()
			alloc.printParameters(&allocObj)
			allocObj.End()
		}
		allocArray.End()
	}

	objState.End()
	return string(writer.Bytes())
}
