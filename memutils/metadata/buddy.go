package metadata

import (
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/buddysim/memutils"
	"golang.org/x/exp/slices"
)

type buddyAllocation struct {
	offset        int
	size          int
	requestedSize int
	userData      any
}

type buddyRegion struct {
	handle   BlockAllocationHandle
	offset   int
	size     int
	userData any
	free     bool
}

// BuddyBlockMetadata is a BlockMetadata implementation of the binary buddy algorithm. The block
// must be a power of two in size. Every allocation is rounded up to a power-of-two block, which is
// produced by repeatedly halving the lowest-addressed free block of the smallest size class that
// has one. When an allocation is freed, it is merged with its buddy (offset XOR size) for as long
// as the buddy is also free, so no two free buddies ever coexist.
//
// Free blocks are tracked in one ascending list of offsets per size class, which makes placement
// deterministic: the lowest free address of the matching size class is always chosen.
type BuddyBlockMetadata struct {
	BlockMetadataBase

	// freeLists[i] holds the ascending offsets of free blocks of size 1<<i
	freeLists [][]int

	allocCount      int
	allocatedSize   int
	requestedSize   int
	freeRegionCount int
	sumFreeSize     int

	nextAllocationHandle BlockAllocationHandle
	handleKey            *swiss.Map[BlockAllocationHandle, *buddyAllocation]
}

var _ BlockMetadata = &BuddyBlockMetadata{}

// NewBuddyBlockMetadata creates a new BuddyBlockMetadata that reports splits and merges to
// observer. observer may be nil.
func NewBuddyBlockMetadata(observer RegionObserver) *BuddyBlockMetadata {
	return &BuddyBlockMetadata{
		BlockMetadataBase: NewBlockMetadata(observer),
	}
}

// Init prepares the metadata to manage size units of address space, all of it initially free
// as a single block. size must be a positive power of two.
func (m *BuddyBlockMetadata) Init(size int) {
	if size < 1 {
		panic(fmt.Sprintf("buddy metadata cannot manage a block of size %d", size))
	}
	err := memutils.CheckPow2(size, "size")
	if err != nil {
		panic(err)
	}

	m.BlockMetadataBase.Init(size)
	m.handleKey = swiss.NewMap[BlockAllocationHandle, *buddyAllocation](42)
	m.freeLists = make([][]int, memutils.Log2(size)+1)
	m.resetFreeLists()
}

func (m *BuddyBlockMetadata) resetFreeLists() {
	for listIndex := range m.freeLists {
		m.freeLists[listIndex] = m.freeLists[listIndex][:0]
	}

	top := len(m.freeLists) - 1
	m.freeLists[top] = append(m.freeLists[top], 0)

	m.freeRegionCount = 1
	m.sumFreeSize = m.size
	m.allocCount = 0
	m.allocatedSize = 0
	m.requestedSize = 0
}

func (m *BuddyBlockMetadata) getAllocation(handle BlockAllocationHandle) (*buddyAllocation, error) {
	alloc, ok := m.handleKey.Get(handle)
	if !ok {
		return nil, errors.New("received a handle that was incompatible with this metadata")
	}
	return alloc, nil
}

// SizeClasses returns every block size this metadata can produce, largest first
func (m *BuddyBlockMetadata) SizeClasses() []int {
	sizes := make([]int, 0, len(m.freeLists))
	for listIndex := len(m.freeLists) - 1; listIndex >= 0; listIndex-- {
		sizes = append(sizes, 1<<listIndex)
	}
	return sizes
}

// FreeRegions returns a copy of the ascending offsets of free blocks of the provided size. Sizes
// that are not a size class of this metadata have no free regions.
func (m *BuddyBlockMetadata) FreeRegions(size int) []int {
	if size < 1 || size > m.size || size&(size-1) != 0 {
		return nil
	}

	return slices.Clone(m.freeLists[memutils.Log2(size)])
}

func (m *BuddyBlockMetadata) AllocationCount() int {
	return m.allocCount
}

func (m *BuddyBlockMetadata) FreeRegionsCount() int {
	return m.freeRegionCount
}

func (m *BuddyBlockMetadata) SumFreeSize() int {
	return m.sumFreeSize
}

func (m *BuddyBlockMetadata) IsEmpty() bool {
	return m.allocCount == 0
}

func (m *BuddyBlockMetadata) Validate() error {
	if m.SumFreeSize() > m.Size() {
		return errors.New("invalid metadata free size")
	}

	var freeCount, freeSize int

	// Check integrity of free lists
	for listIndex, freeList := range m.freeLists {
		size := 1 << listIndex

		for i, offset := range freeList {
			if i > 0 && freeList[i-1] >= offset {
				return errors.Errorf("free list for size %d is not in ascending order at offset %d", size, offset)
			}
			if offset < 0 || offset+size > m.size {
				return errors.Errorf("free block at offset %d of size %d lies outside of the block", offset, size)
			}
			if memutils.AlignDown(offset, uint(size)) != offset {
				return errors.Errorf("free block at offset %d is not aligned to its size %d", offset, size)
			}
			if size < m.size {
				if _, found := slices.BinarySearch(freeList, offset^size); found {
					return errors.Errorf("free block at offset %d and its buddy at offset %d are both free at size %d but were not merged", offset, offset^size, size)
				}
			}

			freeCount++
			freeSize += size
		}
	}

	var allocCount, allocatedSize, requestedSize int
	var allocErr error
	m.handleKey.Iter(func(handle BlockAllocationHandle, alloc *buddyAllocation) bool {
		if alloc.size < 1 || alloc.size&(alloc.size-1) != 0 {
			allocErr = errors.Errorf("allocation at offset %d has a size %d that is not a power of two", alloc.offset, alloc.size)
			return true
		}
		if alloc.requestedSize < 1 || alloc.requestedSize > alloc.size {
			allocErr = errors.Errorf("allocation at offset %d requested %d but reserved %d", alloc.offset, alloc.requestedSize, alloc.size)
			return true
		}
		if memutils.AlignDown(alloc.offset, uint(alloc.size)) != alloc.offset {
			allocErr = errors.Errorf("allocation at offset %d is not aligned to its size %d", alloc.offset, alloc.size)
			return true
		}

		allocCount++
		allocatedSize += alloc.size
		requestedSize += alloc.requestedSize
		return false
	})
	if allocErr != nil {
		return allocErr
	}

	// Free and allocated regions must tile the block exactly
	nextOffset := 0
	for _, region := range m.regions() {
		if region.offset != nextOffset {
			return errors.Errorf("region at offset %d does not begin where the previous region ended (%d)", region.offset, nextOffset)
		}
		nextOffset = region.offset + region.size
	}

	if nextOffset != m.size {
		return errors.Errorf("the full size of the metadata is %d, but the regions only added up to %d", m.size, nextOffset)
	}

	if freeSize+allocatedSize != m.size {
		return errors.Errorf("free size %d and allocated size %d do not add up to the block size %d", freeSize, allocatedSize, m.size)
	}

	if freeSize != m.sumFreeSize {
		return errors.Errorf("the free size of the metadata is %d, but the free blocks only added up to %d", m.sumFreeSize, freeSize)
	}

	if freeCount != m.freeRegionCount {
		return errors.Errorf("the free region count of the metadata is %d, but there were %d free blocks", m.freeRegionCount, freeCount)
	}

	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but there were %d allocations", m.allocCount, allocCount)
	}

	if allocatedSize != m.allocatedSize || requestedSize != m.requestedSize {
		return errors.Errorf("the metadata tracks %d allocated and %d requested, but the allocations added up to %d and %d", m.allocatedSize, m.requestedSize, allocatedSize, requestedSize)
	}

	return nil
}

func (m *BuddyBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size

	for listIndex, freeList := range m.freeLists {
		for range freeList {
			stats.AddUnusedRange(1 << listIndex)
		}
	}

	m.handleKey.Iter(func(handle BlockAllocationHandle, alloc *buddyAllocation) bool {
		stats.AddAllocation(alloc.size, alloc.requestedSize)
		return false
	})
}

func (m *BuddyBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += m.allocCount
	stats.BlockBytes += m.size
	stats.AllocationBytes += m.allocatedSize
	stats.RequestedBytes += m.requestedSize
}

// BlockJsonData populates a json object with information about this block, including the
// contents of every free list
func (m *BuddyBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.BlockMetadataBase.BlockJsonData(json, m.sumFreeSize, m.allocCount, m.freeRegionCount)
	json.Name("RequestedBytes").Int(m.requestedSize)
	json.Name("InternalFragmentation").Int(m.allocatedSize - m.requestedSize)

	freeLists := json.Name("FreeLists").Object()
	defer freeLists.End()

	for listIndex := len(m.freeLists) - 1; listIndex >= 0; listIndex-- {
		offsets := freeLists.Name(strconv.Itoa(1 << listIndex)).Array()
		for _, offset := range m.freeLists[listIndex] {
			offsets.Int(offset)
		}
		offsets.End()
	}
}

func (m *BuddyBlockMetadata) CreateAllocationRequest(allocSize int) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if allocSize < 1 {
		return false, allocRequest, errors.Wrapf(memutils.InvalidSizeError, "invalid allocSize: %d", allocSize)
	}

	memutils.DebugValidate(m)

	// Is the block big enough?
	if allocSize > m.size {
		return false, allocRequest, nil
	}

	blockSize := memutils.NextPow2(allocSize)

	// The smallest size class at or above the target with a free block is the one that gets split
	for listIndex := memutils.Log2(blockSize); listIndex < len(m.freeLists); listIndex++ {
		if len(m.freeLists[listIndex]) == 0 {
			continue
		}

		allocRequest.Type = AllocationRequestBuddy
		allocRequest.Offset = m.freeLists[listIndex][0]
		allocRequest.Size = blockSize
		allocRequest.RequestedSize = allocSize
		allocRequest.AlgorithmData = uint64(listIndex)
		return true, allocRequest, nil
	}

	// Exhausted or too fragmented
	return false, allocRequest, nil
}

func (m *BuddyBlockMetadata) Alloc(req AllocationRequest, userData any) (BlockAllocationHandle, error) {
	if req.Type != AllocationRequestBuddy {
		return NoAllocation, errors.New("allocation request was received by an incompatible metadata")
	}

	if req.Size < 1 || req.Size > m.size || req.Size&(req.Size-1) != 0 {
		return NoAllocation, errors.Errorf("allocation request has an invalid block size %d", req.Size)
	}

	if req.RequestedSize < 1 || req.RequestedSize > req.Size {
		return NoAllocation, errors.Errorf("allocation request asked for %d, which does not fit a block of size %d", req.RequestedSize, req.Size)
	}

	targetIndex := memutils.Log2(req.Size)
	listIndex := int(req.AlgorithmData)
	if listIndex < targetIndex || listIndex >= len(m.freeLists) {
		return NoAllocation, errors.Errorf("allocation request names size class %d, which cannot produce a block of size %d", listIndex, req.Size)
	}

	freeList := m.freeLists[listIndex]
	if len(freeList) == 0 || freeList[0] != req.Offset {
		return NoAllocation, errors.Errorf("allocation request for offset %d is stale: the free region no longer exists", req.Offset)
	}

	for i := targetIndex; i < listIndex; i++ {
		if len(m.freeLists[i]) > 0 {
			return NoAllocation, errors.Errorf("allocation request for offset %d is stale: a free region of size %d is now available", req.Offset, 1<<i)
		}
	}

	// Split down to the requested size class
	for ; listIndex > targetIndex; listIndex-- {
		m.splitBlock(listIndex)
	}

	offset := m.popFreeBlock(targetIndex)
	if offset != req.Offset {
		panic(fmt.Sprintf("split produced offset %d but offset %d was requested", offset, req.Offset))
	}

	m.allocCount++
	m.allocatedSize += req.Size
	m.requestedSize += req.RequestedSize

	handle := BlockAllocationHandle(atomic.AddUint64((*uint64)(&m.nextAllocationHandle), 1))
	m.handleKey.Put(handle, &buddyAllocation{
		offset:        offset,
		size:          req.Size,
		requestedSize: req.RequestedSize,
		userData:      userData,
	})

	return handle, nil
}

func (m *BuddyBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	alloc, err := m.getAllocation(allocHandle)
	if err != nil {
		return err
	}

	m.handleKey.Delete(allocHandle)
	m.allocCount--
	m.allocatedSize -= alloc.size
	m.requestedSize -= alloc.requestedSize

	memutils.DebugCheckPow2(alloc.size, "allocation size")

	offset := alloc.offset
	listIndex := memutils.Log2(alloc.size)
	m.insertFreeBlock(offset, listIndex)

	// Try merging
	for size := alloc.size; size < m.size; size <<= 1 {
		buddyOffset := offset ^ size
		if !m.removeFreeBlock(buddyOffset, listIndex) {
			break
		}
		if !m.removeFreeBlock(offset, listIndex) {
			panic(fmt.Sprintf("block at offset %d was freed but is missing from the free list for size %d", offset, size))
		}

		offset = min(offset, buddyOffset)
		listIndex++
		m.insertFreeBlock(offset, listIndex)
		m.observer.RegionsMerged(offset, size<<1)
	}

	return nil
}

func (m *BuddyBlockMetadata) splitBlock(listIndex int) {
	if listIndex == 0 {
		panic("cannot split a block of size 1")
	}

	offset := m.popFreeBlock(listIndex)
	childSize := 1 << (listIndex - 1)

	m.insertFreeBlock(offset, listIndex-1)
	m.insertFreeBlock(offset+childSize, listIndex-1)
	m.observer.RegionSplit(offset, childSize<<1, childSize)
}

func (m *BuddyBlockMetadata) popFreeBlock(listIndex int) int {
	freeList := m.freeLists[listIndex]
	if len(freeList) == 0 {
		panic(fmt.Sprintf("free list for size %d is empty", 1<<listIndex))
	}

	offset := freeList[0]
	m.freeLists[listIndex] = slices.Delete(freeList, 0, 1)
	m.freeRegionCount--
	m.sumFreeSize -= 1 << listIndex

	return offset
}

func (m *BuddyBlockMetadata) insertFreeBlock(offset, listIndex int) {
	freeList := m.freeLists[listIndex]
	position, found := slices.BinarySearch(freeList, offset)
	if found {
		panic(fmt.Sprintf("block at offset %d is already in the free list for size %d", offset, 1<<listIndex))
	}

	m.freeLists[listIndex] = slices.Insert(freeList, position, offset)
	m.freeRegionCount++
	m.sumFreeSize += 1 << listIndex
}

func (m *BuddyBlockMetadata) removeFreeBlock(offset, listIndex int) bool {
	freeList := m.freeLists[listIndex]
	position, found := slices.BinarySearch(freeList, offset)
	if !found {
		return false
	}

	m.freeLists[listIndex] = slices.Delete(freeList, position, position+1)
	m.freeRegionCount--
	m.sumFreeSize -= 1 << listIndex
	return true
}

func (m *BuddyBlockMetadata) regions() []buddyRegion {
	regions := make([]buddyRegion, 0, m.freeRegionCount+m.allocCount)

	for listIndex, freeList := range m.freeLists {
		for _, offset := range freeList {
			regions = append(regions, buddyRegion{
				handle: NoAllocation,
				offset: offset,
				size:   1 << listIndex,
				free:   true,
			})
		}
	}

	m.handleKey.Iter(func(handle BlockAllocationHandle, alloc *buddyAllocation) bool {
		regions = append(regions, buddyRegion{
			handle:   handle,
			offset:   alloc.offset,
			size:     alloc.size,
			userData: alloc.userData,
		})
		return false
	})

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].offset < regions[j].offset
	})

	return regions
}

func (m *BuddyBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	for _, region := range m.regions() {
		err := handleBlock(region.handle, region.offset, region.size, region.userData, region.free)
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *BuddyBlockMetadata) Clear() {
	m.handleKey = swiss.NewMap[BlockAllocationHandle, *buddyAllocation](42)
	m.resetFreeLists()
}

func (m *BuddyBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	alloc, err := m.getAllocation(allocHandle)
	if err != nil {
		return 0, err
	}

	return alloc.offset, nil
}

// Suballocation returns a description of the live allocation mapped to allocHandle
func (m *BuddyBlockMetadata) Suballocation(allocHandle BlockAllocationHandle) (Suballocation, error) {
	alloc, err := m.getAllocation(allocHandle)
	if err != nil {
		return Suballocation{}, err
	}

	return Suballocation{
		Offset:        alloc.offset,
		Size:          alloc.size,
		RequestedSize: alloc.requestedSize,
		UserData:      alloc.userData,
	}, nil
}

func (m *BuddyBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	alloc, err := m.getAllocation(allocHandle)
	if err != nil {
		return nil, err
	}

	return alloc.userData, nil
}

func (m *BuddyBlockMetadata) SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error {
	alloc, err := m.getAllocation(allocHandle)
	if err != nil {
		return err
	}

	alloc.userData = userData
	return nil
}
