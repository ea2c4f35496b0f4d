package buddy

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/buddysim/memutils/metadata"
)

// Allocation is a block reserved by an Allocator on behalf of an owner. Its accessors are
// safe to call after the allocation has been freed; they continue to describe the block as
// it was.
type Allocation struct {
	owner         string
	address       int
	blockSize     int
	requestedSize int

	handle          metadata.BlockAllocationHandle
	parentAllocator *Allocator
}

// Owner returns the identifier the allocation was made on behalf of
func (a *Allocation) Owner() string { return a.owner }

// Address returns the first address of the reserved block
func (a *Allocation) Address() int { return a.address }

// BlockSize returns the power-of-two size of the reserved block
func (a *Allocation) BlockSize() int { return a.blockSize }

// RequestedSize returns the size that was asked for
func (a *Allocation) RequestedSize() int { return a.requestedSize }

// InternalFragmentation is the unused space at the end of the reserved block
func (a *Allocation) InternalFragmentation() int {
	return a.blockSize - a.requestedSize
}

// Free releases this allocation back to the Allocator that made it
func (a *Allocation) Free() error {
	if a == nil || a.parentAllocator == nil {
		return errors.New("attempted to free an allocation that was not made by an allocator")
	}

	return a.parentAllocator.Free(a)
}

func (a *Allocation) info() AllocationInfo {
	return AllocationInfo{
		Owner:         a.owner,
		Address:       a.address,
		BlockSize:     a.blockSize,
		RequestedSize: a.requestedSize,
	}
}

func (a *Allocation) printParameters(json *jwriter.ObjectState) {
	json.Name("Owner").String(a.owner)
	json.Name("Address").Int(a.address)
	json.Name("BlockSize").Int(a.blockSize)
	json.Name("RequestedSize").Int(a.requestedSize)
	json.Name("InternalFragmentation").Int(a.InternalFragmentation())
}
