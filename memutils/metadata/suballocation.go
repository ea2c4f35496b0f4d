package metadata

import "math"

type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

// Suballocation describes a live allocation. Size is the power-of-two block that was reserved,
// RequestedSize is what the consumer asked for.
type Suballocation struct {
	Offset        int
	Size          int
	RequestedSize int
	UserData      any
}
