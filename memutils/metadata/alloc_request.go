package metadata

// AllocationRequestType is an enum that indicates the type of allocation that is being made.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestNone is the zero value and is never produced by a BlockMetadata. Alloc
	// rejects requests of this type.
	AllocationRequestNone AllocationRequestType = iota
	// AllocationRequestBuddy indicates that the allocation request was sourced from metadata.BuddyBlockMetadata
	AllocationRequestBuddy
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestNone:  "None",
	AllocationRequestBuddy: "Buddy",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where and how
// the metadata intends to allocate new memory. It can be committed to the metadata with BlockMetadata.Alloc
type AllocationRequest struct {
	// Offset is the address the allocation will be placed at
	Offset int
	// Size the total size of the allocation, maybe larger than what was originally requested
	Size int
	// RequestedSize is the value passed into CreateAllocationRequest by the consumer
	RequestedSize int
	// Type identifies the sort of allocation this request represents (and can be used
	// to identify the BlockMetadata implementation used to generate this request).
	Type AllocationRequestType

	// AlgorithmData is arbitrary data used by the BlockMetadata implementation for internal
	// purposes
	AlgorithmData uint64
}
