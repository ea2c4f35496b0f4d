package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// InvalidConfigurationError is returned when an allocator is constructed with a total size that
// cannot be managed: non-positive, or not a power of two
var InvalidConfigurationError error = errors.New("invalid allocator configuration")

// InvalidSizeError is returned when an allocation of a non-positive size is requested. Nothing is
// mutated when it is returned.
var InvalidSizeError error = errors.New("allocation size must be positive")

// InsufficientMemoryError is returned when no free block of the needed size can be produced, either
// because the address space is exhausted or because it is too fragmented. It is recoverable: freeing
// other allocations and retrying may succeed.
var InsufficientMemoryError error = errors.New("insufficient memory")
