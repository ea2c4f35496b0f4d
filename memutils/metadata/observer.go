package metadata

// RegionObserver is notified whenever a BlockMetadata reshapes its free regions. Calls are made
// synchronously from inside Alloc and Free, after the change has been applied.
type RegionObserver interface {
	// RegionSplit is called when the free region at offset of size parentSize is divided into
	// two free regions of childSize, at offset and offset+childSize.
	RegionSplit(offset, parentSize, childSize int)
	// RegionsMerged is called when two free buddy regions are combined into a single free
	// region at offset of mergedSize.
	RegionsMerged(offset, mergedSize int)
}

// NoopRegionObserver is a RegionObserver that ignores every notification
type NoopRegionObserver struct{}

func (o NoopRegionObserver) RegionSplit(offset, parentSize, childSize int) {}
func (o NoopRegionObserver) RegionsMerged(offset, mergedSize int)          {}
