package interfaces

// Observer receives pool events for metrics collection. Methods are called
// from worker, relay and reactor goroutines and must be safe for concurrent use.
type Observer interface {
	// ObserveRead is called after a read finished executing
	ObserveRead(bytes uint64, latencyNs uint64, success bool)

	// ObserveWrite is called after a write finished executing
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)

	// ObserveUnmap is called after an unmap finished executing
	ObserveUnmap(bytes uint64, latencyNs uint64, success bool)

	// ObserveSync is called after a cache sync finished executing
	ObserveSync(latencyNs uint64, success bool)

	// ObserveQueueDepth is called on submission with the pending depth
	ObserveQueueDepth(depth uint32)

	// ObserveBatch is called by the relay with the size of each batch it hands over
	ObserveBatch(size uint32)

	// ObserveCompletion is called on the reactor with submit-to-completion latency
	ObserveCompletion(latencyNs uint64)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool) {}
func (NoOpObserver) ObserveUnmap(uint64, uint64, bool) {}
func (NoOpObserver) ObserveSync(uint64, bool)          {}
func (NoOpObserver) ObserveQueueDepth(uint32)          {}
func (NoOpObserver) ObserveBatch(uint32)               {}
func (NoOpObserver) ObserveCompletion(uint64)          {}

var _ Observer = NoOpObserver{}
