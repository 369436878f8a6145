// Package marketdata implements the per-(source, security) snapshot hub
// (spec §4.2): adapter routing, in-place snapshot mutation, and fan-out
// wake-up notification into the algo runtime.
package marketdata

// Adapter is the MarketDataAdapter port (spec §4.4 "MarketDataAdapter").
// Each adapter registers a source tag and an exchange list with the hub;
// the hub calls Subscribe on the routed adapter every time Hub.Subscribe
// is called, so an adapter treats a repeated Subscribe as a no-op.
type Adapter interface {
	Name() string
	Source() uint32 // 1-4 ASCII bytes packed into a uint32
	Exchanges() []uint32
	Subscribe(securityID uint32) error
}

// WakeupSink receives a wake-up notification whenever a (source,
// security) snapshot changes and at least one algo holds a live
// subscription there. The algo runtime implements this.
type WakeupSink interface {
	Wakeup(source uint32, securityID uint32)
}
