package master

// Device is one slave endpoint on the bus. Implementations live outside this
// package; the master only drives the lifecycle and the per-cycle hook.
//
// A device is shared between the attaching caller and the cycle goroutine:
// Update runs on the cycle goroutine every cycle while callers read and
// write the device's process data from arbitrary goroutines. Implementations
// must therefore either synchronize internally or exchange state through
// atomically swapped snapshots (see devices.Generic for the reference
// pattern).
type Device interface {
	// Name identifies the device; unique per master.
	Name() string

	// Configure runs the device's startup configuration sequence.
	Configure() error

	// SetToOperational transitions the device into the operational state.
	SetToOperational() error

	// SetToSafeOperational parks the device in the safe-operational state.
	// This is the last chance to bring outputs into a safe position.
	SetToSafeOperational() error

	// Update is the per-cycle hook, called once per bus cycle in
	// attachment order. It must not panic; a returned error is surfaced
	// as a non-fatal per-cycle fault.
	Update() error
}
