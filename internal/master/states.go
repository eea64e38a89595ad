package master

// State is the lifecycle state of one Master.
//
// Created -> BusCreated -> DevicesAttached -> Active -> SafeShutdown -> Closed
type State string

const (
	StateCreated         State = "created"
	StateBusCreated      State = "bus_created"
	StateDevicesAttached State = "devices_attached"
	StateActive          State = "active"
	StateSafeShutdown    State = "safe_shutdown"
	StateClosed          State = "closed"
)

// UpdateMode selects the pacing policy of one Update call.
type UpdateMode string

const (
	// UpdateModeExternal returns as soon as the cycle's I/O completes;
	// the caller is responsible for pacing.
	UpdateModeExternal UpdateMode = "external"

	// UpdateModeStandaloneEnforceRate additionally blocks until the
	// configured cycle period has elapsed since the previous call, so a
	// tight loop produces a stable cycle rate.
	UpdateModeStandaloneEnforceRate UpdateMode = "standalone_enforce_rate"
)
