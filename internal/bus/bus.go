// Package bus defines the transport boundary of the master. The master
// drives exactly one Bus; everything below Exchange (frame layout, raw
// socket handling) belongs to the transport implementation.
package bus

import (
	"errors"
	"time"
)

var (
	ErrNotActive     = errors.New("bus: not active")
	ErrAlreadyActive = errors.New("bus: already active")
	ErrClosed        = errors.New("bus: closed")
)

// Bus is one fieldbus connection, bound to a single network interface.
type Bus interface {
	// Name returns the network interface the bus is bound to.
	Name() string

	// Activate brings the bus into cyclic operation. Exchange is only
	// valid between Activate and Deactivate.
	Activate() error

	// Deactivate takes the bus out of cyclic operation. The connection
	// stays open; Activate may be called again.
	Deactivate() error

	// Exchange performs one process-data round trip with all slaves.
	Exchange() error

	// SyncSlaveClock0 programs the sync0 signal of the slave at the given
	// bus address so its local clock fires in phase with the master cycle.
	SyncSlaveClock0(address uint32, cycleTime, shift time.Duration) error

	// Close releases the underlying connection. The bus is unusable
	// afterwards.
	Close() error
}

// Opener creates the transport for an interface. Real transports (SOEM-style
// raw socket implementations) plug in here; the default opener returns the
// simulated loopback bus.
type Opener func(iface string, cycleTime time.Duration) (Bus, error)

// Open is the default Opener.
func Open(iface string, cycleTime time.Duration) (Bus, error) {
	return NewSimulated(iface), nil
}
