// Package master drives one fieldbus: it owns the bus connection and the
// ordered set of attached devices, runs the cyclic process-data exchange and
// the distributed-clock alignment, and walks the devices through their
// operational-state transitions on startup and shutdown.
package master

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/openfieldbus/ecatcore/internal/bus"
	"github.com/openfieldbus/ecatcore/internal/config"
)

var (
	// ErrInvalidState reports an operation called outside its valid
	// lifecycle state. This is a caller contract violation.
	ErrInvalidState = errors.New("master: invalid state for operation")

	// ErrBusExists reports a second CreateBus call.
	ErrBusExists = errors.New("master: bus already created")

	// ErrDeviceExists reports an attach with a name that is already taken.
	ErrDeviceExists = errors.New("master: device name already attached")
)

// Master owns exactly one bus connection and the devices attached to it.
// Attachment order is cycle-update order.
//
// All methods are safe for concurrent use, with one restriction: Update must
// only ever be driven by a single goroutine (the cycle goroutine); its pacing
// state is not shared.
type Master struct {
	logger    *zap.Logger
	opener    bus.Opener
	faultHook func(device string, err error)

	mu      sync.RWMutex
	state   State
	cfg     config.BusConfig
	bus     bus.Bus
	devices []Device

	// Pacing state, touched only by the cycle goroutine.
	nextDeadline time.Time

	stats cycleTracker
}

// Option configures a Master.
type Option func(*Master)

// WithBusOpener replaces the transport factory. Tests and real transport
// integrations inject their Opener here.
func WithBusOpener(opener bus.Opener) Option {
	return func(m *Master) { m.opener = opener }
}

// WithFaultHook installs a callback invoked for every per-cycle device fault.
// It runs on the cycle goroutine and must not block.
func WithFaultHook(hook func(device string, err error)) Option {
	return func(m *Master) { m.faultHook = hook }
}

func New(logger *zap.Logger, opts ...Option) *Master {
	m := &Master{
		logger: logger,
		opener: bus.Open,
		state:  StateCreated,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadConfiguration binds the bus configuration. The configuration is
// immutable afterwards.
func (m *Master) LoadConfiguration(cfg config.BusConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Configuration returns the bound bus configuration.
func (m *Master) Configuration() config.BusConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// State returns the current lifecycle state.
func (m *Master) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CycleStats returns a snapshot of the cycle timing.
func (m *Master) CycleStats() CycleStats {
	return m.stats.snapshot()
}

// CreateBus opens the transport for the configured interface. A second call
// fails loudly instead of silently replacing the connection.
func (m *Master) CreateBus() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bus != nil {
		return fmt.Errorf("%w: interface %s", ErrBusExists, m.cfg.Interface)
	}
	if m.state != StateCreated {
		return fmt.Errorf("%w: CreateBus in state %s", ErrInvalidState, m.state)
	}

	b, err := m.opener(m.cfg.Interface, m.cfg.CycleTime)
	if err != nil {
		return fmt.Errorf("failed to open bus on %s: %w", m.cfg.Interface, err)
	}

	m.bus = b
	m.state = StateBusCreated

	m.logger.Info("Bus created",
		zap.String("interface", m.cfg.Interface),
		zap.Duration("cycle_time", m.cfg.CycleTime))
	return nil
}

// AttachDevice appends a device to the cycle sequence. A duplicate name is a
// non-fatal failure; attaching after activation is a usage error.
func (m *Master) AttachDevice(device Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateCreated, StateBusCreated, StateDevicesAttached:
	default:
		return fmt.Errorf("%w: AttachDevice in state %s", ErrInvalidState, m.state)
	}

	if m.deviceExistsLocked(device.Name()) {
		return fmt.Errorf("%w: %s", ErrDeviceExists, device.Name())
	}

	m.devices = append(m.devices, device)
	if m.state == StateBusCreated {
		m.state = StateDevicesAttached
	}

	m.logger.Info("Device attached",
		zap.String("interface", m.cfg.Interface),
		zap.String("device", device.Name()),
		zap.Int("position", len(m.devices)-1))
	return nil
}

// DeviceExists reports whether a device with the given name is attached.
func (m *Master) DeviceExists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deviceExistsLocked(name)
}

func (m *Master) deviceExistsLocked(name string) bool {
	for _, d := range m.devices {
		if d.Name() == name {
			return true
		}
	}
	return false
}

// Startup configures every attached device, activates the bus, aligns the
// distributed clocks and brings every device into the operational state, all
// in attachment order. Every device is attempted even after a failure so the
// caller sees the full failure set; any failure leaves the master in its
// pre-activation state.
func (m *Master) Startup() error {
	m.mu.Lock()
	if m.state != StateBusCreated && m.state != StateDevicesAttached {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: Startup in state %s", ErrInvalidState, state)
	}
	b := m.bus
	devices := append([]Device(nil), m.devices...)
	cfg := m.cfg
	m.mu.Unlock()

	var errs error
	for _, d := range devices {
		if err := d.Configure(); err != nil {
			m.logger.Error("Device configuration failed",
				zap.String("interface", cfg.Interface),
				zap.String("device", d.Name()),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("configure %s: %w", d.Name(), err))
		}
	}

	if err := b.Activate(); err != nil {
		return multierr.Append(errs, fmt.Errorf("failed to activate bus %s: %w", cfg.Interface, err))
	}

	if cfg.DCEnabled {
		if err := m.SyncDistributedClock0(cfg.Sync0Addresses); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	for _, d := range devices {
		if err := d.SetToOperational(); err != nil {
			m.logger.Error("Device did not reach operational",
				zap.String("interface", cfg.Interface),
				zap.String("device", d.Name()),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("operational %s: %w", d.Name(), err))
		}
	}

	if errs != nil {
		// Leave the interface recoverable: take the bus back down.
		if err := b.Deactivate(); err != nil {
			m.logger.Warn("Bus deactivate after failed startup",
				zap.String("interface", cfg.Interface), zap.Error(err))
		}
		return errs
	}

	m.mu.Lock()
	m.state = StateActive
	m.mu.Unlock()

	m.logger.Info("Master active",
		zap.String("interface", cfg.Interface),
		zap.Int("devices", len(devices)))
	return nil
}

// StartupStandalone performs Startup and additionally seeds the pacing
// deadline for self-clocked operation, where the master's own cycle
// goroutine enforces the cycle rate instead of an externally paced caller.
func (m *Master) StartupStandalone() error {
	if err := m.Startup(); err != nil {
		return err
	}
	m.nextDeadline = time.Now().Add(m.Configuration().CycleTime)
	return nil
}

// Update performs exactly one bus cycle: pace (in enforce-rate mode),
// exchange process data, then run every device's per-cycle hook in
// attachment order. A per-device fault is aggregated and returned but does
// not stop the cycle for the remaining devices.
func (m *Master) Update(mode UpdateMode) error {
	m.mu.RLock()
	if m.state != StateActive {
		state := m.state
		m.mu.RUnlock()
		return fmt.Errorf("%w: Update in state %s", ErrInvalidState, state)
	}
	b := m.bus
	devices := m.devices
	cycleTime := m.cfg.CycleTime
	iface := m.cfg.Interface
	m.mu.RUnlock()

	if mode == UpdateModeStandaloneEnforceRate {
		m.pace(cycleTime)
	}

	if err := b.Exchange(); err != nil {
		return fmt.Errorf("process data exchange on %s: %w", iface, err)
	}

	var errs error
	faults := 0
	for _, d := range devices {
		if err := d.Update(); err != nil {
			faults++
			m.logger.Warn("Device update fault",
				zap.String("interface", iface),
				zap.String("device", d.Name()),
				zap.Error(err))
			if m.faultHook != nil {
				m.faultHook(d.Name(), err)
			}
			errs = multierr.Append(errs, fmt.Errorf("update %s: %w", d.Name(), err))
		}
	}

	m.stats.record(time.Now(), faults)
	return errs
}

// pace sleeps until the next cycle deadline. The deadline advances by the
// cycle period rather than resetting to now, so the mean rate converges to
// the configured cycle time even when single cycles jitter. An overrun of
// more than one full period resets the baseline to avoid a catch-up burst.
func (m *Master) pace(cycleTime time.Duration) {
	now := time.Now()
	if m.nextDeadline.IsZero() || now.Sub(m.nextDeadline) > cycleTime {
		m.nextDeadline = now.Add(cycleTime)
		return
	}
	if wait := m.nextDeadline.Sub(now); wait > 0 {
		time.Sleep(wait)
	}
	m.nextDeadline = m.nextDeadline.Add(cycleTime)
}

// SyncDistributedClock0 programs the sync0 signal of every given slave
// address so device-local control loops run in phase with the master cycle.
// Addresses not listed stay unsynchronized. One address failing does not
// abort the remaining addresses.
func (m *Master) SyncDistributedClock0(addresses []uint32) error {
	m.mu.RLock()
	b := m.bus
	cfg := m.cfg
	m.mu.RUnlock()

	if b == nil {
		return fmt.Errorf("%w: SyncDistributedClock0 before CreateBus", ErrInvalidState)
	}

	var errs error
	for _, addr := range addresses {
		if err := b.SyncSlaveClock0(addr, cfg.CycleTime, cfg.Sync0Shift); err != nil {
			m.logger.Error("Distributed clock sync failed",
				zap.String("interface", cfg.Interface),
				zap.Uint32("address", addr),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("sync0 address %d: %w", addr, err))
			continue
		}
		m.logger.Info("Distributed clock synchronized",
			zap.String("interface", cfg.Interface),
			zap.Uint32("address", addr),
			zap.Duration("shift", cfg.Sync0Shift))
	}
	return errs
}

// Deactivate takes the bus out of cyclic operation without changing the
// lifecycle state. The cycle goroutine calls this after observing the abort
// flag; PreShutdown/Shutdown still follow.
func (m *Master) Deactivate() error {
	m.mu.RLock()
	b := m.bus
	m.mu.RUnlock()

	if b == nil {
		return fmt.Errorf("%w: Deactivate before CreateBus", ErrInvalidState)
	}
	return b.Deactivate()
}

// PreShutdown parks every device in the safe-operational state, in
// attachment order, best-effort across devices. setToSafeOp=false records
// the transition without touching the devices; skipping safe-state parking
// is always the caller's explicit choice.
func (m *Master) PreShutdown(setToSafeOp bool) error {
	m.mu.Lock()
	if m.state != StateActive {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: PreShutdown in state %s", ErrInvalidState, state)
	}
	devices := append([]Device(nil), m.devices...)
	iface := m.cfg.Interface
	m.state = StateSafeShutdown
	m.mu.Unlock()

	if !setToSafeOp {
		m.logger.Warn("PreShutdown without safe-op parking",
			zap.String("interface", iface))
		return nil
	}

	var errs error
	for _, d := range devices {
		if err := d.SetToSafeOperational(); err != nil {
			m.logger.Error("Device did not reach safe-operational",
				zap.String("interface", iface),
				zap.String("device", d.Name()),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("safe-op %s: %w", d.Name(), err))
		}
	}
	return errs
}

// Shutdown releases the bus connection. Valid after PreShutdown; calling it
// directly from Active skips safe-state parking, which is allowed but never
// done implicitly.
func (m *Master) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateSafeShutdown:
	case StateActive:
		m.logger.Warn("Shutdown without PreShutdown, skipping safe-state parking",
			zap.String("interface", m.cfg.Interface))
	case StateBusCreated, StateDevicesAttached:
		// Bus was never activated; nothing to park.
	default:
		return fmt.Errorf("%w: Shutdown in state %s", ErrInvalidState, m.state)
	}

	if err := m.bus.Close(); err != nil {
		return fmt.Errorf("failed to close bus %s: %w", m.cfg.Interface, err)
	}
	m.state = StateClosed

	m.logger.Info("Master closed", zap.String("interface", m.cfg.Interface))
	return nil
}

// Devices returns the attached devices in cycle order.
func (m *Master) Devices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Device(nil), m.devices...)
}
