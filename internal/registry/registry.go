// Package registry hands out shared access to one master per network
// interface. Several independent components in one process may drive devices
// on the same physical bus; the registry reference-counts their leases,
// gates bus activation behind a ready barrier covering every outstanding
// lease, runs one real-time cycle goroutine per active bus and sequences the
// teardown when the last lease is released.
package registry

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/openfieldbus/ecatcore/internal/bus"
	"github.com/openfieldbus/ecatcore/internal/config"
	"github.com/openfieldbus/ecatcore/internal/journal"
	"github.com/openfieldbus/ecatcore/internal/master"
	"github.com/openfieldbus/ecatcore/internal/rt"
)

var (
	// ErrNotManaged reports an operation on a handle whose interface this
	// registry does not manage.
	ErrNotManaged = errors.New("registry: interface not managed")

	// ErrAlreadyReady reports a second MarkReady on the same handle.
	ErrAlreadyReady = errors.New("registry: handle already marked ready")

	// ErrAlreadyReleased reports a second Release on the same handle.
	ErrAlreadyReleased = errors.New("registry: handle already released")

	// ErrShuttingDown reports an acquisition against an interface whose
	// teardown is in progress.
	ErrShuttingDown = errors.New("registry: interface shutting down")

	// ErrRegistryClosed reports use after Close.
	ErrRegistryClosed = errors.New("registry: closed")
)

// DefaultRTPrio is the cycle goroutine's scheduling priority when the caller
// passes none. It is deliberately below the platform ceiling of 99.
const DefaultRTPrio = 48

// Handle is one lease on a shared master. It must be marked ready exactly
// once and released exactly once.
type Handle struct {
	ID     int
	Master *master.Master
}

// Recorder receives bus lifecycle events. A nil *journal.Journal satisfies
// it and drops everything.
type Recorder interface {
	Record(ctx context.Context, busName, event, detail string) error
}

// EventSink receives live bus notifications for diagnostics streaming. Calls
// arrive on registry and cycle goroutines; implementations must not block.
type EventSink interface {
	BusStateChanged(iface string, state, previous master.State)
	DeviceFault(iface, device, detail string)
}

type nopSink struct{}

func (nopSink) BusStateChanged(string, master.State, master.State) {}
func (nopSink) DeviceFault(string, string, string)                 {}

type handleState struct {
	ready    bool
	released bool
}

type entry struct {
	master   *master.Master
	cfg      config.BusConfig
	rtPrio   int
	refCount int
	nextID   int
	handles  map[int]*handleState

	abort    atomic.Bool
	done     chan struct{}
	spinning bool

	tearingDown bool
}

// Registry is the process-wide broker. It is an explicitly constructed,
// explicitly owned service: callers receive it by injection, and Close ends
// its lifetime.
type Registry struct {
	logger      *zap.Logger
	opener      bus.Opener
	journal     Recorder
	sink        EventSink
	setPriority func(int) error

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithBusOpener injects the transport factory passed to every new master.
func WithBusOpener(opener bus.Opener) Option {
	return func(r *Registry) { r.opener = opener }
}

// WithJournal injects the event recorder.
func WithJournal(rec Recorder) Option {
	return func(r *Registry) { r.journal = rec }
}

// WithEventSink injects the live notification sink.
func WithEventSink(sink EventSink) Option {
	return func(r *Registry) { r.sink = sink }
}

// WithPrioritySetter replaces the real-time priority call. Tests stub it.
func WithPrioritySetter(set func(int) error) Option {
	return func(r *Registry) { r.setPriority = set }
}

func New(logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger:      logger,
		opener:      bus.Open,
		journal:     (*journal.Journal)(nil),
		sink:        nopSink{},
		setPriority: rt.SetCurrentThreadPriority,
		entries:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire returns a lease on the master for the configuration's interface,
// creating master and bus on first use. Handle ids come from a per-interface
// monotonic counter and are never reused while the interface is managed. A
// configuration differing from the one already bound is a warning, not a
// rejection; the existing configuration wins. Acquire never blocks on device
// work - devices are attached by the caller directly on the returned master.
func (r *Registry) Acquire(cfg config.BusConfig, rtPrio int) (Handle, error) {
	if rtPrio <= 0 {
		rtPrio = DefaultRTPrio
	}

	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return Handle{}, ErrRegistryClosed
	}

	e, ok := r.entries[cfg.Interface]
	if ok && e.tearingDown {
		r.mu.Unlock()
		return Handle{}, fmt.Errorf("%w: %s", ErrShuttingDown, cfg.Interface)
	}

	created := false
	if !ok {
		r.logger.Info("Setting up new master",
			zap.String("interface", cfg.Interface),
			zap.Duration("cycle_time", cfg.CycleTime))

		m := master.New(r.logger,
			master.WithBusOpener(r.opener),
			master.WithFaultHook(r.faultHook(cfg.Interface)))
		m.LoadConfiguration(cfg)
		if err := m.CreateBus(); err != nil {
			r.mu.Unlock()
			return Handle{}, fmt.Errorf("failed to create bus for %s: %w", cfg.Interface, err)
		}

		e = &entry{
			master:  m,
			cfg:     cfg,
			rtPrio:  rtPrio,
			handles: make(map[int]*handleState),
		}
		r.entries[cfg.Interface] = e
		created = true
	}

	e.refCount++
	e.nextID++
	id := e.nextID
	e.handles[id] = &handleState{}

	mismatch := !cfg.Equal(e.cfg)
	boundCfg := e.cfg
	m := e.master
	spinning := e.spinning
	r.mu.Unlock()

	if mismatch {
		r.logger.Warn("Bus configurations do not match, keeping the bound configuration",
			zap.String("interface", cfg.Interface),
			zap.Duration("bound_cycle_time", boundCfg.CycleTime),
			zap.Duration("requested_cycle_time", cfg.CycleTime))
	}
	if spinning {
		// Late co-tenant on a bus that is already cycling. Its devices
		// join a live cycle; operators should know.
		r.logger.Warn("Acquired handle on an already active bus",
			zap.String("interface", cfg.Interface),
			zap.Int("handle_id", id))
	}
	if created {
		r.record(cfg.Interface, journal.EventBusRegistered, "")
	}

	return Handle{ID: id, Master: m}, nil
}

// MarkReady signals that the holder of the handle has attached its devices.
// The barrier is one-shot: once every issued handle on the interface is
// ready the master is started and the cycle goroutine spawned. A deferred
// start (other handles still pending) returns (false, nil), never an error.
// Startup failure is fatal for the acquisition: no goroutine is spawned and
// every handle is reset to not-ready so the barrier can be re-armed.
func (r *Registry) MarkReady(handle Handle) (bool, error) {
	iface := handle.Master.Configuration().Interface

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[iface]
	if !ok || e.master != handle.Master {
		return false, fmt.Errorf("%w: %s", ErrNotManaged, iface)
	}
	if e.tearingDown {
		return false, fmt.Errorf("%w: %s", ErrShuttingDown, iface)
	}

	hs, ok := e.handles[handle.ID]
	if !ok {
		return false, fmt.Errorf("%w: %s has no handle %d", ErrNotManaged, iface, handle.ID)
	}
	if hs.released {
		return false, fmt.Errorf("%w: handle %d on %s", ErrAlreadyReleased, handle.ID, iface)
	}
	if hs.ready {
		return false, fmt.Errorf("%w: handle %d on %s", ErrAlreadyReady, handle.ID, iface)
	}
	hs.ready = true

	if e.spinning {
		// Barrier already tripped; the late tenant joins the live bus.
		return true, nil
	}

	for id, h := range e.handles {
		if !h.ready && !h.released {
			r.logger.Info("Not all handles ready, deferring start",
				zap.String("interface", iface),
				zap.Int("pending_handle", id))
			return false, nil
		}
	}

	previous := e.master.State()
	if err := e.master.StartupStandalone(); err != nil {
		for _, h := range e.handles {
			h.ready = false
		}
		return false, fmt.Errorf("failed to start master on %s: %w", iface, err)
	}

	r.logger.Info("Starting cycle goroutine",
		zap.String("interface", iface),
		zap.Int("rt_prio", e.rtPrio))

	e.done = make(chan struct{})
	e.spinning = true
	go r.spin(iface, e)

	r.record(iface, journal.EventBusActivated, "")
	r.sink.BusStateChanged(iface, master.StateActive, previous)
	return true, nil
}

// Release gives the lease back. When the reference count drops to zero the
// full teardown runs (abort, join, safe-op, bus release, erase) and Release
// returns true.
func (r *Registry) Release(handle Handle) (bool, error) {
	iface := handle.Master.Configuration().Interface

	r.mu.Lock()

	e, ok := r.entries[iface]
	if !ok || e.master != handle.Master {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrNotManaged, iface)
	}
	if e.tearingDown {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrShuttingDown, iface)
	}

	hs, ok := e.handles[handle.ID]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s has no handle %d", ErrNotManaged, iface, handle.ID)
	}
	if hs.released {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: handle %d on %s", ErrAlreadyReleased, handle.ID, iface)
	}
	hs.released = true
	e.refCount--

	if e.refCount > 0 {
		r.mu.Unlock()
		return false, nil
	}

	// Last lease gone. Mark the entry so no one acquires into the
	// teardown, then leave the lock: the join below must not stall
	// bookkeeping on unrelated interfaces.
	e.tearingDown = true
	r.mu.Unlock()

	r.teardown(iface, e)
	r.record(iface, journal.EventTeardown, "")
	return true, nil
}

// ForceShutdown tears the master's interface down immediately, ignoring the
// reference count. Any other live tenant's next bus operation will fail;
// this is for emergency-stop paths where parking the physical bus outweighs
// protecting co-tenants.
func (r *Registry) ForceShutdown(m *master.Master) error {
	iface := m.Configuration().Interface

	r.mu.Lock()
	e, ok := r.entries[iface]
	if !ok || e.master != m {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotManaged, iface)
	}
	if e.tearingDown {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrShuttingDown, iface)
	}
	e.tearingDown = true
	refs := e.refCount
	r.mu.Unlock()

	r.logger.Warn("Forced shutdown, bypassing reference count",
		zap.String("interface", iface),
		zap.Int("live_references", refs))

	r.teardown(iface, e)
	r.record(iface, journal.EventForcedShutdown, "")
	return nil
}

// HasMaster reports whether a master for the interface is currently managed.
func (r *Registry) HasMaster(iface string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[iface]
	return ok
}

// Close tears down every remaining interface: all abort flags first, then
// all joins, then every master's shutdown. Order across interfaces is
// unspecified. The registry is unusable afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	remaining := make(map[string]*entry, len(r.entries))
	for iface, e := range r.entries {
		e.tearingDown = true
		remaining[iface] = e
	}
	r.mu.Unlock()

	for _, e := range remaining {
		e.abort.Store(true)
	}
	for _, e := range remaining {
		if e.spinning {
			<-e.done
		}
	}

	var errs error
	for iface, e := range remaining {
		if err := r.shutdownMaster(iface, e); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("shutdown %s: %w", iface, err))
		}
	}

	r.mu.Lock()
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	return errs
}

// teardown runs the single-interface shutdown sequence: signal abort, join
// the cycle goroutine, park the devices, release the bus, erase the entry.
// The caller must already have marked the entry tearingDown.
func (r *Registry) teardown(iface string, e *entry) {
	r.logger.Info("Shutting down master", zap.String("interface", iface))

	e.abort.Store(true)
	if e.spinning {
		// No timeout here: a cycle that never returns stalls shutdown
		// indefinitely. Documented risk, not masked.
		<-e.done
	}

	if err := r.shutdownMaster(iface, e); err != nil {
		r.logger.Error("Master shutdown incomplete",
			zap.String("interface", iface), zap.Error(err))
	}

	r.mu.Lock()
	delete(r.entries, iface)
	r.mu.Unlock()
}

func (r *Registry) shutdownMaster(iface string, e *entry) error {
	previous := e.master.State()

	var errs error
	if previous == master.StateActive {
		if err := e.master.PreShutdown(true); err != nil {
			// Best effort: some devices may not have parked.
			errs = multierr.Append(errs, err)
		}
	}
	if err := e.master.Shutdown(); err != nil {
		errs = multierr.Append(errs, err)
	}

	r.sink.BusStateChanged(iface, e.master.State(), previous)
	return errs
}

// spin is the cycle goroutine body, one per active interface. It is the only
// writer of process data on behalf of all co-tenants; tenants interact with
// the bus solely by mutating the devices they attached.
func (r *Registry) spin(iface string, e *entry) {
	defer close(e.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := r.setPriority(e.rtPrio); err != nil {
		r.logger.Warn("Could not apply real-time priority",
			zap.String("interface", iface),
			zap.Int("rt_prio", e.rtPrio),
			zap.Error(err))
	}

	r.logger.Info("Cycle goroutine running", zap.String("interface", iface))

	faultJournaled := false
	for !e.abort.Load() {
		if err := e.master.Update(master.UpdateModeStandaloneEnforceRate); err != nil {
			// Per-device faults are already logged by the master; the
			// cycle keeps running for the healthy devices.
			if !faultJournaled {
				r.record(iface, journal.EventDeviceFault, err.Error())
				faultJournaled = true
			}
		}
	}

	if err := e.master.Deactivate(); err != nil {
		r.logger.Error("Bus deactivate failed",
			zap.String("interface", iface), zap.Error(err))
	}
	r.record(iface, journal.EventBusDeactivated, "")

	r.logger.Info("Cycle goroutine stopped", zap.String("interface", iface))
}

// faultHook forwards the first fault of each device to the sink. Faults
// repeat every cycle until cleared; rebroadcasting them at cycle rate would
// flood the diagnostics stream.
func (r *Registry) faultHook(iface string) func(device string, err error) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	return func(device string, err error) {
		mu.Lock()
		first := !seen[device]
		seen[device] = true
		mu.Unlock()

		if first {
			r.sink.DeviceFault(iface, device, err.Error())
		}
	}
}

func (r *Registry) record(iface, event, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.journal.Record(ctx, iface, event, detail); err != nil {
		r.logger.Warn("Journal write failed",
			zap.String("interface", iface),
			zap.String("event", event),
			zap.Error(err))
	}
}
