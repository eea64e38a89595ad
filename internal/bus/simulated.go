package bus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Simulated is a loopback Bus used for bring-up without hardware and by the
// package tests. Failure switches let tests drive error paths.
type Simulated struct {
	name string

	mu     sync.Mutex
	active bool
	closed bool

	exchanges atomic.Uint64

	// Failure switches, settable before the corresponding call.
	FailActivate bool
	FailExchange bool
	FailSync     map[uint32]error
}

func NewSimulated(name string) *Simulated {
	return &Simulated{name: name}
}

func (s *Simulated) Name() string { return s.name }

func (s *Simulated) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.FailActivate {
		return ErrNotActive
	}
	s.active = true
	return nil
}

func (s *Simulated) Deactivate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.active = false
	return nil
}

func (s *Simulated) Exchange() error {
	s.mu.Lock()
	active, closed, fail := s.active, s.closed, s.FailExchange
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if !active {
		return ErrNotActive
	}
	if fail {
		return ErrNotActive
	}
	s.exchanges.Add(1)
	return nil
}

func (s *Simulated) SyncSlaveClock0(address uint32, cycleTime, shift time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err, ok := s.FailSync[address]; ok {
		return err
	}
	return nil
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
	s.closed = true
	return nil
}

// Exchanges returns the number of completed process-data round trips.
func (s *Simulated) Exchanges() uint64 { return s.exchanges.Load() }
