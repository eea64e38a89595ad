package bus

import (
	"errors"
	"testing"
	"time"
)

func TestSimulatedLifecycle(t *testing.T) {
	s := NewSimulated("eth0")

	if err := s.Exchange(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("Exchange before Activate err=%v, want ErrNotActive", err)
	}

	if err := s.Activate(); err != nil {
		t.Fatalf("Activate() err=%v", err)
	}
	if err := s.Exchange(); err != nil {
		t.Fatalf("Exchange() err=%v", err)
	}
	if s.Exchanges() != 1 {
		t.Fatalf("exchanges=%d, want 1", s.Exchanges())
	}

	if err := s.Deactivate(); err != nil {
		t.Fatalf("Deactivate() err=%v", err)
	}
	if err := s.Exchange(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("Exchange after Deactivate err=%v, want ErrNotActive", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	if err := s.Activate(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Activate after Close err=%v, want ErrClosed", err)
	}
}

func TestSimulatedSyncFailure(t *testing.T) {
	s := NewSimulated("eth0")
	s.FailSync = map[uint32]error{1002: errors.New("slave gone")}

	if err := s.SyncSlaveClock0(1001, time.Millisecond, 0); err != nil {
		t.Fatalf("SyncSlaveClock0(1001) err=%v", err)
	}
	if err := s.SyncSlaveClock0(1002, time.Millisecond, 0); err == nil {
		t.Fatalf("SyncSlaveClock0(1002) succeeded, want configured failure")
	}
}
