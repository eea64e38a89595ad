package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
server:
  http_port: 9090

buses:
  - interface: eth0
    cycle_time: 2ms
    dc_enabled: true
    sync0_addresses: [1001, 1002]
  - interface: eth1

device_descriptors:
  search_paths:
    - /etc/ecatcore/devices
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}

	if cfg.Server.HTTPPort != 9090 {
		t.Fatalf("http_port=%d, want 9090", cfg.Server.HTTPPort)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Fatalf("shutdown_timeout=%v, want default 30s", cfg.Server.ShutdownTimeout)
	}
	if len(cfg.Buses) != 2 {
		t.Fatalf("buses=%d, want 2", len(cfg.Buses))
	}

	eth0 := cfg.Buses[0]
	if eth0.CycleTime != 2*time.Millisecond || !eth0.DCEnabled {
		t.Fatalf("eth0=%+v, want 2ms cycle with DC", eth0)
	}
	if eth0.RTPrio != 48 {
		t.Fatalf("eth0 rt_prio=%d, want default 48", eth0.RTPrio)
	}

	// Unspecified cycle time falls back to 1ms.
	if cfg.Buses[1].CycleTime != time.Millisecond {
		t.Fatalf("eth1 cycle_time=%v, want default 1ms", cfg.Buses[1].CycleTime)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("Load() of missing file succeeded")
	}
}

func TestBusConfigEqual(t *testing.T) {
	base := BusConfig{
		Interface:      "eth0",
		CycleTime:      time.Millisecond,
		RTPrio:         48,
		DCEnabled:      true,
		Sync0Addresses: []uint32{1001},
	}

	same := base
	same.Sync0Addresses = []uint32{1001}
	if !base.Equal(same) {
		t.Fatalf("identical configs not equal")
	}

	cases := map[string]BusConfig{
		"interface":  {Interface: "eth1", CycleTime: time.Millisecond, RTPrio: 48, DCEnabled: true, Sync0Addresses: []uint32{1001}},
		"cycle time": {Interface: "eth0", CycleTime: 2 * time.Millisecond, RTPrio: 48, DCEnabled: true, Sync0Addresses: []uint32{1001}},
		"addresses":  {Interface: "eth0", CycleTime: time.Millisecond, RTPrio: 48, DCEnabled: true, Sync0Addresses: []uint32{1002}},
	}
	for name, other := range cases {
		if base.Equal(other) {
			t.Fatalf("configs differing in %s compared equal", name)
		}
	}
}
