package registry

import (
	"time"

	"github.com/openfieldbus/ecatcore/internal/master"
)

// BusStatus is a diagnostics snapshot of one managed interface.
type BusStatus struct {
	Interface  string            `json:"interface"`
	State      master.State      `json:"state"`
	CycleTime  time.Duration     `json:"cycle_time"`
	RTPrio     int               `json:"rt_prio"`
	RefCount   int               `json:"ref_count"`
	ReadyCount int               `json:"ready_count"`
	Devices    []string          `json:"devices"`
	Cycling    bool              `json:"cycling"`
	Stats      master.CycleStats `json:"stats"`
}

// Status returns a snapshot of every managed interface. Snapshots may be
// slightly stale; they are for monitoring, not control flow.
func (r *Registry) Status() []BusStatus {
	r.mu.Lock()
	type view struct {
		iface   string
		m       *master.Master
		cfg     cycleView
		ref     int
		ready   int
		cycling bool
	}
	views := make([]view, 0, len(r.entries))
	for iface, e := range r.entries {
		ready := 0
		for _, h := range e.handles {
			if h.ready && !h.released {
				ready++
			}
		}
		views = append(views, view{
			iface:   iface,
			m:       e.master,
			cfg:     cycleView{e.cfg.CycleTime, e.rtPrio},
			ref:     e.refCount,
			ready:   ready,
			cycling: e.spinning && !e.tearingDown,
		})
	}
	r.mu.Unlock()

	statuses := make([]BusStatus, 0, len(views))
	for _, v := range views {
		devices := v.m.Devices()
		names := make([]string, len(devices))
		for i, d := range devices {
			names[i] = d.Name()
		}
		statuses = append(statuses, BusStatus{
			Interface:  v.iface,
			State:      v.m.State(),
			CycleTime:  v.cfg.cycleTime,
			RTPrio:     v.cfg.rtPrio,
			RefCount:   v.ref,
			ReadyCount: v.ready,
			Devices:    names,
			Cycling:    v.cycling,
			Stats:      v.m.CycleStats(),
		})
	}
	return statuses
}

type cycleView struct {
	cycleTime time.Duration
	rtPrio    int
}

// StatusFor returns the snapshot for one interface.
func (r *Registry) StatusFor(iface string) (BusStatus, bool) {
	for _, s := range r.Status() {
		if s.Interface == iface {
			return s, true
		}
	}
	return BusStatus{}, false
}

// MasterFor returns the managed master for an interface, if any. Used by the
// diagnostics API's force-shutdown path.
func (r *Registry) MasterFor(iface string) (*master.Master, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[iface]
	if !ok {
		return nil, false
	}
	return e.master, true
}
