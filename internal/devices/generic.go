package devices

import (
	"errors"
	"sync/atomic"
)

var ErrNotOperational = errors.New("devices: device not operational")

// opState mirrors the slave's application-layer state as far as this
// generic device tracks it.
type opState int32

const (
	stateInit opState = iota
	stateConfigured
	stateOperational
	stateSafeOperational
)

// Generic is a descriptor-driven device with raw process-data images and no
// protocol interpretation.
//
// It is the reference pattern for the device synchronization contract:
// the cycle goroutine and caller goroutines never share a buffer. Callers
// publish a complete output image with WriteOutputs; the cycle swaps it in
// atomically on its next Update and publishes the input image the same way.
// Readers always see a consistent snapshot, never a torn write.
type Generic struct {
	desc Descriptor

	state atomic.Int32

	outputs atomic.Pointer[[]byte] // written by callers, consumed per cycle
	inputs  atomic.Pointer[[]byte] // written per cycle, read by callers

	updates atomic.Uint64
}

func NewGeneric(desc Descriptor) *Generic {
	g := &Generic{desc: desc}
	out := make([]byte, desc.OutputBytes)
	in := make([]byte, desc.InputBytes)
	g.outputs.Store(&out)
	g.inputs.Store(&in)
	return g
}

func (g *Generic) Name() string { return g.desc.Name }

// Descriptor returns the descriptor the device was built from.
func (g *Generic) Descriptor() Descriptor { return g.desc }

func (g *Generic) Configure() error {
	g.state.Store(int32(stateConfigured))
	return nil
}

func (g *Generic) SetToOperational() error {
	g.state.Store(int32(stateOperational))
	return nil
}

func (g *Generic) SetToSafeOperational() error {
	// Park the outputs: safe-operational slaves ignore output data, and a
	// later reactivation must not replay stale commands.
	zero := make([]byte, g.desc.OutputBytes)
	g.outputs.Store(&zero)
	g.state.Store(int32(stateSafeOperational))
	return nil
}

// Update runs once per bus cycle on the cycle goroutine. The generic device
// has no protocol to speak; it mirrors the current output snapshot into the
// input image, which is exactly what a loopback terminal does.
func (g *Generic) Update() error {
	if opState(g.state.Load()) != stateOperational {
		return ErrNotOperational
	}

	out := *g.outputs.Load()
	in := make([]byte, g.desc.InputBytes)
	copy(in, out)
	g.inputs.Store(&in)

	g.updates.Add(1)
	return nil
}

// WriteOutputs publishes a complete output image. The slice is copied; the
// caller keeps ownership of its buffer.
func (g *Generic) WriteOutputs(data []byte) {
	snapshot := make([]byte, g.desc.OutputBytes)
	copy(snapshot, data)
	g.outputs.Store(&snapshot)
}

// ReadInputs returns the input image from the most recent cycle.
func (g *Generic) ReadInputs() []byte {
	in := *g.inputs.Load()
	snapshot := make([]byte, len(in))
	copy(snapshot, in)
	return snapshot
}

// Updates returns the number of completed cycle updates.
func (g *Generic) Updates() uint64 { return g.updates.Load() }
