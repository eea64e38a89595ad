package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Bus-related messages
	MessageTypeBusStatus   MessageType = "bus_status"
	MessageTypeBusState    MessageType = "bus_state"
	MessageTypeDeviceFault MessageType = "device_fault"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// BusStateData represents a bus lifecycle state change
type BusStateData struct {
	Interface string `json:"interface"`
	State     string `json:"state"`
	Previous  string `json:"previous_state,omitempty"`
}

// DeviceFaultData represents a per-cycle device fault
type DeviceFaultData struct {
	Interface string `json:"interface"`
	Device    string `json:"device"`
	Error     string `json:"error"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewBusStatusMessage(status interface{}) Message {
	return NewMessage(MessageTypeBusStatus, status)
}

func NewBusStateMessage(iface, state, previous string) Message {
	return NewMessage(MessageTypeBusState, BusStateData{
		Interface: iface,
		State:     state,
		Previous:  previous,
	})
}

func NewDeviceFaultMessage(iface, device, errMsg string) Message {
	return NewMessage(MessageTypeDeviceFault, DeviceFaultData{
		Interface: iface,
		Device:    device,
		Error:     errMsg,
	})
}
