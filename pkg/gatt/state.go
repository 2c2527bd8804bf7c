package gatt

// ConnectionState is the caller-visible connection state.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// AdapterState mirrors the local radio state.
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterResetting
	AdapterUnsupported
	AdapterUnauthorized
	AdapterPoweredOff
	AdapterPoweredOn
)

func (s AdapterState) String() string {
	switch s {
	case AdapterResetting:
		return "Resetting"
	case AdapterUnsupported:
		return "Unsupported"
	case AdapterUnauthorized:
		return "Unauthorized"
	case AdapterPoweredOff:
		return "PoweredOff"
	case AdapterPoweredOn:
		return "PoweredOn"
	default:
		return "Unknown"
	}
}
