package channels

// State is the connection state of an adapter.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateQRRequired
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateQRRequired:
		return "qr_required"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
