package wsconn

// State is the lifecycle state of a Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Kind selects which notifications a registration receives.
type Kind int

const (
	KindOpen Kind = iota
	KindClose
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindClose:
		return "close"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// RegistrationID identifies one subscription on a Manager. The zero value
// never refers to a live registration.
type RegistrationID uint64
