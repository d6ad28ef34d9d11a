package client

// State is the lifecycle state of a connection.
type State uint8

const (
	// StateClosed is the initial and terminal state.
	StateClosed State = iota

	// StateConnecting means a handshake or reconnect is in progress.
	// Posted messages are queued.
	StateConnecting

	// StateReady means messages flow in both directions.
	StateReady

	// StateClosing means Close was called and the peer has not confirmed.
	StateClosing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Started reports whether Post is accepted in this state.
func (s State) Started() bool {
	return s == StateConnecting || s == StateReady
}

// Connector is the application-facing side of a logical connection.
// *Conn and *Fallback implement it.
type Connector interface {
	Connect() error
	Close() error
	Post(msg any) error
	State() State
	OnStateChange(fn func(old, new State))
	OnMessage(fn func(msg any))
}
