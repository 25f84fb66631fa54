package realtime

// ConnectionState is the state of the single logical connection. Only ConnectionManager
// moves it.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time snapshot of the manager.
type Status struct {
	Connected         bool            `json:"connected"`
	State             ConnectionState `json:"state"`
	ReconnectAttempts int             `json:"reconnectAttempts"`
	Subscriptions     []string        `json:"subscriptions"`
	QueuedMessages    int             `json:"queuedMessages"`
}
