package realtime

import (
	"context"
)

// Close codes used when tearing a connection down.
const (
	CloseNormalClosure = 1000
	CloseGoingAway     = 1001
)

type (
	// Connection is one established, message-oriented, ordered, bidirectional link.
	Connection interface {
		// Read blocks until the next text/binary frame arrives or the connection fails.
		Read() ([]byte, error)
		// Write sends a single frame. Implementations must be safe for use concurrently with Read.
		Write(data []byte) error
		// Close tears the connection down, sending code and reason to the peer when possible.
		Close(code int, reason string) error
	}

	// Transport opens connections. Dial must honour ctx cancellation and deadline.
	Transport interface {
		Dial(ctx context.Context, params OpenConnectionParams) (Connection, error)
	}
)
