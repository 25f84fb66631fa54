package realtime

import (
	"fmt"
	"net/url"

	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed   = errors.New("connection has been closed")
	ErrCannotConnect      = errors.New("connection cannot be established")
	ErrConnectTimeout     = errors.New("connection attempt timed out")
	ErrHeartbeatTimeout   = errors.New("no inbound traffic after heartbeat")
	ErrReconnectExhausted = errors.New("max reconnect attempts reached")
	ErrQueueFull          = errors.New("outbound queue full")
	ErrManagerClosed      = errors.New("connection manager has been closed")
	ErrRateLimit          = errors.New("rate limit exceeded")
	ErrInvalidEndpoint    = errors.New("invalid connection endpoint")
)

// ErrUnrecoverableConnection carries the endpoint a dial failed against. The endpoint's query
// values are masked when rendered.
type ErrUnrecoverableConnection struct {
	err error
	url url.URL
}

func (e ErrUnrecoverableConnection) Error() string {
	return fmt.Sprintf("dial %s: %s", redactURL(e.url), e.err)
}

func (e ErrUnrecoverableConnection) Unwrap() error { return e.err }

func WrapErrorUnrecoverableConnection(err error, url url.URL) error {
	if err == nil {
		return nil
	}
	return &ErrUnrecoverableConnection{
		err: err,
		url: url,
	}
}
