package realtime

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

type (
	ErrAdapter func(*websocket.Conn, *http.Response, error) error

	ErrorAdapters struct {
		OnDial ErrAdapter
	}

	// WebsocketTransport dials WebSocket connections with fasthttp/websocket.
	WebsocketTransport struct {
		errAdapters  ErrorAdapters
		dialer       *websocket.Dialer
		writeTimeout time.Duration
		logger       Logger
	}

	// WsConnection represents a WebSocket connection.
	// It implements the Connection interface.
	WsConnection struct {
		conn         *websocket.Conn
		writeTimeout time.Duration
		logger       Logger
		writeMu      sync.Mutex
		closeOnce    sync.Once
		closeErr     error
	}
)

func NewWebsocketTransport(
	logger Logger,
	dialer *websocket.Dialer,
	writeTimeout time.Duration,
	errorAdapters ErrorAdapters,
) *WebsocketTransport {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if writeTimeout <= 0 {
		writeTimeout = time.Second
	}
	return &WebsocketTransport{
		errAdapters:  errorAdapters,
		dialer:       dialer,
		writeTimeout: writeTimeout,
		logger:       logger.WithField("net", "ws_connection"),
	}
}

// Dial opens the WebSocket connection. It blocks until the handshake completes, fails, or ctx
// is done.
func (t *WebsocketTransport) Dial(ctx context.Context, p OpenConnectionParams) (Connection, error) {
	target := redactURL(p.URL)

	conn, resp, err := t.dialer.DialContext(ctx, p.URL.String(), p.Header)

	if err = t.handleDialError(ctx, conn, resp, err); err != nil {
		t.logger.Errorf("connection err to %s: %s", target, err)
		if conn != nil {
			_ = conn.Close()
		}
		return nil, WrapErrorUnrecoverableConnection(err, p.URL)
	}

	t.logger.Debugf("success opening connection to %s", target)

	c := &WsConnection{
		conn:         conn,
		writeTimeout: t.writeTimeout,
		logger:       t.logger,
	}

	conn.SetPingHandler(func(appData string) error {
		c.logger.Debugln("<= [PING]")
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	return c, nil
}

func (t *WebsocketTransport) handleDialError(
	ctx context.Context,
	conn *websocket.Conn,
	resp *http.Response,
	err error,
) error {
	if t.errAdapters.OnDial != nil {
		return t.errAdapters.OnDial(conn, resp, err)
	}

	if err == nil {
		return nil
	}

	// 1. Deadline imposed by the caller or by the dialer
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return errors.Wrap(ErrConnectTimeout, err.Error())
	}

	// 2. HTTP errors
	if resp != nil {
		var msg string
		if resp.Body != nil {
			bts, readErr := io.ReadAll(resp.Body)
			if readErr == nil {
				msg = string(bts)
			}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return errors.Wrap(ErrRateLimit, msg)
		}
		return errors.Wrapf(ErrCannotConnect, "%s: http %d %s", err, resp.StatusCode, msg)
	}

	// 3. Network errors
	return errors.Wrap(ErrCannotConnect, err.Error())
}

// Read returns the next data frame. Control frames are handled by the connection itself.
func (w *WsConnection) Read() ([]byte, error) {
	for {
		messageType, bts, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, errors.Wrap(ErrConnectionClosed, "closed by peer")
			}
			return nil, errors.Wrap(ErrConnectionClosed, "error occurred on websocket read: "+err.Error())
		}

		switch messageType {
		case websocket.TextMessage:
			w.logger.Debugf("<= [DATA] %s", bts)
			return bts, nil
		case websocket.BinaryMessage:
			w.logger.Debugln("<= [BIN]")
			return bts, nil
		}
	}
}

// Write sends data as a single text frame, bounded by the write timeout.
func (w *WsConnection) Write(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))

	w.logger.Debugf("=> [DATA] %s", data)
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			return ErrConnectionClosed
		}
		return errors.Wrap(ErrConnectionClosed, err.Error())
	}
	return nil
}

// Close sends a close frame carrying code and reason, then releases the socket.
// Subsequent calls return the first result.
func (w *WsConnection) Close(code int, reason string) error {
	w.closeOnce.Do(func() {
		w.logger.Infof("closing connection from our side (%d %s)", code, reason)

		w.writeMu.Lock()
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(w.writeTimeout),
		)
		w.writeMu.Unlock()

		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

// isTimeout reports whether err is a network deadline rather than a refusal. The dialer's own
// deadline can expire before the caller's context reports it.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
