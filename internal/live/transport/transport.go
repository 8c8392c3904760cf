// Package transport provides the duplex websocket connection used by live sessions.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultEndpoint is the Gemini Live bidirectional streaming endpoint.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// CodeInvalidPayload is the close code the service uses to reject a setup
	// payload it cannot accept.
	CodeInvalidPayload = websocket.CloseInvalidFramePayloadData

	defaultHandshakeTimeout = 15 * time.Second
	writeWait               = 10 * time.Second
	maxMessageBytes         = 16 << 20
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("transport closed")

// Conn is a message-oriented duplex connection.
type Conn interface {
	// Send writes one frame.
	Send(ctx context.Context, data []byte) error

	// Receive blocks until a frame arrives or the connection fails. Closing
	// the connection unblocks it.
	Receive() ([]byte, error)

	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebSocketDialer dials the live service over gorilla/websocket.
type WebSocketDialer struct {
	Endpoint         string
	APIKey           string
	Header           http.Header
	HandshakeTimeout time.Duration
}

// Dial opens a websocket connection. The API key travels in the
// x-goog-api-key header.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	header := http.Header{}
	for k, v := range d.Header {
		header[k] = append([]string(nil), v...)
	}
	if d.APIKey != "" {
		header.Set("x-goog-api-key", d.APIKey)
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial live endpoint: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial live endpoint: %w", err)
	}
	conn.SetReadLimit(maxMessageBytes)
	return NewConn(conn), nil
}

// WSConn adapts a *websocket.Conn to Conn. Writes are serialized.
type WSConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps an established websocket connection.
func NewConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn, closed: make(chan struct{})}
}

func (c *WSConn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline) //nolint:errcheck
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSConn) Receive() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		// The service sends JSON in both text and binary frames.
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a normal closure frame and releases the socket. Safe to call
// more than once.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)) //nolint:errcheck
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// CloseCode extracts the websocket close code from a receive error.
func CloseCode(err error) (int, bool) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, true
	}
	return 0, false
}

// CloseReason extracts the close reason text, if any.
func CloseReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Text
	}
	return ""
}
