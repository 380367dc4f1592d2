// File: internal/transport/websocket.go
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// DefaultHandshakeTimeout bounds the wait for the opening handshake response.
	DefaultHandshakeTimeout = 30 * time.Second
	// DefaultMaxPayloadSize is the largest single message accepted from the remote end.
	DefaultMaxPayloadSize = 256 * 1024 * 1024
	// closeWriteWait is how long Close waits for the close frame to be written.
	closeWriteWait = time.Second
)

var (
	// ErrPeerClosed signals that the remote end went away (close frame, EOF, reset).
	// Readers treat it as a normal end of stream.
	ErrPeerClosed = errors.New("transport: closed by remote")
	// ErrAlreadyClosed signals an operation on a connection this side already closed.
	ErrAlreadyClosed = errors.New("transport: already closed")
)

// IsClosed reports whether err is one of the closed conditions rather than a generic I/O failure.
func IsClosed(err error) bool {
	return errors.Is(err, ErrPeerClosed) || errors.Is(err, ErrAlreadyClosed)
}

// Options tunes how a connection is dialed.
type Options struct {
	HandshakeTimeout time.Duration
	MaxPayloadSize   int64
	// TLSConfig is used for wss:// endpoints. A nil value uses the system defaults.
	TLSConfig *tls.Config
	Logger    *zap.Logger
}

// Conn is a duplex stream of text protocol data units over one WebSocket.
// Writes are serialized; a single reader is expected.
type Conn struct {
	ws     *websocket.Conn
	url    string
	logger *zap.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Dial opens a socket to rawURL, using TLS when the scheme is wss.
func Dial(ctx context.Context, rawURL string, opts Options) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid endpoint %q: %w", rawURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("transport: unsupported scheme %q (expected ws or wss)", u.Scheme)
	}

	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.MaxPayloadSize <= 0 {
		opts.MaxPayloadSize = DefaultMaxPayloadSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dialer := &websocket.Dialer{
		Proxy:            nil,
		HandshakeTimeout: opts.HandshakeTimeout,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = opts.TLSConfig
	}

	ws, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("transport: failed to connect to %s: %w", rawURL, err)
	}
	ws.SetReadLimit(opts.MaxPayloadSize)

	logger.Debug("WebSocket connection established.", zap.String("url", rawURL))
	return NewConn(ws, rawURL, logger), nil
}

// NewConn wraps an established WebSocket. Used by Dial and by tests that upgrade server side.
func NewConn(ws *websocket.Conn, rawURL string, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{ws: ws, url: rawURL, logger: logger.Named("transport")}
}

// URL returns the endpoint the connection was opened against.
func (c *Conn) URL() string { return c.url }

// ReadMessage blocks until the next data frame arrives.
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, c.classifyReadError(err)
		}
		// Text is the protocol's message type; binary frames are tolerated the same way.
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteText sends one text frame.
func (c *Conn) WriteText(data []byte) error {
	if c.closed.Load() {
		return ErrAlreadyClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return c.classifyWriteError(err)
	}
	return nil
}

// Close sends a normal closure frame and releases the socket. It is idempotent.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	// A failure here only means the peer is already gone.
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	c.writeMu.Unlock()

	if err := c.ws.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}

func (c *Conn) classifyReadError(err error) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: %v", ErrAlreadyClosed, err)
	}
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %v", ErrPeerClosed, err)
	}
	return fmt.Errorf("transport: read: %w", err)
}

func (c *Conn) classifyWriteError(err error) error {
	switch {
	case errors.Is(err, syscall.ECONNRESET):
		return fmt.Errorf("%w: %v", ErrPeerClosed, err)
	case errors.Is(err, syscall.EPIPE),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, websocket.ErrCloseSent):
		return fmt.Errorf("%w: %v", ErrAlreadyClosed, err)
	}
	return fmt.Errorf("transport: write: %w", err)
}
