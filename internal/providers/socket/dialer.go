// Package socket is the duplex connection capability handed to isolated
// contexts, built on gorilla/websocket.
package socket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/booster/internal/worker"
)

const (
	// DefaultHandshakeTimeout bounds the opening handshake
	DefaultHandshakeTimeout = 10 * time.Second

	closeWait = time.Second
)

// Dialer opens websocket connections
type Dialer struct {
	dialer *websocket.Dialer
	header http.Header
	logger *zap.Logger
}

// NewDialer creates a dialer. A non-positive timeout uses the default.
func NewDialer(handshakeTimeout time.Duration, logger *zap.Logger) *Dialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  handshakeTimeout,
			EnableCompression: true,
		},
		header: http.Header{},
		logger: logger.Named("socket"),
	}
}

// SetHeader adds a header sent with every handshake
func (d *Dialer) SetHeader(key, value string) {
	d.header.Set(key, value)
}

// DialContext performs the opening handshake
func (d *Dialer) DialContext(ctx context.Context, url string) (worker.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, d.header.Clone())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	d.logger.Debug("Websocket connected", zap.String("url", url))
	return &Conn{conn: conn}, nil
}

// Conn is a websocket connection carrying text frames. gorilla allows one
// concurrent writer, so writes are serialized.
type Conn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// ReadMessage blocks for the next data frame
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// WriteMessage sends data as one text frame
func (c *Conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal closure frame and closes the connection
func (c *Conn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	return c.conn.Close()
}

var _ worker.Dialer = (*Dialer)(nil)
