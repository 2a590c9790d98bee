// Package wsclient is a Go client for the relay's WebSocket protocol. The
// relay's own integration tests use it; an in-process collaborator could too.
package wsclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fileferry/fileferry/pkg/protocol"
)

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// Conn is one duplex connection to the relay.
type Conn struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	sendChan  chan protocol.Envelope
	done      chan struct{}
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial connects to the relay at wsURL (ws:// or wss://, path /ws).
func Dial(ctx context.Context, wsURL string, logger *slog.Logger) (*Conn, error) {
	conn, resp, err := dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}

	c := &Conn{
		conn:     conn,
		logger:   logger,
		sendChan: make(chan protocol.Envelope, 256),
		done:     make(chan struct{}),
	}
	go c.writeLoop()
	return c, nil
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.sendChan:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := c.conn.WriteJSON(env)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Error("websocket write error", "error", err)
				return
			}
		}
	}
}

// ReadLoop reads envelopes and calls onEnv for each until the connection
// closes or ctx is cancelled.
func (c *Conn) ReadLoop(ctx context.Context, onEnv func(env protocol.Envelope)) error {
	go func() {
		select {
		case <-ctx.Done():
			// Closing the connection forces ReadJSON to unblock.
			c.conn.Close()
		case <-c.done:
		}
	}()

	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			}
			return err
		}
		onEnv(env)
	}
}

// Send queues an envelope for delivery.
func (c *Conn) Send(env protocol.Envelope) error {
	select {
	case c.sendChan <- env:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	}
}

// SendDirective wraps a payload in a fresh envelope and queues it. Returns
// the message ID for reply correlation.
func (c *Conn) SendDirective(kind protocol.Kind, payload any) (string, error) {
	env, err := protocol.NewEnvelope(kind, protocol.NewMsgID(), payload)
	if err != nil {
		return "", err
	}
	if err := c.Send(env); err != nil {
		return "", err
	}
	return env.MsgID, nil
}

// Register announces this client's device metadata.
func (c *Conn) Register(info protocol.RegisterDevice) (string, error) {
	return c.SendDirective(protocol.KindRegisterDevice, info)
}

// Discover asks for a fresh device list.
func (c *Conn) Discover() (string, error) {
	return c.SendDirective(protocol.KindDiscoverDevices, struct{}{})
}

// OpenFolder asks target (or the relay host if target is empty) to open a
// folder.
func (c *Conn) OpenFolder(folderPath, target string) (string, error) {
	return c.SendDirective(protocol.KindOpenFolder, protocol.OpenFolder{
		FolderPath:   folderPath,
		TargetDevice: target,
	})
}

// SelectFile announces a file selection.
func (c *Conn) SelectFile(sel protocol.FileSelected) (string, error) {
	return c.SendDirective(protocol.KindFileSelected, sel)
}

// Ping requests a pong.
func (c *Conn) Ping() (string, error) {
	return c.SendDirective(protocol.KindPing, protocol.Ping{})
}

// Close tears down the connection.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.conn.Close()
}
