package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"main/pkg/exception"
)

// wsConn adapts a gorilla connection to the Conn interface. Reads are
// single-goroutine by contract; writes are serialized by a mutex because
// pings and data frames come from different goroutines.
type wsConn struct {
	conn      *websocket.Conn
	readWait  time.Duration
	writeWait time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, readWait, writeWait time.Duration) *wsConn {
	c := &wsConn{
		conn:      conn,
		readWait:  readWait,
		writeWait: writeWait,
	}
	if readWait > 0 {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})
	}
	return c
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.readWait > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.readWait)); err != nil {
				return nil, classifyConnErr(err)
			}
		}
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return nil, classifyConnErr(err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		return payload, nil
	}
}

func (c *wsConn) Write(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(c.writeDeadline(ctx)); err != nil {
		return classifyConnErr(err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return classifyConnErr(err)
	}
	return nil
}

func (c *wsConn) Ping(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	err := c.conn.WriteControl(websocket.PingMessage, nil, c.writeDeadline(ctx))
	if err != nil {
		return classifyConnErr(err)
	}
	return nil
}

func (c *wsConn) Close(code CloseCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(int(code), reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) writeDeadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	wait := c.writeWait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return time.Now().Add(wait)
}

// classifyConnErr maps transport errors onto the sentinel taxonomy so the
// run loop can tell an auth rejection from an ordinary drop.
func classifyConnErr(err error) error {
	if err == nil {
		return nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch CloseCode(ce.Code) {
		case CloseAuthExpired:
			return exception.ErrAuthExpired
		case CloseNormal, CloseGoingAway:
			return exception.ErrConnectionClosed
		}
	}
	return err
}
