package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var ErrChannelClosed = errors.New("transport channel closed")

// WSDialer dials the dispatch server's driver endpoint. The bearer
// credential is carried once at establishment, never per message.
type WSDialer struct {
	URL   string
	Token string
}

func (d *WSDialer) Dial(ctx context.Context) (Channel, error) {
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		return nil, err
	}
	ch := &wsChannel{
		conn: conn,
		recv: make(chan Envelope, 16),
		done: make(chan struct{}),
	}
	go ch.readPump()
	go ch.pingLoop()
	return ch, nil
}

type wsChannel struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	recv     chan Envelope
	done     chan struct{}
	closeOne sync.Once
}

func (c *wsChannel) Send(ctx context.Context, env Envelope) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(env); err != nil {
		c.shutdown()
		return err
	}
	return nil
}

func (c *wsChannel) Receive() <-chan Envelope { return c.recv }
func (c *wsChannel) Done() <-chan struct{}    { return c.done }

func (c *wsChannel) Close() error {
	c.shutdown()
	return nil
}

func (c *wsChannel) shutdown() {
	c.closeOne.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *wsChannel) readPump() {
	defer c.shutdown()
	defer close(c.recv)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		select {
		case c.recv <- env:
		case <-c.done:
			return
		}
	}
}

func (c *wsChannel) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}
