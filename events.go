package websocket

import (
	"time"
)

// SetPingHandler sets a function called for every received Ping. The Pong
// reply is queued before h runs and does not depend on it.
//
// Handlers run on the read loop: no frame is read until they return.
func (c *Conn) SetPingHandler(h func(payload []byte)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlePing = h
}

// SetPongHandler sets a function called for every received Pong. latency is
// non-zero when the Pong answered the last Ping sent by Conn.Ping.
func (c *Conn) SetPongHandler(h func(payload []byte, latency time.Duration)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlePong = h
}

// SetCloseHandler sets a function called when the peer's Close frame
// arrives, before it is echoed.
func (c *Conn) SetCloseHandler(h func(info CloseInfo)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handleClose = h
}

// dispatch runs a handler on the read loop. Close checks inHandler so a
// handler closing the connection does not wait for the read loop.
func (c *Conn) dispatch(fn func()) {
	c.inHandler.Store(true)
	defer c.inHandler.Store(false)

	fn()
}

func (c *Conn) pingHandler() func([]byte) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	return c.handlePing
}

func (c *Conn) pongHandler() func([]byte, time.Duration) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	return c.handlePong
}

func (c *Conn) closeHandler() func(CloseInfo) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	return c.handleClose
}
