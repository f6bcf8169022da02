package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/wmdanor/wsengine/frame"
)

// Receive returns the next complete message. Messages received before the
// connection closed are still returned; after that Receive fails with a
// *CloseError.
func (c *Conn) Receive(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-c.inbox:
		if !ok {
			return Message{}, c.closeError()
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// NextMessage is Receive without a context.
// If connection was closed, will return: errors.Is(err, io.EOF) == true
func (c *Conn) NextMessage() (MessageType, []byte, error) {
	msg, err := c.Receive(context.Background())
	if err != nil {
		return MessageType(0), nil, err
	}
	return msg.Type, msg.Data, nil
}

func (c *Conn) readLoop() {
	defer close(c.readDone)
	defer close(c.inbox)

	c.teardown(c.readFrames())
}

// readFrames runs until the connection ends. The returned error is the
// cause of an abnormal end, nil after a clean close.
func (c *Conn) readFrames() error {
	dec := frame.NewDecoder(c.role, uint64(c.cfg.MaxFramePayload))
	rsm := frame.NewReassembler(c.cfg.MaxMessageSize)
	buf := make([]byte, c.cfg.ReadBufferSize)

	for {
		n, rerr := c.r.Read(buf)

		p := buf[:n]
		for len(p) > 0 {
			f, used, err := dec.Decode(p)
			p = p[used:]
			if errors.Is(err, frame.ErrNeedMoreData) {
				break
			}
			if err != nil {
				c.fail(err)
				return err
			}

			stop, err := c.handleFrame(f, rsm)
			if err != nil || stop {
				return err
			}
		}

		if rerr != nil {
			return c.readError(rerr, dec.InFrame() || rsm.Pending())
		}
	}
}

func (c *Conn) readError(err error, partial bool) error {
	switch {
	case c.recvClose.Load():
		return nil
	case c.sentClose.Load() && errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("peer did not answer close frame: [%w]", err)
	case errors.Is(err, io.EOF) && partial:
		return fmt.Errorf("transport closed inside a frame: [%w]", io.ErrUnexpectedEOF)
	case errors.Is(err, io.EOF):
		return fmt.Errorf("transport closed without close frame: [%w]", err)
	}

	c.l.Debug("failed to read from transport", zap.Error(err))
	return fmt.Errorf("failed to read from transport: [%w]", err)
}

// handleFrame dispatches one decoded frame. Control frames are handled here
// as they arrive, also between fragments of a data message.
func (c *Conn) handleFrame(f *frame.Frame, rsm *frame.Reassembler) (stop bool, err error) {
	c.lastSeen.Store(time.Now().UnixNano())

	if ce := c.l.Check(zap.DebugLevel, "received frame"); ce != nil {
		ce.Write(
			zap.Stringer("opcode", f.Opcode),
			zap.Bool("fin", f.Fin),
			zap.Int("length", len(f.Payload)),
		)
	}

	switch f.Opcode {
	case frame.OpcodePing:
		if !c.sentClose.Load() {
			pong := frame.Frame{Fin: true, Opcode: frame.OpcodePong, Payload: f.Payload}
			if err := c.sendq.PushControl(newOutFrame(pong, false)); err != nil {
				c.l.Debug("failed to queue pong", zap.Error(err))
			}
		}
		if h := c.pingHandler(); h != nil {
			c.dispatch(func() { h(f.Payload) })
		}
		return false, nil

	case frame.OpcodePong:
		latency, matched := c.ping.pong(f.Payload)
		if matched {
			c.l.Debug("received pong", zap.Duration("latency", latency))
		}
		if h := c.pongHandler(); h != nil {
			c.dispatch(func() { h(f.Payload, latency) })
		}
		return false, nil

	case frame.OpcodeClose:
		return true, c.handleCloseFrame(f)
	}

	msg, err := rsm.Push(f)
	if err != nil {
		c.fail(err)
		return true, err
	}
	if msg == nil {
		return false, nil
	}

	return false, c.deliver(Message{Type: MessageType(msg.Opcode), Data: msg.Payload})
}

func (c *Conn) deliver(msg Message) error {
	if c.sentClose.Load() {
		c.l.Debug("discarding message received while closing", zap.Int("length", len(msg.Data)))
		return nil
	}

	select {
	case c.inbox <- msg:
	case <-c.closing:
		c.l.Debug("discarding message received while closing", zap.Int("length", len(msg.Data)))
	case <-c.done:
		return ErrClosed
	}

	return nil
}

func (c *Conn) handleCloseFrame(f *frame.Frame) error {
	code, reason, err := frame.ParseClosePayload(f.Payload)
	if err != nil {
		c.fail(err)
		return err
	}

	c.recvClose.Store(true)

	info := CloseInfo{Code: code, Reason: reason, Remote: !c.sentClose.Load()}
	c.recordClose(info, nil)

	c.l.Debug("received close frame", zap.Uint16("code", code.U()), zap.String("reason", reason))

	if h := c.closeHandler(); h != nil {
		c.dispatch(func() { h(info) })
	}

	if c.startClose() {
		c.l.Debug("echoing close frame")
		if err := c.writeClose(code, reason); err != nil {
			return fmt.Errorf("failed to echo close frame: [%w]", err)
		}
	}

	// the server closes the transport first
	if c.role == frame.RoleServer {
		return nil
	}

	c.l.Debug("waiting for server to close transport")
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.CloseGracePeriod)); err != nil {
		return nil
	}
	if _, err := io.Copy(io.Discard, c.r); err != nil {
		c.l.Debug("server did not close transport", zap.Error(err))
	}

	return nil
}
