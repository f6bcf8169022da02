package websocket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/wmdanor/wsengine/frame"
	"github.com/wmdanor/wsengine/internal"
)

var (
	ErrInvalidUTF8    = errors.New("websocket: text message is not valid UTF-8")
	ErrWriterClosed   = errors.New("websocket: message writer closed")
	errNotDataMessage = errors.New("message type must be text or binary")
)

// Send writes a complete message. Messages are written in the order Send is
// called; Pongs and Close frames may overtake queued data. Send returns once
// the last frame of the message reached the transport.
func (c *Conn) Send(ctx context.Context, msg Message) error {
	if !msg.Type.isData() {
		return fmt.Errorf("%w, received %s", errNotDataMessage, msg.Type)
	}
	if msg.Type == TextMessage && !utf8.Valid(msg.Data) {
		return ErrInvalidUTF8
	}

	if err := c.acquireData(ctx); err != nil {
		return err
	}
	defer c.releaseData()

	if err := c.checkWritable(); err != nil {
		return err
	}

	frames := c.fragment(frame.Opcode(msg.Type), bytes.Clone(msg.Data))

	var last *outFrame
	for i, f := range frames {
		last = newOutFrame(f, i == len(frames)-1)
		if err := c.sendq.PushData(last); err != nil {
			return c.closeError()
		}
	}

	return c.waitWritten(ctx, last)
}

func (c *Conn) WriteMessage(messageType MessageType, data []byte) error {
	return c.Send(context.Background(), Message{Type: messageType, Data: data})
}

// WriteControl sends a Ping or Pong frame ahead of queued data. Close frames
// are sent with Close.
func (c *Conn) WriteControl(ctx context.Context, messageType MessageType, data []byte) error {
	if messageType != PingMessage && messageType != PongMessage {
		return fmt.Errorf("message type must be ping or pong, received %s", messageType)
	}
	if len(data) > frame.MaxControlPayload {
		return fmt.Errorf("control frame data must not exceed %d bytes, received: %d",
			frame.MaxControlPayload, len(data))
	}

	if err := c.checkWritable(); err != nil {
		return err
	}

	of := newOutFrame(frame.Frame{
		Fin:     true,
		Opcode:  frame.Opcode(messageType),
		Payload: bytes.Clone(data),
	}, true)
	if err := c.sendq.PushControl(of); err != nil {
		return c.closeError()
	}

	return c.waitWritten(ctx, of)
}

// NextWriter returns a writer streaming one message. Every full write buffer
// leaves as one fragment and Close sends the final frame. Other data
// messages wait until the writer is closed.
func (c *Conn) NextWriter(ctx context.Context, messageType MessageType) (io.WriteCloser, error) {
	if !messageType.isData() {
		return nil, fmt.Errorf("%w, received %s", errNotDataMessage, messageType)
	}

	if err := c.acquireData(ctx); err != nil {
		return nil, err
	}
	if err := c.checkWritable(); err != nil {
		c.releaseData()
		return nil, err
	}

	return &messageWriter{
		c:      c,
		ctx:    ctx,
		opcode: frame.Opcode(messageType),
		isText: messageType == TextMessage,
		buf:    make([]byte, 0, c.cfg.WriteBufferSize),
	}, nil
}

type messageWriter struct {
	c   *Conn
	ctx context.Context

	opcode frame.Opcode
	buf    []byte
	last   *outFrame

	isText bool
	text   internal.UTF8Validator

	// started is set once a fragment is queued, finished once the final one is
	started  bool
	finished bool

	closed bool
	err    error
}

func (w *messageWriter) Write(p []byte) (n int, err error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	if w.isText && !w.text.Write(p) {
		w.err = ErrInvalidUTF8
		return 0, w.err
	}

	for len(p) > 0 {
		if len(w.buf) == cap(w.buf) {
			if err := w.flush(false); err != nil {
				w.err = err
				w.abort()
				return n, err
			}
		}

		nn := min(len(p), cap(w.buf)-len(w.buf))
		w.buf = append(w.buf, p[:nn]...)
		p = p[nn:]
		n += nn
	}

	return n, nil
}

func (w *messageWriter) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true
	defer w.c.releaseData()

	if w.err == nil && w.isText && !w.text.Done() {
		w.err = ErrInvalidUTF8
	}
	if w.err != nil {
		w.abort()
		return w.err
	}

	if err := w.flush(true); err != nil {
		w.abort()
		return err
	}

	return w.c.waitWritten(w.ctx, w.last)
}

// abort closes the connection when the peer holds fragments of a message
// that will never be finished. Any later data frame would start a new
// message inside it.
func (w *messageWriter) abort() {
	if !w.started || w.finished {
		return
	}
	w.finished = true

	w.c.l.Debug("closing connection with unfinished message", zap.Error(w.err))
	_ = w.c.Close(CloseInternalServerErr, "incomplete message")
}

// flush hands the buffered bytes to the send queue as one frame. At most two
// frames of a message are in flight at a time.
func (w *messageWriter) flush(fin bool) error {
	of := newOutFrame(frame.Frame{Fin: fin, Opcode: w.opcode, Payload: w.buf}, true)
	w.opcode = frame.OpcodeContinuation
	w.buf = make([]byte, 0, cap(w.buf))

	if err := w.c.sendq.PushData(of); err != nil {
		return w.c.closeError()
	}
	w.started = true
	w.finished = fin

	prev := w.last
	w.last = of
	if prev != nil {
		return w.c.waitWritten(w.ctx, prev)
	}

	return nil
}

func (c *Conn) fragment(op frame.Opcode, data []byte) []frame.Frame {
	size := c.cfg.WriteFragmentSize
	if size <= 0 || len(data) <= size {
		return []frame.Frame{{Fin: true, Opcode: op, Payload: data}}
	}

	frames := make([]frame.Frame, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := min(size, len(data))
		frames = append(frames, frame.Frame{Opcode: op, Payload: data[:n]})
		op = frame.OpcodeContinuation
		data = data[n:]
	}
	frames[len(frames)-1].Fin = true

	return frames
}

func (c *Conn) checkWritable() error {
	if c.State() == StateClosed {
		return c.closeError()
	}
	if c.sentClose.Load() {
		return ErrCloseSent
	}
	return nil
}

func (c *Conn) acquireData(ctx context.Context) error {
	select {
	case c.dataSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.closeError()
	}
}

func (c *Conn) releaseData() {
	<-c.dataSem
}

// waitWritten blocks until of was written. Teardown finishes every queued
// frame, so a closed connection never leaves it waiting.
func (c *Conn) waitWritten(ctx context.Context, of *outFrame) error {
	select {
	case err := <-of.done:
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return c.closeError()
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop is the only writer of the transport.
func (c *Conn) writeLoop() {
	defer close(c.writeDone)

	closeWritten := false
	for {
		of, ok := c.sendq.Pop(c.done)
		if !ok {
			return
		}

		if closeWritten {
			of.finish(ErrCloseSent)
			continue
		}

		err := c.writeFrame(&of.frame)
		of.finish(err)

		if errors.Is(err, frame.ErrInvalidFrame) {
			c.l.Warn("refused to write invalid frame", zap.Error(err))
			continue
		}
		if err != nil {
			c.l.Debug("failed to write frame", zap.Error(err))
			c.teardown(fmt.Errorf("failed to write frame: [%w]", err))
			return
		}

		if of.frame.Opcode == frame.OpcodeClose {
			closeWritten = true
		}
	}
}

func (c *Conn) writeFrame(f *frame.Frame) error {
	buf, err := frame.AppendFrame(c.wBuf[:0], f, c.role)
	if err != nil {
		return err
	}

	if ce := c.l.Check(zap.DebugLevel, "writing frame"); ce != nil {
		ce.Write(
			zap.Stringer("opcode", f.Opcode),
			zap.Bool("fin", f.Fin),
			zap.Int("length", len(f.Payload)),
		)
	}

	_, err = c.conn.Write(buf)

	// keep the grown buffer unless a huge message inflated it
	if cap(buf) <= 16*c.cfg.WriteBufferSize {
		c.wBuf = buf[:0]
	}

	return err
}
