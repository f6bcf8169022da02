package websocket

import (
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wmdanor/wsengine/frame"
)

type CloseCode = frame.CloseCode

// Close codes defined in RFC 6455, section 11.7.
const (
	CloseNormalClosure           = frame.CloseNormalClosure
	CloseGoingAway               = frame.CloseGoingAway
	CloseProtocolError           = frame.CloseProtocolError
	CloseUnsupportedData         = frame.CloseUnsupportedData
	CloseNoStatusReceived        = frame.CloseNoStatusReceived
	CloseAbnormalClosure         = frame.CloseAbnormalClosure
	CloseInvalidFramePayloadData = frame.CloseInvalidFramePayloadData
	ClosePolicyViolation         = frame.ClosePolicyViolation
	CloseMessageTooBig           = frame.CloseMessageTooBig
	CloseMandatoryExtension      = frame.CloseMandatoryExtension
	CloseInternalServerErr       = frame.CloseInternalServerErr
	CloseServiceRestart          = frame.CloseServiceRestart
	CloseTryAgainLater           = frame.CloseTryAgainLater
	CloseBadGateway              = frame.CloseBadGateway
	CloseTLSHandshake            = frame.CloseTLSHandshake
)

var (
	ErrClosed    = errors.New("websocket: connection closed")
	ErrCloseSent = errors.New("websocket: close frame already sent")
)

// CloseInfo describes how a connection ended. For transport failures Code is
// CloseAbnormalClosure and no Close frame was exchanged.
type CloseInfo struct {
	Code   CloseCode
	Reason string
	// Remote is set when the peer sent the first Close frame.
	Remote bool
}

// CloseError is returned by operations on a closed connection. It matches
// ErrClosed and io.EOF with errors.Is.
type CloseError struct {
	CloseInfo
	Err error
}

func (e *CloseError) Error() string {
	msg := fmt.Sprintf("websocket: connection closed with %d (%s)", e.Code, e.Code)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": [" + e.Err.Error() + "]"
	}
	return msg
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

func (e *CloseError) Is(target error) bool {
	return target == ErrClosed || target == io.EOF
}

// Close starts the closing handshake and blocks until the peer answers, the
// grace period elapses or the transport fails. Calling Close on a connection
// that is already closing waits for it to finish.
//
// Called from a ping, pong or close handler, Close returns once the Close
// frame is written and the read loop completes the handshake.
func (c *Conn) Close(code CloseCode, reason string) error {
	if code != CloseNoStatusReceived && !code.IsValid() {
		return fmt.Errorf("close code %d can not be sent in a close frame", code)
	}
	if !utf8.ValidString(reason) {
		return fmt.Errorf("close reason %q is not valid UTF-8", reason)
	}

	if !c.startClose() {
		if c.inHandler.Load() {
			return nil
		}
		c.l.Debug("close already in progress, waiting")
		c.waitClosed()
		return nil
	}
	c.recordClose(CloseInfo{Code: code, Reason: reason}, nil)

	c.l.Debug("closing websocket connection", zap.Uint16("code", code.U()), zap.String("reason", reason))

	err := c.writeClose(code, reason)
	if err != nil {
		c.l.Debug("failed to send close frame", zap.Error(err))
		return multierr.Append(err, c.teardown(err))
	}

	// the read loop ends when the peer answers, or on the deadline
	grace := c.cfg.CloseGracePeriod
	if err := c.conn.SetReadDeadline(time.Now().Add(grace)); err != nil {
		c.l.Debug("failed to set close read deadline", zap.Error(err))
	}

	// the read loop is blocked in our caller
	if c.inHandler.Load() {
		return nil
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-c.readDone:
	case <-timer.C:
		c.l.Debug("close grace period elapsed without close frame from peer")
	}

	return c.teardown(nil)
}

// CloseReason reports how the connection was closed. ok is false while the
// connection is open.
func (c *Conn) CloseReason() (info CloseInfo, ok bool) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	return c.closeInfo, c.hasInfo
}

// fail reacts to a protocol violation: the matching Close frame is sent,
// without waiting for the peer, and the read loop then tears down with err
// as the cause.
func (c *Conn) fail(err error) {
	code, reason := CloseProtocolError, ""

	var perr *frame.ProtocolError
	if errors.As(err, &perr) {
		code, reason = perr.Code, perr.Reason
	}

	c.l.Warn("connection fatal error, closing connection", zap.Error(err), zap.Uint16("code", code.U()))
	c.recordClose(CloseInfo{Code: code, Reason: reason}, nil)

	if !c.startClose() {
		return
	}

	if werr := c.writeClose(code, reason); werr != nil {
		c.l.Debug("failed to send close frame", zap.Error(werr))
	}
}

// startClose marks our Close frame as sent. It returns false if one was
// already sent.
func (c *Conn) startClose() bool {
	if !c.sentClose.CompareAndSwap(false, true) {
		return false
	}

	c.setState(StateOpen, StateClosing)
	c.closingOnce.Do(func() { close(c.closing) })

	return true
}

// writeClose queues a Close frame ahead of pending data and waits until it
// is written.
func (c *Conn) writeClose(code CloseCode, reason string) error {
	of := newOutFrame(frame.Frame{
		Fin:     true,
		Opcode:  frame.OpcodeClose,
		Payload: frame.ClosePayload(code, reason),
	}, true)

	if err := c.sendq.PushControl(of); err != nil {
		return ErrClosed
	}

	timer := time.NewTimer(c.cfg.CloseGracePeriod)
	defer timer.Stop()

	select {
	case err := <-of.done:
		if err != nil {
			return fmt.Errorf("failed to write close frame: [%w]", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("timed out writing close frame")
	}
}

// recordClose keeps the first close reason observed.
func (c *Conn) recordClose(info CloseInfo, cause error) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if !c.hasInfo {
		c.closeInfo = info
		c.hasInfo = true
	}
	if cause != nil {
		c.err = multierr.Append(c.err, cause)
	}
}

func (c *Conn) closeError() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	info := c.closeInfo
	if !c.hasInfo {
		info = CloseInfo{Code: CloseAbnormalClosure}
	}

	return &CloseError{CloseInfo: info, Err: c.err}
}

func (c *Conn) waitClosed() {
	timer := time.NewTimer(2 * c.cfg.CloseGracePeriod)
	defer timer.Stop()

	select {
	case <-c.done:
	case <-timer.C:
		_ = c.teardown(fmt.Errorf("timed out waiting for close"))
	}
}

// teardown closes the transport. Only the first call has an effect; a
// connection that never exchanged Close frames is recorded as 1006.
func (c *Conn) teardown(cause error) (err error) {
	c.teardownOnce.Do(func() {
		c.recordClose(CloseInfo{Code: CloseAbnormalClosure}, cause)

		c.state.Store(int32(StateClosed))
		c.closingOnce.Do(func() { close(c.closing) })
		close(c.done)

		err = c.conn.Close()
		if err != nil {
			err = fmt.Errorf("failed to close transport: [%w]", err)
		}

		for _, of := range c.sendq.Close() {
			of.finish(ErrClosed)
		}

		info, _ := c.CloseReason()
		c.l.Debug("websocket connection closed",
			zap.Uint16("code", info.Code.U()),
			zap.String("reason", info.Reason),
			zap.Bool("remote", info.Remote),
			zap.NamedError("cause", cause),
		)
	})

	return err
}
