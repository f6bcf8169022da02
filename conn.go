package websocket

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wmdanor/wsengine/frame"
	"github.com/wmdanor/wsengine/internal"
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is an established WebSocket connection. A read loop and a write loop
// own the two halves of the transport; every exported method is safe for
// concurrent use.
type Conn struct {
	l *zap.Logger

	cfg  Config
	role frame.Role

	conn net.Conn
	r    *bufio.Reader
	wBuf []byte

	subprotocol string

	state atomic.Int32

	sendq *internal.SendQueue[*outFrame]
	// held by Send and by an open NextWriter so fragments of one message
	// stay contiguous in the data lane
	dataSem chan struct{}

	inbox chan Message

	sentClose atomic.Bool
	recvClose atomic.Bool
	closing   chan struct{}

	closeMu   sync.Mutex
	closeInfo CloseInfo
	hasInfo   bool
	err       error

	teardownOnce sync.Once
	closingOnce  sync.Once
	done         chan struct{}
	readDone     chan struct{}
	writeDone    chan struct{}

	handlersMu  sync.RWMutex
	inHandler   atomic.Bool
	handlePing  func(payload []byte)
	handlePong  func(payload []byte, latency time.Duration)
	handleClose func(info CloseInfo)

	ping     pingStats
	lastSeen atomic.Int64
}

// outFrame is a frame waiting in the send queue. done, when set, receives
// the result of the write.
type outFrame struct {
	frame frame.Frame
	done  chan error
}

func newOutFrame(f frame.Frame, wait bool) *outFrame {
	of := &outFrame{frame: f}
	if wait {
		of.done = make(chan error, 1)
	}
	return of
}

func (of *outFrame) finish(err error) {
	if of.done != nil {
		of.done <- err
	}
}

// newConn takes ownership of an upgraded transport. reader may already hold
// bytes that followed the handshake.
func newConn(netConn net.Conn, reader *bufio.Reader, role frame.Role, cfg Config, subprotocol string) *Conn {
	if reader == nil {
		reader = bufio.NewReaderSize(netConn, cfg.ReadBufferSize)
	}

	c := &Conn{
		l: cfg.Logger.With(
			zap.Stringer("role", role),
			zap.String("remote", remoteAddr(netConn)),
		),
		cfg:         cfg,
		role:        role,
		conn:        netConn,
		r:           reader,
		wBuf:        make([]byte, 0, cfg.WriteBufferSize),
		subprotocol: subprotocol,
		sendq:       internal.NewSendQueue[*outFrame](),
		dataSem:     make(chan struct{}, 1),
		inbox:       make(chan Message, cfg.InboxSize),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
		readDone:    make(chan struct{}),
		writeDone:   make(chan struct{}),
	}
	c.lastSeen.Store(time.Now().UnixNano())
	c.state.Store(int32(StateOpen))

	c.l.Debug("websocket connection opened", zap.String("subprotocol", subprotocol))

	go c.readLoop()
	go c.writeLoop()
	if cfg.PingInterval > 0 {
		go c.keepalive()
	}

	return c
}

func remoteAddr(c net.Conn) string {
	if addr := c.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

// Subprotocol returns the subprotocol agreed during the handshake, or "".
func (c *Conn) Subprotocol() string {
	return c.subprotocol
}

func (c *Conn) IsServer() bool {
	return c.role == frame.RoleServer
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Done is closed once the transport has been torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) setState(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}
