package websocket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wmdanor/wsengine/frame"
)

// On a server call this in your http handler
// to upgrade connection to Websocket connection
func UpgradeConnection(w http.ResponseWriter, req *http.Request, opts ...Option) (*Conn, error) {
	cfg := newConfig(opts)
	l := cfg.Logger.With(zap.String("remote", req.RemoteAddr))

	l.Debug("opening new websocket connection")

	if err := validateRequest(req); err != nil {
		l.Debug("failed to open websocket connection", zap.Error(err))

		var herr *HandshakeError
		if errors.As(err, &herr) {
			if herr.Status == http.StatusUpgradeRequired {
				w.Header().Set(headerSecWsVersion, headerSecWsVersionExpected)
			}
			http.Error(w, herr.Err.Error(), herr.Status)
		}
		return nil, err
	}

	if ext := req.Header.Get(headerSecWsExt); ext != "" {
		l.Debug("declining websocket extensions", zap.String("offered", ext))
	}
	subprotocol := selectSubprotocol(req, cfg.Subprotocols)

	netConn, rw, err := http.NewResponseController(w).Hijack()
	if err != nil {
		l.Debug("failed to open websocket connection: couldn't hijack TCP connection", zap.Error(err))
		http.Error(w, "websocket upgrade is not supported", http.StatusInternalServerError)
		return nil, fmt.Errorf("failed to hijack net.Conn: [%w]", err)
	}

	_ = netConn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))

	err = writeHandshakeResponse(rw.Writer, req.Header.Get(headerSecWsKey), subprotocol)
	if err != nil {
		_ = netConn.Close()
		return nil, fmt.Errorf("failed to write handshake response: [%w]", err)
	}

	_ = netConn.SetDeadline(time.Time{})

	return newConn(netConn, rw.Reader, frame.RoleServer, cfg, subprotocol), nil
}

// Handler serves one connection. The connection is closed when the handler
// returns, and ctx is cancelled when the server shuts down.
type Handler func(ctx context.Context, c *Conn)

var ErrServerClosed = errors.New("websocket: server closed")

const defaultAddr = ":9001"

// Server accepts TCP connections and performs the opening handshake itself,
// without net/http routing. Each connection is served on its own goroutine.
type Server struct {
	Addr    string
	Handler Handler
	Options []Option

	mu        sync.Mutex
	listeners map[net.Listener]context.CancelFunc
	closed    bool
	wg        sync.WaitGroup
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.Addr
	if addr == "" {
		addr = defaultAddr
	}

	lc := net.ListenConfig{Control: listenControl}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: [%w]", addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Shutdown is called,
// then returns ErrServerClosed. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.Handler == nil {
		_ = ln.Close()
		return errors.New("websocket: server has no handler")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !s.trackListener(ln, cancel) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(ln)

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	cfg := newConfig(s.Options)
	l := cfg.Logger.With(zap.Stringer("addr", ln.Addr()))

	l.Debug("serving websocket connections")

	var backoff time.Duration
	for {
		netConn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				l.Warn("accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}

			return fmt.Errorf("failed to accept connection: [%w]", err)
		}
		backoff = 0

		if !s.addConn() {
			_ = netConn.Close()
			return ErrServerClosed
		}
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, netConn, cfg)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, netConn net.Conn, cfg Config) {
	l := cfg.Logger.With(zap.String("remote", remoteAddr(netConn)))

	_ = netConn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))

	br := bufio.NewReaderSize(netConn, cfg.ReadBufferSize)
	bw := bufio.NewWriter(netConn)

	req, err := http.ReadRequest(br)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			l.Debug("failed to read handshake request", zap.Error(err))
			_ = writeHandshakeRejection(bw, requestError(http.StatusBadRequest, "malformed request"))
		}
		_ = netConn.Close()
		return
	}

	if err := validateRequest(req); err != nil {
		l.Debug("rejecting handshake", zap.Error(err))

		var herr *HandshakeError
		if errors.As(err, &herr) {
			_ = writeHandshakeRejection(bw, herr)
		}
		_ = netConn.Close()
		return
	}

	if ext := req.Header.Get(headerSecWsExt); ext != "" {
		l.Debug("declining websocket extensions", zap.String("offered", ext))
	}
	subprotocol := selectSubprotocol(req, cfg.Subprotocols)

	if err := writeHandshakeResponse(bw, req.Header.Get(headerSecWsKey), subprotocol); err != nil {
		l.Debug("failed to write handshake response", zap.Error(err))
		_ = netConn.Close()
		return
	}

	_ = netConn.SetDeadline(time.Time{})

	c := newConn(netConn, br, frame.RoleServer, cfg, subprotocol)

	stop := context.AfterFunc(ctx, func() {
		_ = c.Close(CloseGoingAway, "server shutting down")
	})
	defer stop()

	s.Handler(ctx, c)

	_ = c.Close(CloseNormalClosure, "")
}

// Shutdown stops accepting connections, closes every open connection with
// CloseGoingAway and waits for the handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error

	s.mu.Lock()
	s.closed = true
	for ln, cancel := range s.listeners {
		cancel()
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, fmt.Errorf("failed to close listener %s: [%w]", ln.Addr(), cerr))
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return multierr.Append(err, ctx.Err())
	}
}

func (s *Server) trackListener(ln net.Listener, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.listeners == nil {
		s.listeners = make(map[net.Listener]context.CancelFunc)
	}
	s.listeners[ln] = cancel

	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.listeners, ln)
}

func (s *Server) addConn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.wg.Add(1)

	return true
}
