package websocket

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/wmdanor/wsengine/frame"
)

type Dialer struct {
	Subprotocols []string

	// TLSConfig is used for wss URLs. ServerName defaults to the URL host.
	TLSConfig *tls.Config
	NetDialer *net.Dialer

	Logger  *zap.Logger
	Options []Option
}

// Dial connects with a Dialer using the given options.
func Dial(ctx context.Context, urlStr string, header http.Header, opts ...Option) (*Conn, *http.Response, error) {
	d := Dialer{Options: opts}
	return d.Dial(ctx, urlStr, header)
}

// Dial opens a TCP (or TLS) connection to a ws or wss URL and performs the
// opening handshake. The response is returned also when the server rejected
// the upgrade.
func (d *Dialer) Dial(ctx context.Context, urlStr string, header http.Header) (*Conn, *http.Response, error) {
	opts := make([]Option, 0, len(d.Options)+2)
	if d.Logger != nil {
		opts = append(opts, WithLogger(d.Logger))
	}
	opts = append(opts, d.Options...)
	if len(d.Subprotocols) > 0 {
		opts = append(opts, WithSubprotocols(d.Subprotocols...))
	}
	cfg := newConfig(opts)
	l := cfg.Logger.With(zap.String("url", urlStr))

	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, nil, &HandshakeError{Err: fmt.Errorf("%w: failed to parse url: [%w]", ErrHandshakeFailure, err)}
	}

	useTLS := false
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
		useTLS = true
	default:
		return nil, nil, &HandshakeError{Err: fmt.Errorf("%w: url schema must be ws or wss, actual %q", ErrHandshakeFailure, u.Scheme)}
	}

	dialAddr := u.Host
	if u.Port() == "" {
		port := "80"
		if useTLS {
			port = "443"
		}
		dialAddr = net.JoinHostPort(u.Hostname(), port)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	l.Debug("dialing websocket server", zap.String("addr", dialAddr))

	netDialer := d.NetDialer
	if netDialer == nil {
		netDialer = &net.Dialer{}
	}

	netConn, err := netDialer.DialContext(ctx, "tcp", dialAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial remote address %q: [%w]", dialAddr, err)
	}
	defer func() {
		if netConn != nil {
			_ = netConn.Close()
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}

	if useTLS {
		tlsCfg := d.TLSConfig.Clone()
		if tlsCfg == nil {
			tlsCfg = &tls.Config{}
		}
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = u.Hostname()
		}

		tlsConn := tls.Client(netConn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed TLS handshake with %q: [%w]", dialAddr, err)
		}
		netConn = tlsConn
	}

	secWsKey, err := newSecWsKey()
	if err != nil {
		return nil, nil, &HandshakeError{Err: fmt.Errorf("%w: [%w]", ErrHandshakeFailure, err)}
	}

	req := newHandshakeRequest(u, secWsKey, header, cfg.Subprotocols)

	err = req.Write(netConn)
	if err != nil {
		return nil, nil, &HandshakeError{Err: fmt.Errorf("%w: failed to write request: [%w]", ErrHandshakeFailure, err)}
	}

	bufReader := bufio.NewReaderSize(netConn, cfg.ReadBufferSize)

	res, err := http.ReadResponse(bufReader, req)
	if err != nil {
		return nil, nil, &HandshakeError{Err: fmt.Errorf("%w: failed to read response: [%w]", ErrHandshakeFailure, err)}
	}

	subprotocol, err := validateResponse(res, secWsKey, cfg.Subprotocols)
	if err != nil {
		l.Debug("server rejected handshake", zap.Error(err))
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		res.Body = io.NopCloser(bytes.NewReader(body))
		return nil, res, err
	}
	res.Body = io.NopCloser(bytes.NewReader([]byte{}))

	_ = netConn.SetDeadline(time.Time{})

	c := newConn(netConn, bufReader, frame.RoleClient, cfg, subprotocol)
	netConn = nil

	return c, res, nil
}
