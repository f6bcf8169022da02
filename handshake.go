package websocket

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

const (
	headerHost         = "Host"
	headerUpgrade      = "Upgrade"
	headerConn         = "Connection"
	headerSecWsVersion = "Sec-WebSocket-Version"
	headerSecWsProto   = "Sec-WebSocket-Protocol"
	headerSecWsExt     = "Sec-WebSocket-Extensions"
	headerSecWsKey     = "Sec-WebSocket-Key"
	headerSecWsAccept  = "Sec-WebSocket-Accept"

	headerUpgradeExpected      = "websocket"
	headerConnExpected         = "Upgrade"
	headerSecWsVersionExpected = "13"

	wsGuid = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
)

var (
	ErrInvalidHandshakeRequest = errors.New("invalid handshake request")
	ErrHandshakeFailure        = errors.New("handshake failure")
)

// HandshakeError is a failed opening handshake. On the server Status is the
// HTTP status sent back to the client; on the client it is the status the
// server answered with, or 0 when no response was read.
type HandshakeError struct {
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("websocket handshake failed with status %d: %s", e.Status, e.Err)
	}
	return fmt.Sprintf("websocket handshake failed: %s", e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

func requestError(status int, format string, args ...any) *HandshakeError {
	return &HandshakeError{
		Status: status,
		Err:    fmt.Errorf("%w: "+format, append([]any{ErrInvalidHandshakeRequest}, args...)...),
	}
}

func responseError(status int, format string, args ...any) *HandshakeError {
	return &HandshakeError{
		Status: status,
		Err:    fmt.Errorf("%w: "+format, append([]any{ErrHandshakeFailure}, args...)...),
	}
}

func newSecWsKey() (string, error) {
	nonce := [16]byte{}

	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate %s: [%w]", headerSecWsKey, err)
	}

	return base64.StdEncoding.EncodeToString(nonce[:]), nil
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(secWebSocketKey string) string {
	hasher := sha1.New()
	hasher.Write([]byte(secWebSocketKey + wsGuid))

	return base64.StdEncoding.EncodeToString(hasher.Sum(nil))
}

// Checks if header equals expected value (case insensitive)
// If yes - returns `"", true`
// If no - returns `"<actual_value>", false`
func headerEquals(h http.Header, header, expectedValue string) (string, bool) {
	actualValue := h.Get(header)
	if strings.EqualFold(expectedValue, actualValue) {
		return "", true
	} else {
		return actualValue, false
	}
}

// headerTokens splits every value of a comma separated header.
func headerTokens(h http.Header, header string) []string {
	var tokens []string
	for _, v := range h.Values(header) {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, t)
			}
		}
	}
	return tokens
}

// Checks if a comma separated header lists the token (case insensitive).
// Browsers send e.g. "Connection: keep-alive, Upgrade".
func headerHasToken(h http.Header, header, token string) (string, bool) {
	for _, t := range headerTokens(h, header) {
		if strings.EqualFold(t, token) {
			return "", true
		}
	}
	return h.Get(header), false
}

// validateRequest checks a client's opening handshake. The returned error
// is a *HandshakeError carrying the status to answer with.
func validateRequest(req *http.Request) error {
	if req.Method != http.MethodGet {
		return requestError(http.StatusMethodNotAllowed, "method must be GET, actual %q", req.Method)
	}

	if !req.ProtoAtLeast(1, 1) {
		return requestError(http.StatusBadRequest, "protocol must be at least HTTP/1.1, actual %q", req.Proto)
	}

	if req.Host == "" {
		return requestError(http.StatusBadRequest, "missing %q header", headerHost)
	}

	actual, ok := headerHasToken(req.Header, headerUpgrade, headerUpgradeExpected)
	if !ok {
		return requestError(http.StatusBadRequest, "%q header must be %q, actual %q",
			headerUpgrade, headerUpgradeExpected, actual)
	}

	actual, ok = headerHasToken(req.Header, headerConn, headerConnExpected)
	if !ok {
		return requestError(http.StatusBadRequest, "%q header must contain %q, actual %q",
			headerConn, headerConnExpected, actual)
	}

	actual, ok = headerEquals(req.Header, headerSecWsVersion, headerSecWsVersionExpected)
	if !ok {
		return requestError(http.StatusUpgradeRequired, "%q header must be %q, received %q",
			headerSecWsVersion, headerSecWsVersionExpected, actual)
	}

	secWsKey := req.Header.Get(headerSecWsKey)
	if len(secWsKey) == 0 {
		return requestError(http.StatusBadRequest, "missing %q header", headerSecWsKey)
	}
	decoded, err := base64.StdEncoding.DecodeString(secWsKey)
	if err != nil {
		return requestError(http.StatusBadRequest, "failed to base64 decode %q header: [%s]", headerSecWsKey, err)
	}
	if len(decoded) != 16 {
		return requestError(http.StatusBadRequest, "decoded value of %q must be 16 bytes, received %d bytes",
			headerSecWsKey, len(decoded))
	}

	return nil
}

// selectSubprotocol picks the first of the server's subprotocols that the
// client offered.
func selectSubprotocol(req *http.Request, supported []string) string {
	offered := headerTokens(req.Header, headerSecWsProto)
	for _, s := range supported {
		if slices.Contains(offered, s) {
			return s
		}
	}
	return ""
}

func writeHandshakeResponse(w *bufio.Writer, secWsKey, subprotocol string) error {
	w.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	w.WriteString(headerUpgrade + ": " + headerUpgradeExpected + "\r\n")
	w.WriteString(headerConn + ": " + headerConnExpected + "\r\n")
	w.WriteString(headerSecWsAccept + ": " + AcceptKey(secWsKey) + "\r\n")
	if subprotocol != "" {
		w.WriteString(headerSecWsProto + ": " + subprotocol + "\r\n")
	}
	w.WriteString("\r\n")

	return w.Flush()
}

func writeHandshakeRejection(w *bufio.Writer, herr *HandshakeError) error {
	body := herr.Err.Error() + "\n"

	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", herr.Status, http.StatusText(herr.Status))
	if herr.Status == http.StatusUpgradeRequired {
		w.WriteString(headerSecWsVersion + ": " + headerSecWsVersionExpected + "\r\n")
	}
	w.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(w, "Content-Length: %d\r\n", len(body))
	w.WriteString("Connection: close\r\n\r\n")
	w.WriteString(body)

	return w.Flush()
}

// newHandshakeRequest builds the client's opening handshake for u, which
// must already use the http or https scheme.
func newHandshakeRequest(u *url.URL, secWsKey string, header http.Header, subprotocols []string) *http.Request {
	req := &http.Request{
		Method:     http.MethodGet,
		URL:        u,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Host:       u.Host,
		Header:     make(http.Header),
	}

	for hk, hv := range header {
		if hk == headerHost && len(hv) > 0 {
			req.Host = hv[0]
			continue
		}
		req.Header[hk] = hv
	}

	req.Header[headerUpgrade] = []string{headerUpgradeExpected}
	req.Header[headerConn] = []string{headerConnExpected}
	req.Header[headerSecWsVersion] = []string{headerSecWsVersionExpected}
	req.Header[headerSecWsKey] = []string{secWsKey}

	if len(subprotocols) > 0 {
		req.Header[headerSecWsProto] = []string{strings.Join(subprotocols, ", ")}
	}

	return req
}

// validateResponse checks the server's answer and returns the subprotocol it
// selected.
func validateResponse(res *http.Response, secWsKey string, offered []string) (string, error) {
	if res.StatusCode != http.StatusSwitchingProtocols {
		return "", responseError(res.StatusCode, "status code must be %d, actual %d",
			http.StatusSwitchingProtocols, res.StatusCode)
	}

	actual, ok := headerEquals(res.Header, headerUpgrade, headerUpgradeExpected)
	if !ok {
		return "", responseError(res.StatusCode, "%q header must be %q, actual %q",
			headerUpgrade, headerUpgradeExpected, actual)
	}

	actual, ok = headerHasToken(res.Header, headerConn, headerConnExpected)
	if !ok {
		return "", responseError(res.StatusCode, "%q header must be %q, actual %q",
			headerConn, headerConnExpected, actual)
	}

	secWsAccept := res.Header.Get(headerSecWsAccept)
	if len(secWsAccept) == 0 {
		return "", responseError(res.StatusCode, "missing %q header", headerSecWsAccept)
	} else if secWsAccept != AcceptKey(secWsKey) {
		return "", responseError(res.StatusCode, "%q header does not equal expected value", headerSecWsAccept)
	}

	if ext := res.Header.Get(headerSecWsExt); ext != "" {
		return "", responseError(res.StatusCode, "server selected extensions %q that were not offered", ext)
	}

	subprotocol := res.Header.Get(headerSecWsProto)
	if subprotocol != "" && !slices.Contains(offered, subprotocol) {
		return "", responseError(res.StatusCode, "server selected subprotocol %q that was not offered", subprotocol)
	}

	return subprotocol, nil
}
