package websocket

import (
	"bufio"
	"bytes"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestSecWebsocketAccept(t *testing.T) {
	input := "dGhlIHNhbXBsZSBub25jZQ=="

	actual := AcceptKey(input)

	expected := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if actual != expected {
		t.Errorf("AcceptKey(%q) = %q, expected %q", input, actual, expected)
	} else {
		t.Logf("AcceptKey(%q) = %q, OK", input, actual)
	}
}

func TestNewSecWsKey(t *testing.T) {
	a, err := newSecWsKey()
	if err != nil {
		t.Fatalf("newSecWsKey() returned %v", err)
	}
	b, _ := newSecWsKey()

	if len(a) != 24 {
		t.Errorf("key %q has length %d, expected 24", a, len(a))
	}
	if a == b {
		t.Errorf("two keys are equal: %q", a)
	}
}

func handshakeRequest(modify func(r *http.Request)) *http.Request {
	req := &http.Request{
		Method:     http.MethodGet,
		URL:        &url.URL{Path: "/"},
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Host:       "example.com",
		Header: http.Header{
			headerUpgrade:      {"websocket"},
			headerConn:         {"Upgrade"},
			headerSecWsVersion: {"13"},
			headerSecWsKey:     {"dGhlIHNhbXBsZSBub25jZQ=="},
		},
	}
	if modify != nil {
		modify(req)
	}
	return req
}

func TestValidateRequest(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(r *http.Request)
		status int
	}{
		{
			name: "valid",
		},
		{
			name:   "connection token list",
			modify: func(r *http.Request) { r.Header.Set(headerConn, "keep-alive, Upgrade") },
		},
		{
			name:   "header values are case insensitive",
			modify: func(r *http.Request) { r.Header.Set(headerUpgrade, "WebSocket") },
		},
		{
			name:   "post",
			modify: func(r *http.Request) { r.Method = http.MethodPost },
			status: http.StatusMethodNotAllowed,
		},
		{
			name:   "http/1.0",
			modify: func(r *http.Request) { r.Proto, r.ProtoMinor = "HTTP/1.0", 0 },
			status: http.StatusBadRequest,
		},
		{
			name:   "missing host",
			modify: func(r *http.Request) { r.Host = "" },
			status: http.StatusBadRequest,
		},
		{
			name:   "missing upgrade",
			modify: func(r *http.Request) { r.Header.Del(headerUpgrade) },
			status: http.StatusBadRequest,
		},
		{
			name:   "connection without upgrade",
			modify: func(r *http.Request) { r.Header.Set(headerConn, "keep-alive") },
			status: http.StatusBadRequest,
		},
		{
			name:   "old version",
			modify: func(r *http.Request) { r.Header.Set(headerSecWsVersion, "8") },
			status: http.StatusUpgradeRequired,
		},
		{
			name:   "missing key",
			modify: func(r *http.Request) { r.Header.Del(headerSecWsKey) },
			status: http.StatusBadRequest,
		},
		{
			name:   "key not base64",
			modify: func(r *http.Request) { r.Header.Set(headerSecWsKey, "not a key!") },
			status: http.StatusBadRequest,
		},
		{
			name:   "15 byte key",
			modify: func(r *http.Request) { r.Header.Set(headerSecWsKey, "AAAAAAAAAAAAAAAAAAAA") },
			status: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateRequest(handshakeRequest(tc.modify))

			if tc.status == 0 {
				if err != nil {
					t.Errorf("validateRequest returned %v", err)
				}
				return
			}

			var herr *HandshakeError
			if !errors.As(err, &herr) {
				t.Fatalf("validateRequest returned %v, expected *HandshakeError", err)
			}
			if herr.Status != tc.status {
				t.Errorf("status = %d, expected %d (%v)", herr.Status, tc.status, err)
			}
			if !errors.Is(err, ErrInvalidHandshakeRequest) {
				t.Errorf("error %v does not match ErrInvalidHandshakeRequest", err)
			}
		})
	}
}

func TestSelectSubprotocol(t *testing.T) {
	req := handshakeRequest(func(r *http.Request) {
		r.Header.Add(headerSecWsProto, "v1.json, chat")
		r.Header.Add(headerSecWsProto, "mqtt")
	})

	testCases := []struct {
		supported []string
		expected  string
	}{
		{nil, ""},
		{[]string{"soap"}, ""},
		{[]string{"chat"}, "chat"},
		{[]string{"mqtt", "chat"}, "mqtt"},
		{[]string{"soap", "v1.json"}, "v1.json"},
	}

	for _, tc := range testCases {
		if actual := selectSubprotocol(req, tc.supported); actual != tc.expected {
			t.Errorf("selectSubprotocol(%q) = %q, expected %q", tc.supported, actual, tc.expected)
		}
	}
}

func TestWriteHandshakeResponse(t *testing.T) {
	var b bytes.Buffer
	if err := writeHandshakeResponse(bufio.NewWriter(&b), "dGhlIHNhbXBsZSBub25jZQ==", "chat"); err != nil {
		t.Fatalf("writeHandshakeResponse returned %v", err)
	}

	res, err := http.ReadResponse(bufio.NewReader(&b), nil)
	if err != nil {
		t.Fatalf("response can not be parsed: %v", err)
	}

	subprotocol, err := validateResponse(res, "dGhlIHNhbXBsZSBub25jZQ==", []string{"chat"})
	if err != nil {
		t.Fatalf("validateResponse returned %v", err)
	}
	if subprotocol != "chat" {
		t.Errorf("subprotocol = %q, expected %q", subprotocol, "chat")
	}
}

func TestWriteHandshakeRejection(t *testing.T) {
	var b bytes.Buffer
	herr := requestError(http.StatusUpgradeRequired, "unsupported version")
	if err := writeHandshakeRejection(bufio.NewWriter(&b), herr); err != nil {
		t.Fatalf("writeHandshakeRejection returned %v", err)
	}

	res, err := http.ReadResponse(bufio.NewReader(&b), nil)
	if err != nil {
		t.Fatalf("response can not be parsed: %v", err)
	}
	if res.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d, expected %d", res.StatusCode, http.StatusUpgradeRequired)
	}
	if v := res.Header.Get(headerSecWsVersion); v != "13" {
		t.Errorf("%s = %q, expected %q", headerSecWsVersion, v, "13")
	}
	if !res.Close {
		t.Errorf("rejection does not close the connection")
	}
}

func TestValidateResponse(t *testing.T) {
	const key = "dGhlIHNhbXBsZSBub25jZQ=="

	response := func(modify func(h http.Header)) *http.Response {
		h := http.Header{
			headerUpgrade:     {"websocket"},
			headerConn:        {"Upgrade"},
			headerSecWsAccept: {AcceptKey(key)},
		}
		if modify != nil {
			modify(h)
		}
		return &http.Response{StatusCode: http.StatusSwitchingProtocols, Header: h}
	}

	testCases := []struct {
		name   string
		res    *http.Response
		errMsg string
	}{
		{
			name: "valid",
			res:  response(nil),
		},
		{
			name:   "not switching protocols",
			res:    &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{}},
			errMsg: "status code",
		},
		{
			name:   "wrong upgrade",
			res:    response(func(h http.Header) { h.Set(headerUpgrade, "h2c") }),
			errMsg: headerUpgrade,
		},
		{
			name:   "missing connection",
			res:    response(func(h http.Header) { h.Del(headerConn) }),
			errMsg: headerConn,
		},
		{
			name:   "missing accept",
			res:    response(func(h http.Header) { h.Del(headerSecWsAccept) }),
			errMsg: "missing",
		},
		{
			name:   "wrong accept",
			res:    response(func(h http.Header) { h.Set(headerSecWsAccept, AcceptKey("other")) }),
			errMsg: "does not equal",
		},
		{
			name:   "unrequested extension",
			res:    response(func(h http.Header) { h.Set(headerSecWsExt, "permessage-deflate") }),
			errMsg: "extensions",
		},
		{
			name:   "unrequested subprotocol",
			res:    response(func(h http.Header) { h.Set(headerSecWsProto, "mqtt") }),
			errMsg: "subprotocol",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validateResponse(tc.res, key, []string{"chat"})

			if tc.errMsg == "" {
				if err != nil {
					t.Errorf("validateResponse returned %v", err)
				}
				return
			}

			if err == nil {
				t.Fatalf("validateResponse returned no error")
			}
			if !errors.Is(err, ErrHandshakeFailure) {
				t.Errorf("error %v does not match ErrHandshakeFailure", err)
			}
			if !strings.Contains(err.Error(), tc.errMsg) {
				t.Errorf("error %q does not mention %q", err, tc.errMsg)
			}
		})
	}
}

func TestNewHandshakeRequest(t *testing.T) {
	u, _ := url.Parse("http://example.com:9001/chat?room=1")
	header := http.Header{"Host": {"proxy.example.com"}, "Origin": {"http://example.com"}}

	req := newHandshakeRequest(u, "dGhlIHNhbXBsZSBub25jZQ==", header, []string{"chat", "superchat"})

	var b bytes.Buffer
	if err := req.Write(&b); err != nil {
		t.Fatalf("request can not be written: %v", err)
	}

	parsed, err := http.ReadRequest(bufio.NewReader(&b))
	if err != nil {
		t.Fatalf("request can not be parsed: %v", err)
	}
	if err := validateRequest(parsed); err != nil {
		t.Errorf("validateRequest returned %v", err)
	}
	if parsed.Host != "proxy.example.com" {
		t.Errorf("host = %q, expected %q", parsed.Host, "proxy.example.com")
	}
	if parsed.URL.RequestURI() != "/chat?room=1" {
		t.Errorf("request uri = %q", parsed.URL.RequestURI())
	}
	if v := parsed.Header.Get(headerSecWsProto); v != "chat, superchat" {
		t.Errorf("%s = %q", headerSecWsProto, v)
	}
	if v := parsed.Header.Get("Origin"); v != "http://example.com" {
		t.Errorf("origin = %q", v)
	}
}
