package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/wmdanor/wsengine/frame"
)

func TestPingStats(t *testing.T) {
	var s pingStats

	if _, ok := s.average(); ok {
		t.Errorf("average() reported a value before any pong")
	}
	if _, ok := s.pong([]byte{0, 1}); ok {
		t.Errorf("pong matched without an outstanding ping")
	}

	now := time.Now()
	payload := s.start(now.Add(-10 * time.Millisecond))
	if len(payload) != 2 {
		t.Fatalf("ping payload %v, expected 2 bytes", payload)
	}

	if _, ok := s.pong([]byte{payload[0], payload[1] + 1}); ok {
		t.Errorf("pong with a different nonce matched")
	}
	rtt, ok := s.pong(payload)
	if !ok || rtt < 10*time.Millisecond {
		t.Errorf("pong(%v) = %v, %v", payload, rtt, ok)
	}
	if _, ok := s.pong(payload); ok {
		t.Errorf("the same pong matched twice")
	}
}

func TestPingStatsAverage(t *testing.T) {
	var s pingStats

	// only the last five samples count
	for _, d := range []time.Duration{time.Hour, 10, 20, 30, 40, 50} {
		payload := s.start(time.Now())
		if _, ok := s.pong(payload); !ok {
			t.Fatalf("pong did not match")
		}
		s.mu.Lock()
		s.samples[(s.next+latencySamples-1)%latencySamples] = d
		s.mu.Unlock()
	}

	avg, ok := s.average()
	if !ok || avg != 30 {
		t.Errorf("average() = %v, %v, expected 30ns", avg, ok)
	}
}

func TestPingMeasuresLatency(t *testing.T) {
	c, p := newPipe(t, frame.RoleClient)

	latencies := make(chan time.Duration, 1)
	c.SetPongHandler(func(_ []byte, latency time.Duration) { latencies <- latency })

	go func() { _ = c.Ping(context.Background()) }()

	ping := p.expectFrame(frame.OpcodePing)
	time.Sleep(5 * time.Millisecond)
	p.writeFrame(frame.Frame{Fin: true, Opcode: frame.OpcodePong, Payload: ping.Payload})

	select {
	case latency := <-latencies:
		if latency < 5*time.Millisecond {
			t.Errorf("latency %v, expected at least 5ms", latency)
		}
	case <-time.After(testTimeout):
		t.Fatalf("pong handler was not called")
	}

	if avg, ok := c.Latency(); !ok || avg < 5*time.Millisecond {
		t.Errorf("Latency() = %v, %v", avg, ok)
	}
}

func TestKeepaliveClosesSilentPeer(t *testing.T) {
	c, p := newPipe(t, frame.RoleServer,
		WithPingInterval(20*time.Millisecond),
		WithPongTimeout(50*time.Millisecond),
		WithCloseGracePeriod(100*time.Millisecond),
	)

	p.expectFrame(frame.OpcodePing)
	if reason := p.expectClose(ClosePolicyViolation); reason != "ping timeout" {
		t.Errorf("close reason %q, expected %q", reason, "ping timeout")
	}
	waitDone(t, c)

	if info, _ := c.CloseReason(); info.Code != ClosePolicyViolation || info.Remote {
		t.Errorf("CloseReason() = %+v", info)
	}
}

func TestKeepaliveSparesResponsivePeer(t *testing.T) {
	c, p := newPipe(t, frame.RoleServer,
		WithPingInterval(20*time.Millisecond),
		WithPongTimeout(50*time.Millisecond),
	)

	for range 3 {
		ping := p.expectFrame(frame.OpcodePing)
		p.writeFrame(frame.Frame{Fin: true, Opcode: frame.OpcodePong, Payload: ping.Payload})
	}

	if c.State() != StateOpen {
		t.Errorf("state = %s, expected %s", c.State(), StateOpen)
	}
}
