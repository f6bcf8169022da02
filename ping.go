package websocket

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"go.uber.org/zap"
)

const latencySamples = 5

// pingStats matches Pongs to the last Ping by a 2-byte nonce and keeps the
// most recent round trip times.
type pingStats struct {
	mu sync.Mutex

	nonce       uint16
	sentAt      time.Time
	outstanding bool

	samples [latencySamples]time.Duration
	n       int
	next    int
}

func (s *pingStats) start(now time.Time) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nonce++
	s.sentAt = now
	s.outstanding = true

	return binary.BigEndian.AppendUint16(nil, s.nonce)
}

func (s *pingStats) pong(payload []byte) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.outstanding || len(payload) != 2 || binary.BigEndian.Uint16(payload) != s.nonce {
		return 0, false
	}
	s.outstanding = false

	rtt := time.Since(s.sentAt)
	s.samples[s.next] = rtt
	s.next = (s.next + 1) % latencySamples
	s.n = min(s.n+1, latencySamples)

	return rtt, true
}

func (s *pingStats) average() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.n == 0 {
		return 0, false
	}

	var sum time.Duration
	for _, d := range s.samples[:s.n] {
		sum += d
	}

	return sum / time.Duration(s.n), true
}

// Ping sends a Ping carrying a fresh nonce. The matching Pong updates
// Latency.
func (c *Conn) Ping(ctx context.Context) error {
	return c.WriteControl(ctx, PingMessage, c.ping.start(time.Now()))
}

// Latency returns the average round trip time of the last answered Pings.
func (c *Conn) Latency() (time.Duration, bool) {
	return c.ping.average()
}

// keepalive pings an idle peer and closes the connection with 1008 when
// nothing arrives within PongTimeout of the Ping.
func (c *Conn) keepalive() {
	interval, timeout := c.cfg.PingInterval, c.cfg.PongTimeout

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-timer.C:
		}

		idle := time.Since(time.Unix(0, c.lastSeen.Load()))
		if idle < interval {
			timer.Reset(interval - idle)
			continue
		}

		sentAt := time.Now()
		if err := c.Ping(context.Background()); err != nil {
			c.l.Debug("keepalive ping failed", zap.Error(err))
			return
		}

		timer.Reset(timeout)
		select {
		case <-c.done:
			return
		case <-timer.C:
		}

		if c.lastSeen.Load() < sentAt.UnixNano() {
			c.l.Warn("no frame received after ping, closing connection", zap.Duration("timeout", timeout))
			_ = c.Close(ClosePolicyViolation, "ping timeout")
			return
		}

		timer.Reset(interval)
	}
}
