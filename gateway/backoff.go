package gateway

import (
	"context"
	"math"
	"net"
	"net/http"
	"time"
)

// Backoff computes exponentially increasing retry delays.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// DefaultBackoff is 500ms doubling up to 8s.
var DefaultBackoff = Backoff{Base: 500 * time.Millisecond, Multiplier: 2, Max: 8 * time.Second}

// Delay returns Base × Multiplier^attempt capped at Max. attempt is zero based.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Base) * math.Pow(mult, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewHTTPClient returns a client whose connect (dial + TLS handshake) timeout
// is independent of the overall per-request timeout.
func NewHTTPClient(connectTimeout, callTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	return &http.Client{Transport: transport, Timeout: callTimeout}
}
