package proxyd

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/srieger1/gns3-proxy/internal/netw"
)

// dialTimeout bounds how long the worker waits for a backend TCP handshake
// before giving up and replying 502 to the client.
const dialTimeout = 10 * time.Second

// backendLimiters hands out one token-bucket rate limiter per backend
// server, so a single misbehaving backend mapping can't open unbounded
// concurrent dial attempts and starve dials to every other backend.
type backendLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newBackendLimiters() *backendLimiters {
	return &backendLimiters{limiters: make(map[string]*rate.Limiter)}
}

func (b *backendLimiters) forServer(name string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.limiters[name]
	if !ok {
		// 50 dials/sec steady-state with a burst of 20 comfortably covers a
		// lab's worth of reconnecting clients without masking a genuinely
		// overloaded backend behind infinite retries.
		l = rate.NewLimiter(rate.Limit(50), 20)
		b.limiters[name] = l
	}
	return l
}

// dialBackend opens a TCP connection to addr, honoring the per-server rate
// limiter and dialTimeout, and wraps the result in *netw.Conn so the
// tunneling leg gets the same byte accounting as the client leg.
func (s *Server) dialBackend(ctx context.Context, serverName, addr string) (*netw.Conn, error) {
	if err := s.dialLimiters.forServer(serverName).Wait(ctx); err != nil {
		return nil, fmt.Errorf("dial rate limit: %w", err)
	}
	dialer := &net.Dialer{Timeout: dialTimeout}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	c, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return netw.WrapClient(c), nil
}
