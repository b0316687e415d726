// Package netw wraps net.Conn to add per-connection byte accounting, rate
// limiting, small annotations (so a connection worker can stash its
// resolved backend, authenticated user, etc. on the socket itself instead
// of threading them through every function call), and a deadline-aware
// Peek.
package netw

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/srieger1/gns3-proxy/internal/counter"
)

// Listen wraps net.Listen so every accepted connection comes back as a
// *Conn with accounting already attached.
func Listen(network, laddr string) (net.Listener, error) {
	l, err := net.Listen(network, laddr)
	if err != nil {
		return nil, err
	}
	return &listener{l}, nil
}

type listener struct {
	net.Listener
}

func (l *listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return newConn(c), nil
}

// WrapClient wraps an already-established connection the same way (the
// proxy uses it for both the accepted client and the dialed backend), so
// both legs of a tunnel share the same accounting and Peek semantics.
func WrapClient(c net.Conn) *Conn {
	return newConn(c)
}

func newConn(c net.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		Conn:          c,
		ctx:           ctx,
		cancel:        cancel,
		bytesSent:     counter.New(time.Minute, time.Second),
		bytesReceived: counter.New(time.Minute, time.Second),
	}
}

// Conn is a net.Conn that tracks bytes sent/received, supports optional
// ingress/egress rate limiting, carries arbitrary key/value annotations,
// and can peek at unread bytes without consuming them.
type Conn struct {
	net.Conn

	ctx    context.Context
	cancel func()

	ingressLimiter *rate.Limiter
	egressLimiter  *rate.Limiter
	bytesSent      *counter.Counter
	bytesReceived  *counter.Counter

	mu          sync.Mutex
	onClose     func()
	annotations map[string]any
	peeked      []byte
}

// SetAnnotation attaches an arbitrary value to the connection under key.
func (c *Conn) SetAnnotation(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.annotations == nil {
		c.annotations = make(map[string]any)
	}
	c.annotations[key] = value
}

// Annotation retrieves a value set with SetAnnotation, or defaultValue.
func (c *Conn) Annotation(key string, defaultValue any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.annotations[key]; ok {
		return v
	}
	return defaultValue
}

// SetLimiters installs optional ingress/egress rate limiters. Either may be
// nil. Must be called before the first Read/Write; Peek is fine before it.
func (c *Conn) SetLimiters(ingress, egress *rate.Limiter) {
	c.ingressLimiter = ingress
	c.egressLimiter = egress
}

// BytesSent returns the number of bytes written so far.
func (c *Conn) BytesSent() int64 { return c.bytesSent.Value() }

// BytesReceived returns the number of bytes read so far.
func (c *Conn) BytesReceived() int64 { return c.bytesReceived.Value() }

// OnClose registers a callback invoked exactly once when Close runs.
func (c *Conn) OnClose(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = f
}

// Peek returns the next len(b) bytes without consuming them from the
// stream a subsequent Read will see. It applies a 30s read deadline while
// filling the peek buffer and clears the read deadline afterwards, so a
// deadline the caller set before Peek is no longer in effect once it
// returns.
func (c *Conn) Peek(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	want := len(b)
	have := len(c.peeked)
	if want > have {
		c.Conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		more := make([]byte, want-have)
		n, _ := io.ReadFull(c.Conn, more)
		c.peeked = append(c.peeked, more[:n]...)
		c.Conn.SetReadDeadline(time.Time{})
	}
	n := copy(b, c.peeked)
	var err error
	if n < want {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func (c *Conn) Read(b []byte) (int, error) {
	if l := c.ingressLimiter; l != nil {
		if err := l.WaitN(c.ctx, len(b)); err != nil {
			return 0, err
		}
	}
	c.mu.Lock()
	if len(c.peeked) > 0 {
		n := copy(b, c.peeked)
		c.peeked = c.peeked[n:]
		c.mu.Unlock()
		c.bytesReceived.Incr(int64(n))
		return n, nil
	}
	c.mu.Unlock()
	n, err := c.Conn.Read(b)
	c.bytesReceived.Incr(int64(n))
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	if l := c.egressLimiter; l != nil {
		if err := l.WaitN(c.ctx, len(b)); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Write(b)
	c.bytesSent.Incr(int64(n))
	return n, err
}

func (c *Conn) Close() error {
	c.mu.Lock()
	f := c.onClose
	c.onClose = nil
	c.mu.Unlock()
	c.cancel()
	if f != nil {
		f()
	}
	return c.Conn.Close()
}
