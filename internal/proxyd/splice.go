package proxyd

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/srieger1/gns3-proxy/internal/netw"
	"github.com/srieger1/gns3-proxy/internal/proxyerr"
)

// halfClosedTimeout bounds how long forward keeps a half-closed leg open
// waiting for the peer to finish sending, when it is asked to half-close
// (closeWhenDone false). spliceTunnel always passes closeWhenDone true, so
// its tunnels close both legs as soon as either direction ends.
const halfClosedTimeout = time.Minute

// spliceTunnel copies bytes in both directions between client and backend
// with no parsing, until either side closes or goes idle for longer than
// idleTimeout with zero bytes flowing. It is used only once a backend has
// answered 101 Switching Protocols; plain request/response bodies are
// copied by httpwire.CopyBody instead.
func spliceTunnel(client, backend *netw.Conn, idleTimeout time.Duration) error {
	stop := make(chan struct{})
	idleHit := make(chan struct{}, 1)
	go watchIdle(client, backend, idleTimeout, stop, idleHit)
	defer close(stop)

	ch := make(chan error, 1)
	go func() { ch <- forward(backend, client, true, halfClosedTimeout) }()
	var retErr error
	if err := forward(client, backend, true, halfClosedTimeout); err != nil && !errors.Is(err, net.ErrClosed) {
		retErr = fmt.Errorf("client->backend: %w", err)
	}
	if err := <-ch; err != nil && !errors.Is(err, net.ErrClosed) {
		retErr = fmt.Errorf("backend->client: %w", err)
	}
	select {
	case <-idleHit:
		return proxyerr.ErrIdleTimeout
	default:
		return retErr
	}
}

// watchIdle closes both legs of the tunnel once idleTimeout elapses with no
// byte-count movement in either direction, since a plain io.Copy has no
// notion of "no traffic" -- only "no traffic since last read returned".
func watchIdle(client, backend *netw.Conn, idleTimeout time.Duration, stop <-chan struct{}, idleHit chan<- struct{}) {
	interval := idleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastTotal := client.BytesSent() + client.BytesReceived() + backend.BytesSent() + backend.BytesReceived()
	lastChange := time.Now()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			total := client.BytesSent() + client.BytesReceived() + backend.BytesSent() + backend.BytesReceived()
			if total != lastTotal {
				lastTotal = total
				lastChange = now
				continue
			}
			if now.Sub(lastChange) >= idleTimeout {
				idleHit <- struct{}{}
				client.Close()
				backend.Close()
				return
			}
		}
	}
}

// forward copies from in to out until in is exhausted or errors, then
// closes or half-closes out depending on closeWhenDone.
func forward(out, in net.Conn, closeWhenDone bool, halfCloseTimeout time.Duration) error {
	if _, err := io.Copy(out, in); err != nil || closeWhenDone {
		out.Close()
		in.Close()
		return err
	}
	if err := closeWrite(out); err != nil {
		out.Close()
		in.Close()
		return nil
	}
	if err := closeRead(in); err != nil {
		out.Close()
		in.Close()
		return nil
	}
	out.SetReadDeadline(time.Now().Add(halfCloseTimeout))
	return nil
}

func closeWrite(c net.Conn) error {
	type closeWriter interface{ CloseWrite() error }
	if cc, ok := c.(closeWriter); ok {
		return cc.CloseWrite()
	}
	if cc, ok := c.(*netw.Conn); ok {
		return closeWrite(cc.Conn)
	}
	return fmt.Errorf("proxyd: %T has no CloseWrite", c)
}

func closeRead(c net.Conn) error {
	type closeReader interface{ CloseRead() error }
	if cc, ok := c.(closeReader); ok {
		return cc.CloseRead()
	}
	if cc, ok := c.(*netw.Conn); ok {
		return closeRead(cc.Conn)
	}
	return nil
}
