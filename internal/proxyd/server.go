// Package proxyd implements the acceptor and per-connection worker: the
// pieces that turn an accepted TCP connection into an authenticated,
// policy-checked, tunneled or filtered exchange with a backend.
package proxyd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pires/go-proxyproto"

	"github.com/srieger1/gns3-proxy/internal/accesslog"
	"github.com/srieger1/gns3-proxy/internal/config"
	"github.com/srieger1/gns3-proxy/internal/healthcheck"
	"github.com/srieger1/gns3-proxy/internal/levellog"
	"github.com/srieger1/gns3-proxy/internal/policy"
	"github.com/srieger1/gns3-proxy/internal/proxyerr"
)

// emfileBackoff is how long the acceptor sleeps after hitting the
// process's file-descriptor limit, before retrying Accept.
const emfileBackoff = 50 * time.Millisecond

// Server is the connection acceptor: it owns the listening socket, spawns
// one worker per accepted connection, and coordinates graceful shutdown.
type Server struct {
	cfg      *config.Config
	policy   *policy.Engine
	backends map[string]string // server name -> resolved "ip:port"
	access   *accesslog.Logger
	prober   *healthcheck.Prober

	dialLimiters *backendLimiters

	mu       sync.Mutex
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	conns    map[net.Conn]struct{}
}

// New builds a Server. backends maps server name to its already-resolved
// "ip:port" dial address (see internal/resolve), so the data path never
// resolves DNS itself.
func New(cfg *config.Config, eng *policy.Engine, backends map[string]string, access *accesslog.Logger, prober *healthcheck.Prober) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:          cfg,
		policy:       eng,
		backends:     backends,
		access:       access,
		prober:       prober,
		dialLimiters: newBackendLimiters(),
		ctx:          ctx,
		cancel:       cancel,
		conns:        make(map[net.Conn]struct{}),
	}
}

// Listen binds the listening socket. If auth_whitelist is non-empty, the
// listener also accepts a leading PROXY protocol v1/v2 header from those
// peers, so the proxy can sit behind a trusted L4 load balancer without
// losing the client's real IP for auth_whitelist and access-log purposes.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.cfg.BindAddr, fmt.Sprintf("%d", s.cfg.BindPort))
	raw, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", proxyerr.ErrBindFailed, err)
	}
	if len(s.cfg.AuthWhitelist) == 0 {
		s.listener = raw
		return nil
	}
	s.listener = &proxyproto.Listener{
		Listener: raw,
		Policy: func(upstream net.Addr) (proxyproto.Policy, error) {
			host, _, err := net.SplitHostPort(upstream.String())
			if err != nil {
				return proxyproto.SKIP, nil
			}
			ip := net.ParseIP(host)
			if ip != nil && s.cfg.IsWhitelisted(ip) {
				return proxyproto.USE, nil
			}
			return proxyproto.SKIP, nil
		},
	}
	return nil
}

// Start begins accepting connections in the background.
func (s *Server) Start() {
	if s.prober != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.prober.Run(s.ctx, s.backends)
		}()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
}

func (s *Server) acceptLoop() {
	levellog.Infof("proxyd: accepting connections on %s", s.listener.Addr())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				levellog.Infof("proxyd: accept loop terminated")
				return
			}
			if isEMFILE(err) {
				levellog.Warningf("proxyd: accept: %v, backing off", err)
				time.Sleep(emfileBackoff)
				continue
			}
			levellog.Errorf("proxyd: accept: %v", err)
			continue
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) track(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func isEMFILE(err error) bool {
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return errors.Is(netErr.Err, errEMFILE) || errors.Is(err, errEMFILE)
	}
	return false
}

// Shutdown closes the listener, then waits up to the context's deadline
// for in-flight workers to finish. If ctx ends first, it force-closes every
// still-tracked client connection and returns ctx.Err().
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		conns := make([]net.Conn, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
		return ctx.Err()
	}
}
