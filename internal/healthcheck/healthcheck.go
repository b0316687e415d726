// Package healthcheck periodically probes each configured backend so the
// proxy can log a warning as soon as one becomes unreachable, instead of
// discovering it only when a client's dial fails.
package healthcheck

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/srieger1/gns3-proxy/internal/levellog"
)

// probePath is the lightest GNS3 controller endpoint that requires no
// authentication and returns quickly.
const probePath = "/v2/version"

// Prober tracks the last known reachability of every backend.
type Prober struct {
	client   *retryablehttp.Client
	interval time.Duration

	mu      sync.RWMutex
	healthy map[string]bool
}

// New builds a Prober that probes every interval; the name -> "host:port"
// backend set is handed to Run. Retries within a single probe are capped
// at two (three attempts in all) with a short backoff; a backend that is actually down should be discovered quickly,
// not masked by a long retry budget meant for transient single requests.
func New(interval time.Duration) *Prober {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 500 * time.Millisecond
	client.Logger = nil
	client.HTTPClient.Timeout = 3 * time.Second
	return &Prober{
		client:   client,
		interval: interval,
		healthy:  make(map[string]bool),
	}
}

// IsHealthy reports the last observed reachability of a backend. Backends
// never probed yet are assumed healthy, so a slow first probe never denies
// traffic that would otherwise succeed.
func (p *Prober) IsHealthy(serverName string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.healthy[serverName]
	return !ok || v
}

// Run probes every backend in servers (name -> "host:port") every interval
// until ctx is cancelled.
func (p *Prober) Run(ctx context.Context, servers map[string]string) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.probeAll(ctx, servers)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx, servers)
		}
	}
}

func (p *Prober) probeAll(ctx context.Context, servers map[string]string) {
	var wg sync.WaitGroup
	for name, addr := range servers {
		wg.Add(1)
		go func(name, addr string) {
			defer wg.Done()
			p.probeOne(ctx, name, addr)
		}(name, addr)
	}
	wg.Wait()
}

func (p *Prober) probeOne(ctx context.Context, name, addr string) {
	url := fmt.Sprintf("http://%s%s", addr, probePath)
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		levellog.Errorf("healthcheck: building request for %s: %v", name, err)
		return
	}
	resp, err := p.client.Do(req)
	healthy := err == nil
	if err != nil {
		levellog.Warningf("healthcheck: backend %s (%s) unreachable: %v", name, addr, err)
	} else {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		healthy = resp.StatusCode < 500
	}
	p.mu.Lock()
	prev, known := p.healthy[name]
	p.healthy[name] = healthy
	p.mu.Unlock()
	if known && prev != healthy {
		if healthy {
			levellog.Infof("healthcheck: backend %s (%s) recovered", name, addr)
		} else {
			levellog.Warningf("healthcheck: backend %s (%s) transitioned to unhealthy", name, addr)
		}
	}
}
