// Package resolve performs one-time DNS resolution of backend server
// addresses at startup and caches the result, so the data path never pays
// for a synchronous lookup while a client is waiting on a response.
package resolve

import (
	"context"
	"fmt"
	"net"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Resolver caches resolved backend addresses by server name. It is safe
// for concurrent use; golang-lru's Cache already serializes access.
type Resolver struct {
	cache  *lru.Cache[string, net.IP]
	lookup func(ctx context.Context, host string) ([]net.IP, error)
}

// New creates a Resolver that can hold up to size entries, which is
// comfortably larger than any realistic [servers] section.
func New(size int) (*Resolver, error) {
	cache, err := lru.New[string, net.IP](size)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		cache: cache,
		lookup: func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		},
	}, nil
}

// Resolve returns the cached IP for serverName, resolving host on first
// use. A literal IP address resolves to itself without a cache entry
// lookup cost beyond the parse.
func (r *Resolver) Resolve(ctx context.Context, serverName, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	if ip, ok := r.cache.Get(serverName); ok {
		return ip, nil
	}
	ips, err := r.lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve: %s (%s): %w", serverName, host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve: %s (%s): no addresses returned", serverName, host)
	}
	r.cache.Add(serverName, ips[0])
	return ips[0], nil
}

// ResolveAll eagerly resolves every server in servers (name -> host), so a
// DNS outage is discovered at startup rather than on a client's first
// request. It returns the fully populated name -> IP map.
func (r *Resolver) ResolveAll(ctx context.Context, servers map[string]string) (map[string]net.IP, error) {
	out := make(map[string]net.IP, len(servers))
	for name, host := range servers {
		ip, err := r.Resolve(ctx, name, host)
		if err != nil {
			return nil, err
		}
		out[name] = ip
	}
	return out, nil
}
