package resolve

import (
	"context"
	"net"
	"testing"
)

func TestResolveLiteralIPSkipsLookup(t *testing.T) {
	r, err := New(8)
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	r.lookup = func(ctx context.Context, host string) ([]net.IP, error) {
		calls++
		return nil, nil
	}
	ip, err := r.Resolve(context.Background(), "gns3-1", "10.0.0.1")
	if err != nil || ip.String() != "10.0.0.1" {
		t.Fatalf("ip=%v err=%v", ip, err)
	}
	if calls != 0 {
		t.Errorf("literal IP should not invoke lookup, got %d calls", calls)
	}
}

func TestResolveHostnameCaches(t *testing.T) {
	r, err := New(8)
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	want := net.ParseIP("192.0.2.5")
	r.lookup = func(ctx context.Context, host string) ([]net.IP, error) {
		calls++
		return []net.IP{want}, nil
	}
	for i := 0; i < 3; i++ {
		ip, err := r.Resolve(context.Background(), "gns3-1", "gns3-1.lab.example")
		if err != nil || !ip.Equal(want) {
			t.Fatalf("ip=%v err=%v", ip, err)
		}
	}
	if calls != 1 {
		t.Errorf("expected exactly one lookup, got %d", calls)
	}
}

func TestResolveAll(t *testing.T) {
	r, err := New(8)
	if err != nil {
		t.Fatal(err)
	}
	r.lookup = func(ctx context.Context, host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("192.0.2.9")}, nil
	}
	out, err := r.ResolveAll(context.Background(), map[string]string{
		"gns3-1": "10.0.0.1",
		"gns3-2": "gns3-2.lab.example",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d entries, want 2", len(out))
	}
}
