package proxyd

import "testing"

func TestBackendLimitersReturnsSameLimiterPerServer(t *testing.T) {
	b := newBackendLimiters()
	a := b.forServer("gns3-1")
	c := b.forServer("gns3-1")
	if a != c {
		t.Error("expected the same limiter instance for repeated lookups of the same server")
	}
	d := b.forServer("gns3-2")
	if a == d {
		t.Error("expected distinct limiters for distinct servers")
	}
}
