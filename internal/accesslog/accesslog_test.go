package accesslog

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLogFormatsDisposition(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Log(Entry{
		Time:        time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC),
		PeerAddr:    "203.0.113.4",
		Username:    "alice",
		Method:      "GET",
		Target:      "/v2/projects",
		Backend:     "gns3-1",
		Status:      200,
		Bytes:       1423,
		Duration:    12 * time.Millisecond,
		Disposition: OK,
	})
	line := buf.String()
	for _, want := range []string{"203.0.113.4", "alice", "GET", "/v2/projects", "gns3-1", "200", "1423B", "12ms", "OK"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestDenyDisposition(t *testing.T) {
	if got, want := string(Deny("r1")), "DENY r1"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLogUsesDashForEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Log(Entry{Status: 401, Disposition: AuthFail})
	if !strings.Contains(buf.String(), "- - - - -> -") {
		t.Errorf("expected dash placeholders, got %q", buf.String())
	}
}
