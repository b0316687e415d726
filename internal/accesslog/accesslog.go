// Package accesslog writes the one-line-per-request access log, kept
// deliberately independent of the debug-level logging in
// internal/levellog: operators who turn off DEBUG/INFO noise still get a
// complete request record.
package accesslog

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// Disposition tags the outcome of a completed request.
type Disposition string

const (
	OK                  Disposition = "OK"
	AuthFail            Disposition = "AUTH-FAIL"
	NoBackend           Disposition = "NO-BACKEND"
	BackendUnreachable  Disposition = "BACKEND-UNREACHABLE"
	ClientAbort         Disposition = "CLIENT-ABORT"
	IdleTimeout         Disposition = "IDLE-TIMEOUT"
)

// Deny builds the "DENY rule-N" tag for a specific rule id.
func Deny(ruleID string) Disposition {
	return Disposition("DENY " + ruleID)
}

// Entry is one completed request, ready to be rendered as a log line.
type Entry struct {
	Time        time.Time
	PeerAddr    string
	Username    string
	Method      string
	Target      string
	Backend     string
	Status      int
	Bytes       int64
	Duration    time.Duration
	Disposition Disposition
}

// Logger serializes access-log writes to a single sink. The underlying
// sink (a file, stdout, a syslog writer) is whatever io.Writer the caller
// hands it; Logger only owns the serialization and formatting.
type Logger struct {
	mu  sync.Mutex
	out *log.Logger
}

// New wraps w with the fixed access-log line format. Unlike the
// debug-level logger, it never adds its own timestamp prefix -- Entry.Time
// carries it -- so log rotation tools see one consistent field order.
func New(w io.Writer) *Logger {
	return &Logger{out: log.New(w, "", 0)}
}

// Log renders and writes one Entry. Safe for concurrent use by every
// connection worker.
func (l *Logger) Log(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Print(format(e))
}

func format(e Entry) string {
	return fmt.Sprintf("%s %s %s %s %s -> %s %d %dB %dms %s",
		e.Time.Format(time.RFC3339),
		orDash(e.PeerAddr),
		orDash(e.Username),
		orDash(e.Method),
		orDash(e.Target),
		orDash(e.Backend),
		e.Status,
		e.Bytes,
		e.Duration.Milliseconds(),
		e.Disposition,
	)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
