// Package proxyerr defines the sentinel errors that the proxy's components
// use to signal well-known failure modes up to the connection worker, which
// translates them into an HTTP response and an access-log disposition tag.
// Keep these in sync with the disposition tags in internal/accesslog.
package proxyerr

import "errors"

var (
	// Config and startup errors.
	ErrBindFailed = errors.New("BIND_FAILED")

	// HTTP parser errors.
	ErrMalformedStartLine = errors.New("MALFORMED_START_LINE")
	ErrHeaderTooLarge     = errors.New("HEADER_TOO_LARGE")
	ErrBadChunk           = errors.New("BAD_CHUNK")

	// Authentication/authorization errors.
	ErrAuthMissing        = errors.New("AUTH_MISSING")
	ErrAuthBadFormat      = errors.New("AUTH_BAD_FORMAT")
	ErrAuthBadCredentials = errors.New("AUTH_BAD_CREDENTIALS")
	ErrNoBackend          = errors.New("NO_BACKEND")
	ErrDenied             = errors.New("DENY")

	// Transport errors.
	ErrBackendUnreachable = errors.New("BACKEND_UNREACHABLE")
	ErrClientAbort        = errors.New("CLIENT_ABORT")
	ErrIdleTimeout        = errors.New("IDLE_TIMEOUT")
)

// DenyError carries the id of the deny rule that fired so callers can tag
// the access-log line with it (e.g. "DENY r1").
type DenyError struct {
	RuleID string
}

func (e *DenyError) Error() string { return "DENY " + e.RuleID }

func (e *DenyError) Unwrap() error { return ErrDenied }
