// Package policy evaluates a loaded configuration against a request: who
// is making it, which backend should handle it, and whether it should be
// denied outright. It is compiled once from a *config.Config and is safe
// for concurrent use by every connection worker, since it never mutates
// the configuration it wraps.
package policy

import (
	"crypto/subtle"
	"net"
	"net/http"

	"github.com/srieger1/gns3-proxy/internal/config"
	"github.com/srieger1/gns3-proxy/internal/proxyerr"
)

// Engine wraps an immutable *config.Config with the evaluation logic the
// connection worker needs at each stage of a request.
type Engine struct {
	cfg *config.Config
}

// New builds an Engine over cfg. cfg is never mutated.
func New(cfg *config.Config) *Engine {
	return &Engine{cfg: cfg}
}

// Request is the minimal view of an incoming request the policy engine
// needs; it deliberately avoids depending on internal/httpwire so this
// package stays testable in isolation.
type Request struct {
	Method        string
	Target        string
	Header        http.Header // only used for credential/header extraction
	RawHeaderText string      // exact bytes of the header block, for deny-rule matching
	Body          []byte      // buffered prefix, up to config.DenyBodyCeiling
}

// AuthOutcome carries the result of Authenticate.
type AuthOutcome struct {
	Username string
	Err      error // one of proxyerr.ErrAuthMissing / ErrAuthBadFormat / ErrAuthBadCredentials, or nil
}

// Authenticate implements the trusted-header-then-Basic-auth decision tree
// from the authentication stage: a whitelisted peer's trusted header wins
// outright; otherwise Basic auth is required and checked against the
// configured user list, with allow_any_user as an escape hatch.
func (e *Engine) Authenticate(peer net.IP, hdr authHeaderSource) AuthOutcome {
	if peer != nil && e.cfg.IsWhitelisted(peer) {
		if v := hdr.Get(e.cfg.AuthHeaderName); v != "" {
			return AuthOutcome{Username: v}
		}
	}
	user, pass, ok := basicAuth(hdr.Get("Authorization"))
	if !ok {
		if hdr.Get("Authorization") == "" {
			return AuthOutcome{Err: proxyerr.ErrAuthMissing}
		}
		return AuthOutcome{Err: proxyerr.ErrAuthBadFormat}
	}
	stored, known := e.cfg.Users[user]
	if known {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(pass)) != 1 {
			return AuthOutcome{Err: proxyerr.ErrAuthBadCredentials}
		}
		return AuthOutcome{Username: user}
	}
	if e.cfg.AllowAnyUser {
		return AuthOutcome{Username: user}
	}
	return AuthOutcome{Err: proxyerr.ErrAuthBadCredentials}
}

// authHeaderSource is satisfied by both net/http.Header and
// internal/httpwire.Header; the policy engine doesn't care which.
type authHeaderSource interface {
	Get(name string) string
}

// ResolveBackend applies the ordered mapping table, falling back to
// default_server_name, and returns the chosen server's dial address.
func (e *Engine) ResolveBackend(username string) (serverName, addr string, err error) {
	for _, m := range e.cfg.Mappings {
		if m.UserRE.MatchString(username) {
			serverName = m.Server
			break
		}
	}
	if serverName == "" {
		serverName = e.cfg.DefaultServerName
	}
	if serverName == "" {
		return "", "", proxyerr.ErrNoBackend
	}
	addr, err = e.cfg.BackendAddr(serverName)
	if err != nil {
		return "", "", proxyerr.ErrNoBackend
	}
	return serverName, addr, nil
}

// DenyDecision reports whether a deny rule fired, and which one.
type DenyDecision struct {
	Denied bool
	RuleID string
}

// EvaluateDeny checks every deny rule in order; the first rule whose user
// pattern and four remaining fields all match wins. An empty
// method/url/header/body pattern matches any subject; the user pattern
// has no such wildcard and only matches a literally empty username.
func (e *Engine) EvaluateDeny(username string, r Request) DenyDecision {
	for _, d := range e.cfg.DenyRules {
		if d.UserRE.MatchString(username) &&
			d.MethodRE.MatchString(r.Method) &&
			d.URLRE.MatchString(r.Target) &&
			d.HeaderRE.MatchString(r.RawHeaderText) &&
			d.BodyRE.Match(r.Body) {
			return DenyDecision{Denied: true, RuleID: d.ID}
		}
	}
	return DenyDecision{}
}

// ProjectFilterFor returns the project-name regex that applies to
// username, if any, by the same first-match-wins ordering as mappings.
func (e *Engine) ProjectFilterFor(username string) (projectRE interface {
	MatchString(string) bool
}, ok bool) {
	for _, pf := range e.cfg.ProjectFilters {
		if pf.UserRE.MatchString(username) {
			return pf.ProjectRE, true
		}
	}
	return nil, false
}

// HasDenyRules reports whether any deny rule is configured, so callers can
// skip buffering a request body for matching when it would be pointless.
func (e *Engine) HasDenyRules() bool { return len(e.cfg.DenyRules) > 0 }

// DenyBodyCeiling returns the configured deny-rule body-match ceiling.
func (e *Engine) DenyBodyCeiling() int64 { return e.cfg.DenyBodyCeiling }

// ProjectFilterCeiling returns the configured project-list buffering ceiling.
func (e *Engine) ProjectFilterCeiling() int64 { return e.cfg.ProjectFilterCeiling }

// BackendCredentials returns the credentials every forwarded request's
// Authorization header is rewritten to carry.
func (e *Engine) BackendCredentials() (user, password string) {
	return e.cfg.BackendUser, e.cfg.BackendPassword
}
