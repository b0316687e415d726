package proxyd

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"
	"time"

	"github.com/srieger1/gns3-proxy/internal/accesslog"
	"github.com/srieger1/gns3-proxy/internal/httpwire"
	"github.com/srieger1/gns3-proxy/internal/levellog"
	"github.com/srieger1/gns3-proxy/internal/netw"
	"github.com/srieger1/gns3-proxy/internal/policy"
	"github.com/srieger1/gns3-proxy/internal/projectfilter"
	"github.com/srieger1/gns3-proxy/internal/proxyerr"
)

// headTimeout bounds how long a worker waits for a client to finish
// sending a request line and headers before giving up on the connection.
const headTimeout = 30 * time.Second

// connection is one client's worker: it owns the client socket and the
// backend socket, which is kept across keep-alive requests for as long as
// they go to the same backend. It is not shared across goroutines.
type connection struct {
	server *Server
	client *netw.Conn
	reader *bufio.Reader
	peer   net.IP

	backend       *netw.Conn
	backendReader *bufio.Reader
	backendName   string
}

func (s *Server) handleConnection(raw net.Conn) {
	c := &connection{
		server: s,
		client: netw.WrapClient(raw),
		peer:   peerIP(raw),
	}
	c.reader = bufio.NewReaderSize(c.client, 8<<10)
	defer c.closeAll()

	for {
		if !c.serveOneRequest() {
			return
		}
	}
}

func (c *connection) closeAll() {
	c.client.Close()
	if c.backend != nil {
		c.backend.Close()
	}
}

func peerIP(c net.Conn) net.IP {
	host, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// serveOneRequest handles exactly one request/response exchange. It
// returns true if the connection should loop back for another request
// (keep-alive), false if the connection is done and should be closed.
func (c *connection) serveOneRequest() bool {
	start := time.Now()
	entry := accesslog.Entry{Time: start, PeerAddr: c.client.RemoteAddr().String()}
	defer func() {
		entry.Duration = time.Since(start)
		c.server.access.Log(entry)
	}()

	c.client.SetReadDeadline(time.Now().Add(headTimeout))
	head, err := httpwire.ReadRequestHead(c.reader)
	if err != nil {
		return c.failBeforeAuth(&entry, err)
	}
	c.client.SetReadDeadline(time.Time{})

	target := head.Target
	if target == "" {
		target = "/"
	}
	entry.Method, entry.Target = head.Method, target

	var headerBlock strings.Builder
	head.Header.WriteTo(&headerBlock)

	auth := c.server.policy.Authenticate(c.peer, &head.Header)
	if auth.Err != nil {
		entry.Disposition = accesslog.AuthFail
		extra := map[string]string{}
		if errors.Is(auth.Err, proxyerr.ErrAuthMissing) || errors.Is(auth.Err, proxyerr.ErrAuthBadCredentials) {
			extra["WWW-Authenticate"] = `Basic realm="GNS3"`
		}
		writeErrorResponse(c.client, http.StatusUnauthorized, "", extra)
		entry.Status = http.StatusUnauthorized
		c.drainAndDiscard(head)
		return false
	}
	entry.Username = auth.Username

	framing, err := httpwire.DetermineFraming(&head.Header, false, 0)
	if err != nil {
		writeErrorResponse(c.client, http.StatusBadRequest, "", nil)
		entry.Status = http.StatusBadRequest
		entry.Disposition = accesslog.Disposition(fmt.Sprintf("BAD-REQUEST %v", err))
		return false
	}

	bodyPrefix, bodyPrefixTruncated := c.bufferDenyPrefix(framing)

	deny := c.server.policy.EvaluateDeny(auth.Username, policy.Request{
		Method:        head.Method,
		Target:        target,
		RawHeaderText: headerBlock.String(),
		Body:          bodyPrefix,
	})
	if deny.Denied {
		entry.Disposition = accesslog.Deny(deny.RuleID)
		writeErrorResponse(c.client, http.StatusForbidden, "", nil)
		entry.Status = http.StatusForbidden
		c.discardRemainingBody(framing, len(bodyPrefix), bodyPrefixTruncated)
		return false
	}

	serverName, addr, err := c.server.policy.ResolveBackend(auth.Username)
	if err != nil {
		entry.Disposition = accesslog.NoBackend
		writeErrorResponse(c.client, http.StatusBadGateway, "", nil)
		entry.Status = http.StatusBadGateway
		return false
	}
	entry.Backend = serverName

	backendAddr := addr
	if resolved, ok := c.server.backends[serverName]; ok {
		backendAddr = resolved
	}
	if c.backend == nil || c.backendName != serverName {
		if c.backend != nil {
			c.backend.Close()
		}
		if c.server.prober != nil && !c.server.prober.IsHealthy(serverName) {
			entry.Disposition = accesslog.BackendUnreachable
			writeErrorResponse(c.client, http.StatusBadGateway, "", nil)
			entry.Status = http.StatusBadGateway
			return false
		}
		bconn, err := c.server.dialBackend(c.server.ctx, serverName, backendAddr)
		if err != nil {
			entry.Disposition = accesslog.BackendUnreachable
			writeErrorResponse(c.client, http.StatusBadGateway, "", nil)
			entry.Status = http.StatusBadGateway
			return false
		}
		c.backend = bconn
		c.backendReader = bufio.NewReaderSize(bconn, 8<<10)
		c.backendName = serverName
	}

	rewriteRequestHead(head, c.server.policy, backendAddr)

	if err := c.forwardRequest(head, framing, bodyPrefix); err != nil {
		entry.Disposition = accesslog.BackendUnreachable
		entry.Status = http.StatusBadGateway
		c.backend.Close()
		c.backend = nil
		return false
	}

	keepAlive, err := c.relayResponse(head, &entry)
	if err != nil {
		if entry.Status == 0 {
			entry.Status = http.StatusBadGateway
		}
		if entry.Disposition == "" {
			entry.Disposition = accesslog.BackendUnreachable
		}
		return false
	}
	if entry.Disposition == "" {
		entry.Disposition = accesslog.OK
	}
	return keepAlive && clientWantsKeepAlive(head)
}

// failBeforeAuth handles a request-head parse failure: a client that just
// disconnected gets no response (there is no peer left to write to) and a
// CLIENT-ABORT log line with the peer address left empty; a head that
// timed out gets 504; a genuinely malformed request gets 400.
func (c *connection) failBeforeAuth(entry *accesslog.Entry, err error) bool {
	if isTimeout(err) {
		entry.Disposition = accesslog.IdleTimeout
		entry.Status = http.StatusGatewayTimeout
		writeErrorResponse(c.client, http.StatusGatewayTimeout, "", nil)
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		entry.Disposition = accesslog.ClientAbort
		entry.PeerAddr = "" // nothing useful to log for a bare disconnect
		return false
	}
	writeErrorResponse(c.client, http.StatusBadRequest, "", nil)
	entry.Status = http.StatusBadRequest
	entry.Disposition = accesslog.Disposition(fmt.Sprintf("BAD-REQUEST %v", err))
	return false
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// bufferDenyPrefix reads up to the deny body-match ceiling of a
// Content-Length-framed body into memory, so EvaluateDeny can match
// against it; per the documented best-effort semantics, a chunked body is
// not buffered for this purpose and matches only an empty body.
func (c *connection) bufferDenyPrefix(f httpwire.Framing) ([]byte, bool) {
	if f.Kind != httpwire.FramingContentLength || f.Length == 0 || !c.server.policy.HasDenyRules() {
		return nil, false
	}
	ceiling := c.server.policy.DenyBodyCeiling()
	n := f.Length
	truncated := false
	if n > ceiling {
		n = ceiling
		truncated = true
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return nil, false
	}
	return buf, truncated
}

// discardRemainingBody drains whatever of the request body a denied
// request hasn't had read yet, so the next request line on a kept-alive
// client socket doesn't start mid-body. prefixLen/truncated describe what
// bufferDenyPrefix already consumed.
func (c *connection) discardRemainingBody(f httpwire.Framing, prefixLen int, truncated bool) {
	if f.Kind == httpwire.FramingContentLength {
		if truncated {
			io.CopyN(io.Discard, c.reader, f.Length-int64(prefixLen))
		}
		return // untruncated prefix already consumed the whole body
	}
	httpwire.CopyBody(io.Discard, c.reader, f)
}

func (c *connection) drainAndDiscard(head *httpwire.RequestHead) {
	f, err := httpwire.DetermineFraming(&head.Header, false, 0)
	if err != nil {
		return
	}
	httpwire.CopyBody(io.Discard, c.reader, f)
}

// rewriteRequestHead applies the fixed rewrite rules: Authorization
// becomes the backend's shared credential, Host becomes the resolved
// backend address, Expect is stripped, and a chunked Transfer-Encoding
// wins over any co-present Content-Length.
func rewriteRequestHead(head *httpwire.RequestHead, eng *policy.Engine, backendAddr string) {
	user, pass := eng.BackendCredentials()
	cred := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	head.Header.Set("Authorization", "Basic "+cred)
	head.Header.Set("Host", backendAddr)
	head.Header.Del("Expect")
	if head.Header.Has("Transfer-Encoding") {
		head.Header.Del("Content-Length")
	}
}

func (c *connection) forwardRequest(head *httpwire.RequestHead, framing httpwire.Framing, bodyPrefix []byte) error {
	var sb strings.Builder
	sb.WriteString(head.Method)
	sb.WriteByte(' ')
	sb.WriteString(head.Target)
	sb.WriteByte(' ')
	sb.WriteString(head.Version)
	sb.WriteString("\r\n")
	head.Header.WriteTo(&sb)
	if _, err := c.backend.Write([]byte(sb.String())); err != nil {
		return err
	}
	if len(bodyPrefix) > 0 {
		if _, err := c.backend.Write(bodyPrefix); err != nil {
			return err
		}
		remaining := framing
		if framing.Kind == httpwire.FramingContentLength {
			remaining.Length -= int64(len(bodyPrefix))
		}
		_, err := httpwire.CopyBody(c.backend, c.reader, remaining)
		return err
	}
	_, err := httpwire.CopyBody(c.backend, c.reader, framing)
	return err
}

// relayResponse reads the backend's response head and either switches to
// opaque tunneling (101 handshake), applies the project-list filter, or
// streams the body straight through. It returns whether the exchange as a
// whole is eligible for keep-alive reuse on the client socket.
func (c *connection) relayResponse(reqHead *httpwire.RequestHead, entry *accesslog.Entry) (bool, error) {
	c.backend.SetReadDeadline(time.Now().Add(dialTimeout))
	respHead, err := httpwire.ReadResponseHead(c.backendReader)
	c.backend.SetReadDeadline(time.Time{})
	if err != nil {
		return false, err
	}
	entry.Status = respHead.StatusCode

	if respHead.StatusCode == http.StatusSwitchingProtocols {
		if err := writeResponseHead(c.client, respHead); err != nil {
			return false, err
		}
		if err := drainBuffered(c.backendReader, c.client); err != nil {
			return false, err
		}
		if err := drainBuffered(c.reader, c.backend); err != nil {
			return false, err
		}
		idle := c.server.cfg.InactivityTimeout
		err := spliceTunnel(c.client, c.backend, idle)
		c.backend = nil
		if errors.Is(err, proxyerr.ErrIdleTimeout) {
			entry.Disposition = accesslog.IdleTimeout
		}
		return false, err
	}

	respFraming, err := httpwire.DetermineFraming(&respHead.Header, true, respHead.StatusCode)
	if err != nil {
		return false, err
	}

	if c.shouldFilterProjects(reqHead, respHead, entry.Username) {
		return c.relayFilteredProjectList(reqHead, respHead, respFraming, entry)
	}

	if err := writeResponseHead(c.client, respHead); err != nil {
		return false, err
	}
	n, err := httpwire.CopyBody(c.client, c.backendReader, respFraming)
	entry.Bytes = n
	if err != nil {
		return false, err
	}
	return respFraming.Kind != httpwire.FramingCloseDelimited, nil
}

// drainBuffered flushes any bytes already sitting in r's internal buffer
// to w. It must run before switching a connection leg over to opaque
// splicing, since the splice loop reads straight from the socket and
// would otherwise skip whatever the bufio.Reader had already read ahead.
func drainBuffered(r *bufio.Reader, w io.Writer) error {
	n := r.Buffered()
	if n == 0 {
		return nil
	}
	buf, _ := r.Peek(n)
	_, err := w.Write(buf)
	r.Discard(n)
	return err
}

// shouldFilterProjects reports whether the response to req must be buffered
// and passed through internal/projectfilter. This only applies when the
// authenticated user actually has a matching project-filter rule -- a user
// with no such rule gets an unbuffered, byte-for-byte passthrough instead,
// per the no-matching-filter case in internal/policy.
func (c *connection) shouldFilterProjects(req *httpwire.RequestHead, resp *httpwire.ResponseHead, username string) bool {
	if req.Method != http.MethodGet || resp.StatusCode != http.StatusOK {
		return false
	}
	if !strings.HasSuffix(stripQuery(req.Target), "/projects") {
		return false
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "json") {
		return false
	}
	_, ok := c.server.policy.ProjectFilterFor(username)
	return ok
}

func stripQuery(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}
	return target
}

// relayFilteredProjectList is only called once shouldFilterProjects has
// confirmed entry.Username has a matching project-filter rule.
func (c *connection) relayFilteredProjectList(req *httpwire.RequestHead, resp *httpwire.ResponseHead, framing httpwire.Framing, entry *accesslog.Entry) (bool, error) {
	ceiling := c.server.policy.ProjectFilterCeiling()
	body, truncated, err := readBodyUpTo(c.backendReader, framing, ceiling)
	if err != nil {
		return false, err
	}
	if truncated {
		levellog.Warningf("proxyd: project-list response exceeded filter ceiling, passing through unfiltered")
		resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
		if err := writeResponseHead(c.client, resp); err != nil {
			return false, err
		}
		_, err := c.client.Write(body)
		entry.Bytes = int64(len(body))
		return framing.Kind != httpwire.FramingCloseDelimited, err
	}

	re, _ := c.server.policy.ProjectFilterFor(entry.Username)
	filtered, err := projectfilter.Apply(body, re)
	if err != nil {
		levellog.Warningf("proxyd: project-list filter: %v, passing through unfiltered", err)
		filtered = body
	}
	resp.Header.Del("Transfer-Encoding")
	resp.Header.Set("Content-Length", strconv.Itoa(len(filtered)))
	if err := writeResponseHead(c.client, resp); err != nil {
		return false, err
	}
	_, err = c.client.Write(filtered)
	entry.Bytes = int64(len(filtered))
	return true, err
}

// readBodyUpTo reads a framed body's payload into memory (a chunked body is
// decoded), keeping at most ceiling bytes and reporting truncated=true if
// the payload was longer.
func readBodyUpTo(r *bufio.Reader, f httpwire.Framing, ceiling int64) ([]byte, bool, error) {
	if f.Kind == httpwire.FramingContentLength && f.Length > ceiling {
		buf := make([]byte, ceiling)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, false, err
		}
		io.CopyN(io.Discard, r, f.Length-ceiling)
		return buf, true, nil
	}
	limited := &limitedWriter{limit: ceiling}
	if f.Kind == httpwire.FramingChunked {
		if _, err := io.Copy(limited, httputil.NewChunkedReader(r)); err != nil {
			return nil, false, err
		}
		for { // trailer section, up to and including the final blank line
			line, err := r.ReadString('\n')
			if err != nil {
				return nil, false, err
			}
			if strings.TrimRight(line, "\r\n") == "" {
				break
			}
		}
		return limited.buf, limited.exceeded, nil
	}
	if _, err := httpwire.CopyBody(limited, r, f); err != nil {
		return nil, false, err
	}
	return limited.buf, limited.exceeded, nil
}

type limitedWriter struct {
	buf      []byte
	limit    int64
	exceeded bool
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if int64(len(w.buf))+int64(len(p)) > w.limit {
		w.exceeded = true
		room := w.limit - int64(len(w.buf))
		if room > 0 {
			w.buf = append(w.buf, p[:room]...)
		}
		return len(p), nil
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func writeResponseHead(w io.Writer, resp *httpwire.ResponseHead) error {
	var sb strings.Builder
	sb.WriteString(resp.Version)
	sb.WriteByte(' ')
	sb.WriteString(strconv.Itoa(resp.StatusCode))
	sb.WriteByte(' ')
	sb.WriteString(resp.Reason)
	sb.WriteString("\r\n")
	resp.Header.WriteTo(&sb)
	_, err := w.Write([]byte(sb.String()))
	return err
}

func clientWantsKeepAlive(head *httpwire.RequestHead) bool {
	conn := strings.ToLower(head.Header.Get("Connection"))
	if strings.Contains(conn, "close") {
		return false
	}
	if head.Version == "HTTP/1.0" && !strings.Contains(conn, "keep-alive") {
		return false
	}
	return true
}
