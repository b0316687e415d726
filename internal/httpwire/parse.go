package httpwire

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/srieger1/gns3-proxy/internal/proxyerr"
)

// MaxHeaderLineSize bounds a single start-line or header line, including
// its terminating CRLF. A line (or the accumulated folded continuation of
// one) longer than this aborts the connection with ErrHeaderTooLarge
// rather than growing the read buffer without bound.
const MaxHeaderLineSize = 8 << 10

// RequestHead is a parsed, still request-target-relative HTTP/1.x request
// line plus headers.
type RequestHead struct {
	Method  string
	Target  string
	Version string
	Header  Header
}

// ResponseHead is a parsed HTTP/1.x status line plus headers.
type ResponseHead struct {
	Version    string
	StatusCode int
	Reason     string
	Header     Header
}

// ReadRequestHead reads one request line and its header block from r. It
// does not touch the body; callers use Framing to learn how to read it.
func ReadRequestHead(r *bufio.Reader) (*RequestHead, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	method, target, version, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}
	hdr, err := readHeaderBlock(r)
	if err != nil {
		return nil, err
	}
	return &RequestHead{Method: method, Target: target, Version: version, Header: hdr}, nil
}

// ReadResponseHead reads one status line and its header block from r.
func ReadResponseHead(r *bufio.Reader) (*ResponseHead, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	version, code, reason, err := parseStatusLine(line)
	if err != nil {
		return nil, err
	}
	hdr, err := readHeaderBlock(r)
	if err != nil {
		return nil, err
	}
	return &ResponseHead{Version: version, StatusCode: code, Reason: reason, Header: hdr}, nil
}

func parseRequestLine(line string) (method, target, version string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: %q", proxyerr.ErrMalformedStartLine, line)
	}
	method, target, version = parts[0], parts[1], parts[2]
	if !isValidToken(method) {
		return "", "", "", fmt.Errorf("%w: bad method %q", proxyerr.ErrMalformedStartLine, method)
	}
	if target == "" || !strings.HasPrefix(version, "HTTP/") {
		return "", "", "", fmt.Errorf("%w: %q", proxyerr.ErrMalformedStartLine, line)
	}
	return method, target, version, nil
}

func parseStatusLine(line string) (version string, code int, reason string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return "", 0, "", fmt.Errorf("%w: %q", proxyerr.ErrMalformedStartLine, line)
	}
	n, err2 := strconv.Atoi(parts[1])
	if err2 != nil || n < 100 || n > 599 {
		return "", 0, "", fmt.Errorf("%w: bad status code %q", proxyerr.ErrMalformedStartLine, parts[1])
	}
	if len(parts) == 3 {
		reason = parts[2]
	}
	return parts[0], n, reason, nil
}

// readHeaderBlock reads header fields up to and including the terminating
// blank line. Obsolete line-folding (a continuation line starting with SP
// or TAB) is joined onto the previous field's value, per RFC 7230 §3.2.4,
// since some GNS3 clients still emit it.
func readHeaderBlock(r *bufio.Reader) (Header, error) {
	var hdr Header
	for {
		line, err := readLine(r)
		if err != nil {
			return Header{}, err
		}
		if line == "" {
			return hdr, nil
		}
		if (line[0] == ' ' || line[0] == '\t') && hdr.Len() > 0 {
			last := &hdr.fields[hdr.Len()-1]
			last.value += " " + strings.TrimSpace(line)
			if len(last.name)+len(": ")+len(last.value)+len("\r\n") > MaxHeaderLineSize {
				return Header{}, proxyerr.ErrHeaderTooLarge
			}
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return Header{}, fmt.Errorf("%w: malformed header %q", proxyerr.ErrMalformedStartLine, line)
		}
		name = strings.TrimRight(name, " \t")
		value = strings.TrimSpace(value)
		if !httpguts.ValidHeaderFieldName(name) {
			return Header{}, fmt.Errorf("%w: invalid header name %q", proxyerr.ErrMalformedStartLine, name)
		}
		hdr.Add(name, value)
	}
}

// readLine reads one CRLF- or LF-terminated line, stripped of its
// terminator, enforcing MaxHeaderLineSize.
func readLine(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		chunk, err := r.ReadSlice('\n')
		if err != nil && len(chunk) == 0 {
			return "", err
		}
		sb.Write(chunk)
		if sb.Len() > MaxHeaderLineSize {
			return "", proxyerr.ErrHeaderTooLarge
		}
		if err == nil {
			break
		}
		if err != bufio.ErrBufferFull {
			return "", err
		}
	}
	line := sb.String()
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

func isValidToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !httpguts.IsTokenRune(r) {
			return false
		}
	}
	return true
}
