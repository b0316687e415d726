package httpwire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/srieger1/gns3-proxy/internal/proxyerr"
)

// FramingKind identifies how a message body is delimited on the wire.
type FramingKind int

const (
	// FramingNone means the message has no body (e.g. GET with neither
	// Transfer-Encoding nor Content-Length, or a 204/304 response).
	FramingNone FramingKind = iota
	// FramingContentLength means the body is exactly Length bytes.
	FramingContentLength
	// FramingChunked means the body uses chunked transfer-coding.
	FramingChunked
	// FramingCloseDelimited means the body runs until the connection
	// closes; only valid for responses, never for requests.
	FramingCloseDelimited
)

// Framing describes how to read or copy one message body.
type Framing struct {
	Kind   FramingKind
	Length int64
}

// DetermineFraming applies RFC 7230 §3.3.3's precedence rules: a chunked
// Transfer-Encoding always wins over any Content-Length, a request with
// neither header carries no body regardless of method (GNS3 clients
// occasionally send a body-bearing GET with explicit framing, which this
// tolerates so long as Content-Length or chunked says so explicitly), and
// a response may fall back to reading until the connection closes.
func DetermineFraming(hdr *Header, isResponse bool, statusCode int) (Framing, error) {
	te := hdr.Get("Transfer-Encoding")
	if te != "" {
		if !strings.EqualFold(strings.TrimSpace(lastCodingOf(te)), "chunked") {
			return Framing{}, fmt.Errorf("%w: unsupported transfer-coding %q", proxyerr.ErrBadChunk, te)
		}
		return Framing{Kind: FramingChunked}, nil
	}
	if isResponse && noBodyStatus(statusCode) {
		return Framing{Kind: FramingNone}, nil
	}
	if cl := hdr.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return Framing{}, fmt.Errorf("%w: bad Content-Length %q", proxyerr.ErrMalformedStartLine, cl)
		}
		return Framing{Kind: FramingContentLength, Length: n}, nil
	}
	if isResponse {
		return Framing{Kind: FramingCloseDelimited}, nil
	}
	return Framing{Kind: FramingNone}, nil
}

func lastCodingOf(te string) string {
	parts := strings.Split(te, ",")
	return strings.TrimSpace(parts[len(parts)-1])
}

func noBodyStatus(code int) bool {
	return code == 204 || code == 304 || (code >= 100 && code < 200)
}

// CopyBody copies exactly one framed body from r to w, returning the
// number of body bytes copied (post-dechunking, for a chunked source: the
// count reflects payload bytes, not the chunk-size envelope). For
// FramingCloseDelimited it copies until r returns EOF.
func CopyBody(w io.Writer, r *bufio.Reader, f Framing) (int64, error) {
	switch f.Kind {
	case FramingNone:
		return 0, nil
	case FramingContentLength:
		n, err := io.CopyN(w, r, f.Length)
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return n, err
	case FramingCloseDelimited:
		return io.Copy(w, r)
	case FramingChunked:
		return copyChunked(w, r)
	default:
		return 0, fmt.Errorf("httpwire: unknown framing kind %d", f.Kind)
	}
}

// copyChunked re-emits each chunk to w using the same chunk-size envelope
// it read, so the proxy forwards the chunked stream byte-faithfully rather
// than re-chunking it; it still has to parse each chunk size to know where
// the payload ends and the next size line begins.
func copyChunked(w io.Writer, r *bufio.Reader) (int64, error) {
	var total int64
	for {
		sizeLine, err := readLine(r)
		if err != nil {
			return total, err
		}
		sizeStr := sizeLine
		if idx := strings.IndexByte(sizeLine, ';'); idx >= 0 {
			sizeStr = sizeLine[:idx]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
		if err != nil || size < 0 {
			return total, fmt.Errorf("%w: bad chunk size %q", proxyerr.ErrBadChunk, sizeLine)
		}
		if _, err := w.Write([]byte(sizeLine + "\r\n")); err != nil {
			return total, err
		}
		if size == 0 {
			if err := copyTrailer(w, r); err != nil {
				return total, err
			}
			return total, nil
		}
		n, err := io.CopyN(w, r, size)
		total += n
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return total, err
		}
		crlf := make([]byte, 2)
		if _, err := io.ReadFull(r, crlf); err != nil {
			return total, fmt.Errorf("%w: missing chunk terminator", proxyerr.ErrBadChunk)
		}
		if string(crlf) != "\r\n" {
			return total, fmt.Errorf("%w: malformed chunk terminator", proxyerr.ErrBadChunk)
		}
		if _, err := w.Write(crlf); err != nil {
			return total, err
		}
	}
}

// copyTrailer forwards the (usually empty) trailer section following the
// zero-size terminal chunk, up to and including the final blank line.
func copyTrailer(w io.Writer, r *bufio.Reader) error {
	for {
		line, err := readLine(r)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte(line + "\r\n")); err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
}
