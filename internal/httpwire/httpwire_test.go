package httpwire

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/srieger1/gns3-proxy/internal/proxyerr"
)

func TestReadRequestHead(t *testing.T) {
	raw := "GET /v2/projects HTTP/1.1\r\nHost: gns3a\r\nX-Tag: one\r\nX-Tag: two\r\n\r\n"
	head, err := ReadRequestHead(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ReadRequestHead: %v", err)
	}
	if head.Method != "GET" || head.Target != "/v2/projects" || head.Version != "HTTP/1.1" {
		t.Fatalf("got %+v", head)
	}
	if got := head.Header.Get("Host"); got != "gns3a" {
		t.Errorf("Host = %q", got)
	}
	if got := head.Header.Values("X-Tag"); len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("X-Tag = %v", got)
	}
}

func TestReadRequestHeadMalformed(t *testing.T) {
	_, err := ReadRequestHead(bufio.NewReader(strings.NewReader("NOT A REQUEST LINE AT ALL\r\n\r\n")))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestReadRequestHeadTooLarge(t *testing.T) {
	huge := strings.Repeat("a", MaxHeaderLineSize+10)
	raw := "GET / HTTP/1.1\r\nX-Huge: " + huge + "\r\n\r\n"
	_, err := ReadRequestHead(bufio.NewReader(strings.NewReader(raw)))
	if err != proxyerr.ErrHeaderTooLarge {
		t.Fatalf("got %v, want ErrHeaderTooLarge", err)
	}
}

func TestReadResponseHead(t *testing.T) {
	raw := "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n"
	head, err := ReadResponseHead(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ReadResponseHead: %v", err)
	}
	if head.StatusCode != 404 || head.Reason != "Not Found" {
		t.Fatalf("got %+v", head)
	}
}

func TestDetermineFramingPrecedence(t *testing.T) {
	var hdr Header
	hdr.Add("Transfer-Encoding", "chunked")
	hdr.Add("Content-Length", "100")
	f, err := DetermineFraming(&hdr, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != FramingChunked {
		t.Errorf("chunked should win over content-length, got %v", f.Kind)
	}
}

func TestCopyBodyContentLength(t *testing.T) {
	var hdr Header
	hdr.Add("Content-Length", "5")
	f, _ := DetermineFraming(&hdr, false, 0)
	r := bufio.NewReader(strings.NewReader("helloXXXX"))
	var out bytes.Buffer
	n, err := CopyBody(&out, r, f)
	if err != nil || n != 5 || out.String() != "hello" {
		t.Fatalf("n=%d err=%v out=%q", n, err, out.String())
	}
}

func TestCopyBodyChunked(t *testing.T) {
	raw := "5\r\nhello\r\n0\r\n\r\n"
	var hdr Header
	hdr.Add("Transfer-Encoding", "chunked")
	f, _ := DetermineFraming(&hdr, false, 0)
	r := bufio.NewReader(strings.NewReader(raw))
	var out bytes.Buffer
	n, err := CopyBody(&out, r, f)
	if err != nil || n != 5 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if out.String() != raw {
		t.Fatalf("expected byte-faithful re-emission, got %q", out.String())
	}
}

func TestCopyBodyBadChunkSize(t *testing.T) {
	raw := "ZZZ\r\n"
	var hdr Header
	hdr.Add("Transfer-Encoding", "chunked")
	f, _ := DetermineFraming(&hdr, false, 0)
	r := bufio.NewReader(strings.NewReader(raw))
	var out bytes.Buffer
	_, err := CopyBody(&out, r, f)
	if err == nil {
		t.Fatal("expected error for malformed chunk size")
	}
}

func TestHeaderPreservesOrderAndCasing(t *testing.T) {
	var h Header
	h.Add("X-Custom-Header", "a")
	h.Add("Accept", "b")
	var sb strings.Builder
	h.WriteTo(&sb)
	want := "X-Custom-Header: a\r\nAccept: b\r\n\r\n"
	if sb.String() != want {
		t.Fatalf("got %q, want %q", sb.String(), want)
	}
}
