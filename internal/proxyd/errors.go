package proxyd

import (
	"fmt"
	"io"
)

// writeErrorResponse writes a minimal, self-contained HTTP/1.1 response
// with no keep-alive, matching the error-handling taxonomy: a connection
// that fails before a backend is involved never gets a full response
// pipeline, just enough bytes for the client to see the status code.
func writeErrorResponse(w io.Writer, status int, reason string, extraHeaders map[string]string) error {
	body := reason
	if body == "" {
		body = statusText(status)
	}
	headers := fmt.Sprintf("Content-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n", len(body))
	for k, v := range extraHeaders {
		headers += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n%s\r\n%s", status, statusText(status), headers, body)
	return err
}

func statusText(status int) string {
	switch status {
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 502:
		return "Bad Gateway"
	case 504:
		return "Gateway Timeout"
	default:
		return "Error"
	}
}
