package policy

import (
	"encoding/base64"
	"strings"
)

// basicAuth decodes an "Authorization: Basic <base64>" header value. It
// mirrors net/http's parsing rules but is kept local so this package does
// not need to depend on net/http.Request.
func basicAuth(header string) (username, password string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	user, pass, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}
	return user, pass, true
}
