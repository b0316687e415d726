//go:build !unix

package proxyd

import "errors"

var errEMFILE = errors.New("proxyd: no EMFILE equivalent on this platform")
