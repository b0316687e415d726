// Package levellog is a thin level filter in front of the standard log
// package, in the same spirit as the tagged, gate-checked log lines
// elsewhere in this codebase (every call site still goes through
// log.Printf; this package only decides whether the call happens).
package levellog

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	Debug Level = iota
	Info
	Warning
	Error
	Critical
)

func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return Debug, nil
	case "INFO":
		return Info, nil
	case "WARNING":
		return Warning, nil
	case "ERROR":
		return Error, nil
	case "CRITICAL":
		return Critical, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

var current atomic.Int32

func init() {
	current.Store(int32(Info))
}

// SetLevel changes the global minimum level. Lines below it are dropped.
func SetLevel(l Level) {
	current.Store(int32(l))
}

func enabled(l Level) bool {
	return int32(l) >= current.Load()
}

func Debugf(format string, args ...any) {
	if enabled(Debug) {
		log.Printf("DBG "+format, args...)
	}
}

func Infof(format string, args ...any) {
	if enabled(Info) {
		log.Printf("INF "+format, args...)
	}
}

func Warningf(format string, args ...any) {
	if enabled(Warning) {
		log.Printf("WRN "+format, args...)
	}
}

func Errorf(format string, args ...any) {
	if enabled(Error) {
		log.Printf("ERR "+format, args...)
	}
}

func Criticalf(format string, args ...any) {
	if enabled(Critical) {
		log.Printf("CRT "+format, args...)
	}
}
