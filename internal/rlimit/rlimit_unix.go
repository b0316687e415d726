//go:build unix

// Package rlimit raises the process's open-file soft limit toward a
// target value at startup, best effort: the acceptor needs headroom for
// two sockets per connection plus whatever else the process holds open.
package rlimit

import "golang.org/x/sys/unix"

// Raise attempts to set RLIMIT_NOFILE's soft limit to target, capped at
// whatever the hard limit allows. It returns the resulting soft limit. The
// error is non-nil when the current limit cannot be read (the limit is
// then reported as 0) or when raising it fails (the unchanged soft limit is
// then reported); the caller logs it and carries on, per the acceptor's
// best-effort contract.
func Raise(target uint64) (uint64, error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, err
	}
	want := target
	if want > rl.Max {
		want = rl.Max
	}
	if want <= rl.Cur {
		return rl.Cur, nil
	}
	old := rl.Cur
	rl.Cur = want
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return old, err
	}
	return rl.Cur, nil
}
