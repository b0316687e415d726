//go:build unix

package proxyd

import "syscall"

var errEMFILE = syscall.EMFILE
