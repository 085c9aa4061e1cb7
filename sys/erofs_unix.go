//go:build unix

package sys

import "syscall"

var errReadOnlyFS error = syscall.EROFS
