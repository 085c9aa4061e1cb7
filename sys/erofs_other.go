//go:build !unix

package sys

import "errors"

var errReadOnlyFS = errors.New("read-only file system")
