package core

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat is the sentinel every file-format failure unwraps to.
	ErrFormat = errors.New("invalid container format")
	// ErrCorruptRecord is returned when a single spectrum record or journal
	// frame cannot be decoded. It only affects the scan being read.
	ErrCorruptRecord = errors.New("corrupt record")
	// ErrScanNotFound is returned for scan numbers outside the file or in a gap.
	ErrScanNotFound = errors.New("scan not found")
	// ErrNotFragment is returned when an isolation window is requested for an MS1 scan.
	ErrNotFragment = errors.New("scan is not a fragment scan")
	// ErrInvalidRange is returned by range queries when minMz > maxMz.
	ErrInvalidRange = errors.New("invalid m/z range")
	// ErrUnsortedScans is returned by the writer when scan numbers are not strictly increasing.
	ErrUnsortedScans = errors.New("scan numbers must be strictly increasing")
	// ErrClosed is returned by operations on a closed reader or writer.
	ErrClosed = errors.New("file is closed")
)

// FormatError reports a file that cannot be trusted: too small, offsets
// pointing outside the file, or malformed metadata.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid container %s: %s", e.Path, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return ErrFormat
}

// NewFormatError builds a FormatError with a formatted reason.
func NewFormatError(path, format string, args ...any) *FormatError {
	return &FormatError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// VersionSkewError is returned when the trailer version is outside the range
// this reader understands. It is also a format error.
type VersionSkewError struct {
	Path     string
	Found    int32
	Earliest int32
	Newest   int32
}

func (e *VersionSkewError) Error() string {
	if e.TooNew() {
		return fmt.Sprintf("container %s has format version %d which is too new (newest supported %d); upgrade the reader or regenerate the file",
			e.Path, e.Found, e.Newest)
	}
	return fmt.Sprintf("container %s has format version %d which is too old (earliest supported %d); regenerate the file",
		e.Path, e.Found, e.Earliest)
}

func (e *VersionSkewError) Unwrap() error {
	return ErrFormat
}

// TooNew reports whether the file was written by a newer writer.
func (e *VersionSkewError) TooNew() bool {
	return e.Found > e.Newest
}

// TooOld reports whether the file predates the earliest supported version.
func (e *VersionSkewError) TooOld() bool {
	return e.Found < e.Earliest
}

// IsFormatError checks if an error (or anything it wraps) is a format error.
func IsFormatError(err error) bool {
	return errors.Is(err, ErrFormat)
}

// IsVersionSkew checks if an error is a VersionSkewError.
func IsVersionSkew(err error) bool {
	var skew *VersionSkewError
	return errors.As(err, &skew)
}
