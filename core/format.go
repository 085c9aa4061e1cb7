package core

import (
	"fmt"
	"path/filepath"
	"strings"
)

// This file centralizes constants related to file formats, magic numbers,
// and other identifiers shared by the container and the scan journal.

// --- Magic Numbers ---
const (
	// ScanLogMagic identifies a scan journal file.
	ScanLogMagic uint32 = 0x534E4353 // "SCNS"
)

// --- Protocol & Format Versions ---
const (
	// FormatVersion is the container version written by this module. Version 2
	// added the native id and total ion current to spectrum records.
	FormatVersion int32 = 2
	// EarliestFormatVersion is the oldest container version that can still be read.
	EarliestFormatVersion int32 = 1
	// ScanLogVersion is the current version of the scan journal header.
	ScanLogVersion uint8 = 1
)

// --- File Names & Suffixes ---
const (
	// ContainerSuffix is the conventional extension of a finished container.
	ContainerSuffix = ".nms"
	// ScanLogSuffix is the conventional extension of a scan journal.
	ScanLogSuffix = ".scans"
	// TempSuffix marks a container that is still being written.
	TempSuffix = ".tmp"
	// LockSuffix marks the advisory lock held while a container is written.
	LockSuffix = ".lock"
)

// FormatTempFilename creates the in-progress name for a final path.
func FormatTempFilename(finalPath string) string {
	return fmt.Sprintf("%s%s", finalPath, TempSuffix)
}

// ContainerPathFor derives a container path from a journal path, e.g.
// run01.scans -> run01.nms.
func ContainerPathFor(journalPath string) string {
	ext := filepath.Ext(journalPath)
	if strings.EqualFold(ext, ScanLogSuffix) {
		return strings.TrimSuffix(journalPath, ext) + ContainerSuffix
	}
	return journalPath + ContainerSuffix
}
