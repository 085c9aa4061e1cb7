package msfile

import (
	"log/slog"
	"os"
	"time"

	"github.com/INLOpen/nexusms/chromatogram"
	"github.com/INLOpen/nexusms/core"
	"github.com/INLOpen/nexusms/metrics"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultLockTimeout = 5 * time.Second
	// DefaultCacheActivationThreshold is the smallest combined lower+higher
	// cache size that switches the adaptive query cache on.
	DefaultCacheActivationThreshold = 20
)

// Stage names a phase of a build.
type Stage uint8

const (
	StageSpectra Stage = iota + 1
	StagePrecursorChromatogram
	StageProductChromatogram
	StageMetadata
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageSpectra:
		return "spectra"
	case StagePrecursorChromatogram:
		return "precursor_chromatogram"
	case StageProductChromatogram:
		return "product_chromatogram"
	case StageMetadata:
		return "metadata"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Progress is reported during a build. Stages only move forward and Done
// never decreases within a stage. Total is 0 when unknown.
type Progress struct {
	Stage Stage
	Done  int64
	Total int64
}

// WriterOptions configures Build.
type WriterOptions struct {
	// FormatVersion selects the record layout; 0 means core.FormatVersion.
	FormatVersion int32
	// FallbackDir receives the output when the target directory is not
	// writable. Empty means os.TempDir().
	FallbackDir     string
	DisableFallback bool
	Preallocate     bool
	LockTimeout     time.Duration
	// Chromatogram tunes both array builds. Array, Progress, Metrics and
	// Logger are set by Build.
	Chromatogram       chromatogram.Options
	DIAWindowThreshold int
	Progress           func(Progress)

	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.FormatVersion == 0 {
		o.FormatVersion = core.FormatVersion
	}
	if o.FallbackDir == "" {
		o.FallbackDir = os.TempDir()
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.DIAWindowThreshold <= 0 {
		o.DIAWindowThreshold = DefaultDIAWindowThreshold
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With("component", "ContainerWriter")
	return o
}

// ReaderOptions configures Open.
type ReaderOptions struct {
	// LowerCacheRecords and HigherCacheRecords are the extra precursor
	// records read below and above each query window and kept for later
	// queries. The cache is used only when their sum exceeds
	// CacheActivationThreshold.
	LowerCacheRecords        int
	HigherCacheRecords       int
	CacheActivationThreshold int
	DIAWindowThreshold       int
	// SpectrumCacheCapacity is the number of decoded full spectra kept; 0 disables it.
	SpectrumCacheCapacity int

	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

func (o ReaderOptions) withDefaults() ReaderOptions {
	if o.CacheActivationThreshold <= 0 {
		o.CacheActivationThreshold = DefaultCacheActivationThreshold
	}
	if o.DIAWindowThreshold <= 0 {
		o.DIAWindowThreshold = DefaultDIAWindowThreshold
	}
	if o.LowerCacheRecords < 0 {
		o.LowerCacheRecords = 0
	}
	if o.HigherCacheRecords < 0 {
		o.HigherCacheRecords = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With("component", "ContainerReader")
	return o
}

// queryCacheEnabled reports whether the adaptive precursor cache is active.
func (o ReaderOptions) queryCacheEnabled() bool {
	return o.LowerCacheRecords+o.HigherCacheRecords > o.CacheActivationThreshold
}
