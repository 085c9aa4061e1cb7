package msfile

import (
	"context"
	"io"

	"github.com/INLOpen/nexusms/spectrum"
)

// ScanSource yields spectra in strictly increasing scan order. Next returns
// io.EOF after the last spectrum.
type ScanSource interface {
	Next(ctx context.Context) (*spectrum.Spectrum, error)
}

// sizedSource is implemented by sources that know their length up front.
type sizedSource interface {
	Len() int
}

// SliceSource serves spectra from memory.
type SliceSource struct {
	spectra []*spectrum.Spectrum
	pos     int
}

var _ ScanSource = (*SliceSource)(nil)

func NewSliceSource(spectra ...*spectrum.Spectrum) *SliceSource {
	return &SliceSource{spectra: spectra}
}

func (s *SliceSource) Next(ctx context.Context) (*spectrum.Spectrum, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.spectra) {
		return nil, io.EOF
	}
	sp := s.spectra[s.pos]
	s.pos++
	return sp, nil
}

func (s *SliceSource) Len() int { return len(s.spectra) }
