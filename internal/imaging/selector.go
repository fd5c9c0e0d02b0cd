// Package imaging picks which photo variant to fetch and prepares the
// downloaded bytes for a vision provider.
package imaging

import (
	"fmt"
	"sort"

	"pinyinbot/internal/domain"
)

const (
	DefaultSoftThresholdBytes int64   = 3_000_000 // 3 MB
	DefaultHardCeilingBytes   int64   = 4_500_000 // 4.5 MB
	DefaultBytesPerPixel      float64 = 0.25      // typical JPEG photo
)

// SelectorConfig holds the named thresholds of the selection policy.
type SelectorConfig struct {
	SoftThresholdBytes int64
	HardCeilingBytes   int64
	BytesPerPixel      float64
}

// Selector chooses one variant out of the resolutions the platform offers.
//
// Policy: scan from the highest resolution down and take the first variant
// whose estimated size is strictly below the soft threshold. When none
// qualifies, take the middle-index variant of the area-ordered list. The
// hard ceiling is checked later against the size the platform reports for
// the chosen file; exceeding it is final, no smaller variant is tried.
type Selector struct {
	soft          int64
	hard          int64
	bytesPerPixel float64
}

// Selection is the outcome of Select.
type Selection struct {
	Variant  domain.ImageVariant
	Index    int   // index in the area-ordered list
	Estimate int64 // estimated encoded size in bytes
	Fallback bool  // true when no variant was under the soft threshold
}

func NewSelector(cfg SelectorConfig) *Selector {
	if cfg.SoftThresholdBytes <= 0 {
		cfg.SoftThresholdBytes = DefaultSoftThresholdBytes
	}
	if cfg.HardCeilingBytes <= 0 {
		cfg.HardCeilingBytes = DefaultHardCeilingBytes
	}
	if cfg.BytesPerPixel <= 0 {
		cfg.BytesPerPixel = DefaultBytesPerPixel
	}
	return &Selector{
		soft:          cfg.SoftThresholdBytes,
		hard:          cfg.HardCeilingBytes,
		bytesPerPixel: cfg.BytesPerPixel,
	}
}

// HardCeiling returns the absolute size limit in bytes.
func (s *Selector) HardCeiling() int64 { return s.hard }

// Estimate returns the reported size of v, or a pixel-count guess when the
// platform did not report one.
func (s *Selector) Estimate(v domain.ImageVariant) int64 {
	if v.FileSize > 0 {
		return v.FileSize
	}
	return int64(float64(v.Area()) * s.bytesPerPixel)
}

// Select returns exactly one element of variants. The input slice is not
// modified.
func (s *Selector) Select(variants []domain.ImageVariant) (Selection, error) {
	if len(variants) == 0 {
		return Selection{}, domain.Errorf(domain.ErrInternal, "no image variants to select from")
	}

	ordered := make([]domain.ImageVariant, len(variants))
	copy(ordered, variants)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Area() < ordered[j].Area()
	})

	for i := len(ordered) - 1; i >= 0; i-- {
		est := s.Estimate(ordered[i])
		if est < s.soft {
			return Selection{Variant: ordered[i], Index: i, Estimate: est}, nil
		}
	}

	mid := (len(ordered) - 1) / 2
	return Selection{
		Variant:  ordered[mid],
		Index:    mid,
		Estimate: s.Estimate(ordered[mid]),
		Fallback: true,
	}, nil
}

// CheckActual validates a size reported by the platform (or counted after
// download) against the hard ceiling. Unknown sizes (<= 0) pass.
func (s *Selector) CheckActual(size int64) error {
	if size > s.hard {
		return &domain.Error{
			Kind:    domain.ErrImageTooLarge,
			Message: fmt.Sprintf("file is %d bytes, limit is %d", size, s.hard),
		}
	}
	return nil
}
