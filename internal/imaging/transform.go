package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"pinyinbot/internal/domain"
)

const (
	DefaultMaxDimension = 1200
	DefaultQuality      = 70
	TargetMediaType     = "image/jpeg"
)

type TransformConfig struct {
	MaxDimension int // longest side after resizing, in pixels
	Quality      int // JPEG quality, 1-100
}

// Transformer downsizes and re-encodes photos as JPEG so the payload stays
// well under the provider's request limit regardless of the input size.
type Transformer struct {
	maxDim  int
	quality int
}

func NewTransformer(cfg TransformConfig) *Transformer {
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = DefaultMaxDimension
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultQuality
	}
	return &Transformer{maxDim: cfg.MaxDimension, quality: cfg.Quality}
}

// Transform decodes data, scales it so neither side exceeds the configured
// maximum (aspect ratio kept, never upscaled) and re-encodes it as JPEG.
func (t *Transformer) Transform(data []byte) (domain.Image, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return domain.Image{}, fmt.Errorf("decode image: %w", err)
	}

	sb := src.Bounds()
	w, h := FitWithin(sb.Dx(), sb.Dy(), t.maxDim)

	// JPEG has no alpha: flatten onto white so transparent PNG text stays readable.
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if w == sb.Dx() && h == sb.Dy() {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: t.quality}); err != nil {
		return domain.Image{}, fmt.Errorf("encode jpeg (from %s): %w", format, err)
	}

	return domain.Image{
		Data:      buf.Bytes(),
		MediaType: TargetMediaType,
		Width:     w,
		Height:    h,
	}, nil
}

// FitWithin returns w×h scaled down so the longer side is at most limit.
// Dimensions already within bounds are returned unchanged.
func FitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		nh := int(float64(h) * float64(limit) / float64(w))
		if nh < 1 {
			nh = 1
		}
		return limit, nh
	}
	nw := int(float64(w) * float64(limit) / float64(h))
	if nw < 1 {
		nw = 1
	}
	return nw, limit
}
