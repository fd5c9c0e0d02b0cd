package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 7 {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestTransform_DownscalesLargeImage(t *testing.T) {
	tr := NewTransformer(TransformConfig{MaxDimension: 1200, Quality: 70})
	out, err := tr.Transform(pngBytes(t, 3000, 2000))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out.Width != 1200 || out.Height != 800 {
		t.Errorf("dims = %dx%d, want 1200x800", out.Width, out.Height)
	}
	if out.MediaType != "image/jpeg" {
		t.Errorf("media type = %q", out.MediaType)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("output is not JPEG: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 1200 || b.Dy() != 800 {
		t.Errorf("decoded dims = %v", b)
	}
}

func TestTransform_NeverExceedsMaxDimension(t *testing.T) {
	tr := NewTransformer(TransformConfig{MaxDimension: 300})
	sizes := [][2]int{{301, 10}, {10, 301}, {1000, 999}, {2000, 300}, {300, 300}, {50, 40}, {5000, 1}}
	for _, sz := range sizes {
		out, err := tr.Transform(pngBytes(t, sz[0], sz[1]))
		if err != nil {
			t.Fatalf("%v: %v", sz, err)
		}
		if out.Width > 300 || out.Height > 300 {
			t.Errorf("%v -> %dx%d exceeds 300", sz, out.Width, out.Height)
		}
		if out.MediaType != TargetMediaType {
			t.Errorf("%v: media type %q", sz, out.MediaType)
		}
	}
}

func TestTransform_SmallImageKeepsSize(t *testing.T) {
	out, err := NewTransformer(TransformConfig{}).Transform(pngBytes(t, 640, 480))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out.Width != 640 || out.Height != 480 {
		t.Errorf("dims = %dx%d, want unchanged 640x480", out.Width, out.Height)
	}
}

func TestTransform_RejectsGarbage(t *testing.T) {
	if _, err := NewTransformer(TransformConfig{}).Transform([]byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{1200, 1200, 1200, 1200, 1200},
		{2400, 1200, 1200, 1200, 600},
		{1200, 2400, 1200, 600, 1200},
		{4000, 3, 1200, 1200, 1},
		{100, 50, 1200, 100, 50},
	}
	for _, tt := range tests {
		w, h := FitWithin(tt.w, tt.h, tt.max)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("FitWithin(%d,%d,%d) = %d,%d want %d,%d", tt.w, tt.h, tt.max, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestSniffMediaType(t *testing.T) {
	if got := SniffMediaType(pngBytes(t, 4, 4)); got != "image/png" {
		t.Errorf("png sniffed as %q", got)
	}
	if got := SniffMediaType([]byte("hello")); got != "image/jpeg" {
		t.Errorf("unknown bytes sniffed as %q, want fallback image/jpeg", got)
	}
}

func TestDecodeBase64MaybeDataURL(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	enc := base64.StdEncoding.EncodeToString(raw)

	b, hint, err := DecodeBase64MaybeDataURL("data:image/webp;base64," + enc)
	if err != nil || hint != "image/webp" || !bytes.Equal(b, raw) {
		t.Errorf("data url: b=%v hint=%q err=%v", b, hint, err)
	}

	b, hint, err = DecodeBase64MaybeDataURL("  " + enc + "\n")
	if err != nil || hint != "" || !bytes.Equal(b, raw) {
		t.Errorf("plain: b=%v hint=%q err=%v", b, hint, err)
	}

	if _, _, err := DecodeBase64MaybeDataURL("@@not base64@@"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestPickMediaType(t *testing.T) {
	if got := PickMediaType("image/gif", "image/webp", "image/png"); got != "image/gif" {
		t.Errorf("explicit should win, got %q", got)
	}
	if got := PickMediaType("", "image/webp", "image/png"); got != "image/webp" {
		t.Errorf("hint should win over default, got %q", got)
	}
	if got := PickMediaType(" ", "", "image/png"); got != "image/png" {
		t.Errorf("default expected, got %q", got)
	}
}
