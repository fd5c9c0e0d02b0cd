package imaging

import (
	"testing"

	"pinyinbot/internal/domain"
)

const mb = 1_000_000

func variant(id string, w, h int, size int64) domain.ImageVariant {
	return domain.ImageVariant{FileID: id, Width: w, Height: h, FileSize: size}
}

func testSelector() *Selector {
	return NewSelector(SelectorConfig{
		SoftThresholdBytes: 3 * mb,
		HardCeilingBytes:   4_500_000,
	})
}

func TestSelect_PicksHighestUnderSoftThreshold(t *testing.T) {
	// Platform order is smallest first: estimated 2MB, 4MB, 5MB.
	variants := []domain.ImageVariant{
		variant("small", 320, 240, 2*mb),
		variant("medium", 800, 600, 4*mb),
		variant("large", 1280, 960, 5*mb),
	}
	sel, err := testSelector().Select(variants)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Variant.FileID != "small" {
		t.Errorf("selected %q, want small (2MB)", sel.Variant.FileID)
	}
	if sel.Fallback {
		t.Error("should not be a fallback selection")
	}
}

func TestSelect_PrefersHigherResolutionWhenItFits(t *testing.T) {
	variants := []domain.ImageVariant{
		variant("s", 90, 67, 1_500),
		variant("m", 320, 240, 20_000),
		variant("x", 1280, 960, 150_000),
	}
	sel, _ := testSelector().Select(variants)
	if sel.Variant.FileID != "x" {
		t.Errorf("selected %q, want x", sel.Variant.FileID)
	}
}

func TestSelect_FallsBackToMiddle(t *testing.T) {
	variants := []domain.ImageVariant{
		variant("a", 100, 100, 3*mb),
		variant("b", 200, 200, 4*mb),
		variant("c", 300, 300, 5*mb),
	}
	s := testSelector()
	first, _ := s.Select(variants)
	if first.Variant.FileID != "b" || !first.Fallback {
		t.Fatalf("selected %q fallback=%v, want b fallback", first.Variant.FileID, first.Fallback)
	}
	for i := 0; i < 10; i++ {
		again, _ := s.Select(variants)
		if again.Variant != first.Variant {
			t.Fatalf("non-deterministic selection: %v vs %v", again.Variant, first.Variant)
		}
	}
}

func TestSelect_FallbackIndexForEvenLength(t *testing.T) {
	variants := []domain.ImageVariant{
		variant("a", 100, 100, 6*mb),
		variant("b", 200, 200, 7*mb),
		variant("c", 300, 300, 8*mb),
		variant("d", 400, 400, 9*mb),
	}
	sel, _ := testSelector().Select(variants)
	if sel.Variant.FileID != "b" || sel.Index != 1 {
		t.Errorf("selected %q at %d, want b at 1", sel.Variant.FileID, sel.Index)
	}
}

func TestSelect_SingleVariant(t *testing.T) {
	for _, size := range []int64{10, 10 * mb} {
		sel, err := testSelector().Select([]domain.ImageVariant{variant("only", 640, 480, size)})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if sel.Variant.FileID != "only" {
			t.Errorf("size %d: selected %q, want only", size, sel.Variant.FileID)
		}
	}
}

func TestSelect_NeverFabricates(t *testing.T) {
	cases := [][]domain.ImageVariant{
		{variant("a", 90, 90, 0)},
		{variant("a", 90, 90, 0), variant("b", 320, 320, 0), variant("c", 800, 800, 0), variant("d", 1280, 1280, 0)},
		{variant("a", 4000, 3000, 0), variant("b", 6000, 4000, 0), variant("c", 9000, 7000, 0)},
		// out of order input
		{variant("c", 1280, 960, 5*mb), variant("a", 320, 240, 2*mb), variant("b", 800, 600, 4*mb)},
	}
	for i, variants := range cases {
		sel, err := testSelector().Select(variants)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		found := false
		for _, v := range variants {
			if v == sel.Variant {
				found = true
			}
		}
		if !found {
			t.Errorf("case %d: selected %+v is not in the input", i, sel.Variant)
		}
	}
}

func TestSelect_DoesNotReorderInput(t *testing.T) {
	variants := []domain.ImageVariant{variant("c", 300, 300, 1), variant("a", 100, 100, 1)}
	testSelector().Select(variants)
	if variants[0].FileID != "c" {
		t.Error("Select must not sort the caller's slice")
	}
}

func TestSelect_Empty(t *testing.T) {
	if _, err := testSelector().Select(nil); err == nil {
		t.Fatal("expected error for empty variant list")
	}
}

func TestEstimate_PixelHeuristic(t *testing.T) {
	s := NewSelector(SelectorConfig{BytesPerPixel: 0.5})
	if got := s.Estimate(variant("x", 1000, 1000, 0)); got != 500_000 {
		t.Errorf("Estimate = %d, want 500000", got)
	}
	if got := s.Estimate(variant("x", 1000, 1000, 42)); got != 42 {
		t.Errorf("reported size should win, got %d", got)
	}
}

func TestCheckActual_HardCeiling(t *testing.T) {
	s := testSelector()
	err := s.CheckActual(4_600_000)
	if domain.KindOf(err) != domain.ErrImageTooLarge {
		t.Fatalf("4.6MB: got %v, want image_too_large", err)
	}
	if err := s.CheckActual(4_500_000); err != nil {
		t.Errorf("exactly at ceiling should pass: %v", err)
	}
	if err := s.CheckActual(0); err != nil {
		t.Errorf("unknown size should pass: %v", err)
	}
}

func TestCheckActual_IndependentOfSoftOutcome(t *testing.T) {
	// The variant looked small enough, but the platform reports more.
	s := testSelector()
	sel, _ := s.Select([]domain.ImageVariant{variant("a", 800, 600, 1*mb)})
	if sel.Fallback {
		t.Fatal("setup: expected soft-threshold hit")
	}
	if domain.KindOf(s.CheckActual(4_600_000)) != domain.ErrImageTooLarge {
		t.Error("hard ceiling must apply even after a soft-threshold hit")
	}
}

func TestNewSelector_Defaults(t *testing.T) {
	s := NewSelector(SelectorConfig{})
	if s.soft != DefaultSoftThresholdBytes || s.hard != DefaultHardCeilingBytes || s.bytesPerPixel != DefaultBytesPerPixel {
		t.Errorf("defaults not applied: %+v", s)
	}
	if s.HardCeiling() != 4718592 {
		t.Errorf("HardCeiling = %d", s.HardCeiling())
	}
}
