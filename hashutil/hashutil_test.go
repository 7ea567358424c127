package hashutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"
)

func redSquarePNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 20, B: 20, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestPhash_DeterministicOnIdenticalImage(t *testing.T) {
	data := redSquarePNG(t, 64)
	h1, err := Phash(data)
	if err != nil {
		t.Fatalf("Phash: %v", err)
	}
	h2, err := Phash(data)
	if err != nil {
		t.Fatalf("Phash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected deterministic hash, got %s and %s", h1, h2)
	}
	if len(h1) != 16 {
		t.Fatalf("expected 16 hex chars, got %d (%s)", len(h1), h1)
	}
}

func TestPhash_CorruptBufferErrors(t *testing.T) {
	if _, err := Phash([]byte("not an image")); err == nil {
		t.Fatal("expected error decoding non-image buffer")
	}
}

func TestSimhash_EmptyInput(t *testing.T) {
	if got := Simhash("   \t\n"); got != "" {
		t.Fatalf("expected empty hash for all-whitespace input, got %q", got)
	}
	if got := Simhash(""); got != "" {
		t.Fatalf("expected empty hash for empty input, got %q", got)
	}
}

func TestSimhash_StableUnderWhitespaceAndCase(t *testing.T) {
	base := Simhash("The Quick Brown Fox")
	variant := Simhash("  the quick\tbrown   FOX  ")
	if base != variant {
		t.Fatalf("expected whitespace/case-insensitive stability, got %s vs %s", base, variant)
	}
}

func TestSimhash_NearDuplicatePunctuationHighSimilarity(t *testing.T) {
	a := Simhash("The quick brown fox jumps over the lazy dog.")
	b := Simhash("the quick brown fox jumps over the lazy dog!!!")
	sim := SimilarityPercent(a, b)
	if sim < 90 {
		t.Fatalf("expected near-duplicate similarity >= 90, got %.2f", sim)
	}
}

func TestSimilarityPercent_IdenticalIs100(t *testing.T) {
	h := Simhash("hello world")
	if got := SimilarityPercent(h, h); got != 100 {
		t.Fatalf("expected 100%%, got %.2f", got)
	}
	if got := SimilarityPercent("", ""); got != 100 {
		t.Fatalf("expected 100%% for two empty hashes, got %.2f", got)
	}
}

func TestSimilarityPercent_RandomInputsAreRoughlyHalf(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var total float64
	const trials = 200
	for i := 0; i < trials; i++ {
		a := randomHex(rng)
		b := randomHex(rng)
		total += SimilarityPercent(a, b)
	}
	avg := total / trials
	if avg < 40 || avg > 60 {
		t.Fatalf("expected average similarity of random hashes near 50%%, got %.2f", avg)
	}
}

func TestHammingHex_SymmetricAndTriangleInequality(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 50; i++ {
		a := randomHex(rng)
		b := randomHex(rng)
		c := randomHex(rng)
		if HammingHex(a, b) != HammingHex(b, a) {
			t.Fatalf("hamming distance not symmetric for %s, %s", a, b)
		}
		if HammingHex(a, c) > HammingHex(a, b)+HammingHex(b, c) {
			t.Fatalf("triangle inequality violated for %s, %s, %s", a, b, c)
		}
	}
}

func randomHex(rng *rand.Rand) string {
	const digits = "0123456789abcdef"
	b := make([]byte, 16)
	for i := range b {
		b[i] = digits[rng.Intn(len(digits))]
	}
	return string(b)
}
