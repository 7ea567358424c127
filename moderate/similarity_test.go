package moderate

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/hazyhaar/echocave/domain"
	"github.com/hazyhaar/echocave/internal/dbopen"
	"github.com/hazyhaar/echocave/store/sqlite"

	_ "modernc.org/sqlite"
)

func newHashStore(t *testing.T) *sqlite.HashStore {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := sqlite.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return sqlite.NewHashStore(db)
}

func redSquarePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 220, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestSimilarityModerator_RejectsIdenticalTextAfterWhitespaceNormalization(t *testing.T) {
	ctx := context.Background()
	hashes := newHashStore(t)
	mod := NewSimilarityModerator(hashes)
	th := Thresholds{TextThreshold: 95, ImageThreshold: 95}

	subA := &domain.Submission{ID: 1, Elements: []domain.Element{{Kind: domain.ElementText, Text: "hello"}}, CreatedAt: time.Now()}
	decA, err := mod.Check(ctx, subA, nil, th)
	if err != nil || decA.Kind != Ok {
		t.Fatalf("expected A to pass, got %+v, err %v", decA, err)
	}
	if err := hashes.Upsert(ctx, decA.HashesToStore); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	subB := &domain.Submission{ID: 2, Elements: []domain.Element{{Kind: domain.ElementText, Text: "hello "}}, CreatedAt: time.Now()}
	decB, err := mod.Check(ctx, subB, nil, th)
	if err != nil {
		t.Fatalf("check B: %v", err)
	}
	if decB.Kind != Reject || decB.RejectReason != RejectText || decB.PriorCaveID != 1 {
		t.Fatalf("expected B rejected citing A's text hash, got %+v", decB)
	}
	if decB.SimilarityPct != 100 {
		t.Fatalf("expected 100%% similarity for whitespace-only diff, got %.2f", decB.SimilarityPct)
	}
}

func TestSimilarityModerator_RejectsPaddedDuplicateImage(t *testing.T) {
	ctx := context.Background()
	hashes := newHashStore(t)
	mod := NewSimilarityModerator(hashes)
	th := Thresholds{TextThreshold: 95, ImageThreshold: 95}

	clean := redSquarePNG(t)
	padded := append(append([]byte{}, clean...), bytes.Repeat([]byte{0x00}, 512)...)

	subA := &domain.Submission{ID: 1, Elements: []domain.Element{{Kind: domain.ElementMedia, FileName: "x.png"}}, CreatedAt: time.Now()}
	decA, err := mod.Check(ctx, subA, map[string][]byte{"x.png": clean}, th)
	if err != nil || decA.Kind != Ok {
		t.Fatalf("expected A to pass, got %+v, err %v", decA, err)
	}
	if err := hashes.Upsert(ctx, decA.HashesToStore); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// B's buffer is the sanitized (trimmed) version of the padded file,
	// simulating the orchestrator's sanitize-before-hash step.
	subB := &domain.Submission{ID: 2, Elements: []domain.Element{{Kind: domain.ElementMedia, FileName: "x.png"}}, CreatedAt: time.Now()}
	decB, err := mod.Check(ctx, subB, map[string][]byte{"x.png": padded[:len(clean)]}, th)
	if err != nil {
		t.Fatalf("check B: %v", err)
	}
	if decB.Kind != Reject || decB.RejectReason != RejectImage || decB.SimilarityPct != 100 {
		t.Fatalf("expected B rejected as 100%% image duplicate of A, got %+v", decB)
	}
}

func TestSimilarityModerator_DedupesIdenticalImagesWithinSubmission(t *testing.T) {
	ctx := context.Background()
	hashes := newHashStore(t)
	mod := NewSimilarityModerator(hashes)
	th := Thresholds{TextThreshold: 95, ImageThreshold: 95}

	img := redSquarePNG(t)
	sub := &domain.Submission{
		ID: 1,
		Elements: []domain.Element{
			{Kind: domain.ElementMedia, FileName: "a.png"},
			{Kind: domain.ElementMedia, FileName: "b.png"},
		},
		CreatedAt: time.Now(),
	}
	dec, err := mod.Check(ctx, sub, map[string][]byte{"a.png": img, "b.png": img}, th)
	if err != nil || dec.Kind != Ok {
		t.Fatalf("expected Ok, got %+v, err %v", dec, err)
	}
	if len(dec.HashesToStore) != 1 {
		t.Fatalf("expected a single deduplicated image hash, got %d", len(dec.HashesToStore))
	}
}
