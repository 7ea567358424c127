package moderate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/echocave/domain"
	"github.com/hazyhaar/echocave/hashutil"
	"github.com/hazyhaar/echocave/store"
)

var hashableImageExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true,
}

// Thresholds holds the two gate thresholds the SimilarityModerator and
// ReportGenerator compare against. Both are percentages in [0, 100].
type Thresholds struct {
	TextThreshold  float64
	ImageThreshold float64
}

// SimilarityModerator rejects a submission when any existing text Simhash
// or image pHash is within threshold of one it just computed; otherwise it
// returns the hashes the caller should persist on success.
type SimilarityModerator struct {
	hashes store.HashStore
}

// NewSimilarityModerator wraps a HashStore for threshold comparisons
// against every previously persisted hash.
func NewSimilarityModerator(hashes store.HashStore) *SimilarityModerator {
	return &SimilarityModerator{hashes: hashes}
}

// Check implements the algorithm from spec.md §4.5:
//  1. Simhash the concatenated text; reject if any persisted text hash
//     scores >= thresholds.TextThreshold.
//  2. pHash every hashable media buffer (deduplicating identical pHashes
//     within this submission); reject if any persisted image hash scores
//     >= thresholds.ImageThreshold.
//  3. Otherwise return the hashes that would be persisted on Ok.
//
// mediaBuffers maps a submission's media file names to their (already
// sanitized) bytes.
func (m *SimilarityModerator) Check(ctx context.Context, sub *domain.Submission, mediaBuffers map[string][]byte, th Thresholds) (Decision, error) {
	var toStore []domain.HashRecord

	if text := sub.TextOf(); text != "" {
		textHash := hashutil.Simhash(text)
		if textHash != "" {
			existing, err := m.hashes.Get(ctx, store.HashFilter{Kind: domain.HashText})
			if err != nil {
				return Decision{}, fmt.Errorf("similarity: load text hashes: %w", err)
			}
			for _, rec := range existing {
				if sim := hashutil.SimilarityPercent(textHash, rec.Hash); sim >= th.TextThreshold {
					return Decision{
						Kind:          Reject,
						RejectReason:  RejectText,
						PriorCaveID:   rec.CaveID,
						SimilarityPct: sim,
					}, nil
				}
			}
			toStore = append(toStore, domain.HashRecord{CaveID: sub.ID, Hash: textHash, Kind: domain.HashText})
		}
	}

	existingImages, err := m.hashes.Get(ctx, store.HashFilter{Kind: domain.HashImage})
	if err != nil {
		return Decision{}, fmt.Errorf("similarity: load image hashes: %w", err)
	}

	seenInSubmission := make(map[string]bool)
	for _, fileName := range sub.MediaFileNames() {
		ext := strings.ToLower(filepath.Ext(fileName))
		if !hashableImageExt[ext] {
			continue
		}
		buf, ok := mediaBuffers[fileName]
		if !ok {
			continue
		}
		imgHash, err := hashutil.Phash(buf)
		if err != nil {
			// Corrupt-media: logged by the caller, not fatal here.
			continue
		}
		if seenInSubmission[imgHash] {
			continue
		}
		seenInSubmission[imgHash] = true

		for _, rec := range existingImages {
			if sim := hashutil.SimilarityPercent(imgHash, rec.Hash); sim >= th.ImageThreshold {
				return Decision{
					Kind:          Reject,
					RejectReason:  RejectImage,
					PriorCaveID:   rec.CaveID,
					SimilarityPct: sim,
				}, nil
			}
		}
		toStore = append(toStore, domain.HashRecord{CaveID: sub.ID, Hash: imgHash, Kind: domain.HashImage})
	}

	return Decision{Kind: Ok, HashesToStore: toStore}, nil
}
