package lsh

import (
	"fmt"
	"math/rand"
	"testing"
)

type hashItem struct {
	id   int64
	kind string
	hash string
}

func TestCandidatePairs_CoOccurrenceInAnyBucket(t *testing.T) {
	items := []hashItem{
		{1, "text", "aa"},
		{2, "text", "bb"},
		{3, "text", "cc"},
	}
	keyFn := func(it hashItem) (int64, []string) {
		// Force 1 and 2 into the same bucket, 3 into its own.
		if it.id == 1 || it.id == 2 {
			return it.id, []string{"bucket-A"}
		}
		return it.id, []string{"bucket-B"}
	}

	pairs := CandidatePairs(items, keyFn)
	if len(pairs) != 1 {
		t.Fatalf("expected exactly 1 candidate pair, got %d: %v", len(pairs), pairs)
	}
	if pairs[0] != (Pair{Lo: 1, Hi: 2}) {
		t.Fatalf("expected pair (1,2), got %v", pairs[0])
	}
}

func TestCandidatePairs_DuplicateIDsInSameBucketCollapse(t *testing.T) {
	items := []hashItem{{1, "x", ""}, {1, "x", ""}, {2, "x", ""}}
	keyFn := func(it hashItem) (int64, []string) { return it.id, []string{"only"} }

	pairs := CandidatePairs(items, keyFn)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair after collapsing duplicate IDs, got %d", len(pairs))
	}
}

func TestCandidatePairs_NoPairsFromSingletonBuckets(t *testing.T) {
	items := []hashItem{{1, "x", ""}, {2, "x", ""}}
	keyFn := func(it hashItem) (int64, []string) { return it.id, []string{fmt.Sprintf("bucket-%d", it.id)} }

	pairs := CandidatePairs(items, keyFn)
	if len(pairs) != 0 {
		t.Fatalf("expected no pairs from singleton buckets, got %d", len(pairs))
	}
}

func TestHashBandKeys_FourBandsOfSixteenBits(t *testing.T) {
	keys := HashBandKeys("image", "ffffffffffffffff")
	if len(keys) != 4 {
		t.Fatalf("expected 4 band keys, got %d", len(keys))
	}
	for _, k := range keys {
		if len(k) == 0 {
			t.Fatal("unexpected empty band key")
		}
	}
}

// Monte-Carlo check of spec invariant 5: two 64-bit hashes within Hamming
// distance <=12, split into 4 bands of 16 bits, collide in at least one
// band with probability >= 0.999 over 10k random pairs.
func TestHashBandKeys_CollisionProbabilityAtDistance12(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const trials = 10000
	collisions := 0

	for i := 0; i < trials; i++ {
		base := rng.Uint64()
		mutated := mutateBits(base, 12, rng)

		baseHex := fmt.Sprintf("%016x", base)
		mutHex := fmt.Sprintf("%016x", mutated)

		baseBands := HashBandKeys("image", baseHex)
		mutBands := HashBandKeys("image", mutHex)

		collided := false
		for b := 0; b < 4; b++ {
			if baseBands[b] == mutBands[b] {
				collided = true
				break
			}
		}
		if collided {
			collisions++
		}
	}

	rate := float64(collisions) / float64(trials)
	if rate < 0.999 {
		t.Fatalf("expected collision rate >= 0.999 at distance 12, got %.4f", rate)
	}
}

// mutateBits flips exactly n distinct random bit positions of v.
func mutateBits(v uint64, n int, rng *rand.Rand) uint64 {
	positions := rng.Perm(64)[:n]
	for _, p := range positions {
		v ^= 1 << uint(p)
	}
	return v
}

func TestKeywordKeys_SharedTokenBecomesCandidate(t *testing.T) {
	type kwItem struct {
		id   int64
		toks []string
		typ  string
	}
	items := []kwItem{
		{1, []string{"arknights", "ACG"}, "ACG"},
		{2, []string{"arknights", "meme"}, "ACG"},
		{3, []string{"unrelated"}, "other"},
	}
	keyFn := func(it kwItem) (int64, []string) { return it.id, KeywordKeys("", it.toks) }

	pairs := CandidatePairs(items, keyFn)
	found := false
	for _, p := range pairs {
		if p == (Pair{Lo: 1, Hi: 2}) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected (1,2) to be candidates via shared token, got %v", pairs)
	}
}
