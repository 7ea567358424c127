// Package lsh provides a generic locality-sensitive-hashing candidate-pair
// generator: items bucketed under one or more string keys become candidate
// pairs whenever they share a bucket.
package lsh

import "fmt"

// KeyFunc maps an item to its integer ID and the set of bucket keys it
// falls into.
type KeyFunc[T any] func(item T) (id int64, keys []string)

// Pair is an unordered pair of candidate IDs, always stored with Lo <= Hi.
type Pair struct {
	Lo, Hi int64
}

func newPair(a, b int64) Pair {
	if a <= b {
		return Pair{Lo: a, Hi: b}
	}
	return Pair{Lo: b, Hi: a}
}

func (p Pair) key() string { return fmt.Sprintf("%d-%d", p.Lo, p.Hi) }

// CandidatePairs buckets every item by its key function and emits every
// unordered pair of distinct IDs that co-occur in at least one bucket.
// Duplicate IDs in the same bucket collapse to one entry; the result set
// never contains the same pair twice.
func CandidatePairs[T any](items []T, keyFn KeyFunc[T]) []Pair {
	buckets := make(map[string]map[int64]bool)
	for _, item := range items {
		id, keys := keyFn(item)
		for _, k := range keys {
			b, ok := buckets[k]
			if !ok {
				b = make(map[int64]bool)
				buckets[k] = b
			}
			b[id] = true
		}
	}

	seen := make(map[string]Pair)
	for _, ids := range buckets {
		if len(ids) < 2 {
			continue
		}
		list := make([]int64, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		for i := 0; i < len(list); i++ {
			for j := i + 1; j < len(list); j++ {
				p := newPair(list[i], list[j])
				seen[p.key()] = p
			}
		}
	}

	out := make([]Pair, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	return out
}

// HashBandKeys partitions the 64-bit binary expansion of a hex-encoded hash
// into 4 contiguous 16-bit bands and returns keys "{kind}:{band}:{bits}",
// the candidate generation for the `.check` report. Two hashes share a
// band key only when at least one band is bit-identical: guaranteed at
// Hamming distance <=3, but at distance 12 (differing bits spread at
// random) only about 8-9% of pairs share a band.
func HashBandKeys(kind, hexHash string) []string {
	bits := hexToBinary(hexHash)
	const bands = 4
	bandLen := len(bits) / bands
	if bandLen == 0 {
		return []string{fmt.Sprintf("%s:0:%s", kind, bits)}
	}
	keys := make([]string, 0, bands)
	for i := 0; i < bands; i++ {
		start := i * bandLen
		end := start + bandLen
		if i == bands-1 {
			end = len(bits)
		}
		keys = append(keys, fmt.Sprintf("%s:%d:%s", kind, i, bits[start:end]))
	}
	return keys
}

func hexToBinary(hex string) string {
	out := make([]byte, 0, len(hex)*4)
	for i := 0; i < len(hex); i++ {
		v := hexNibble(hex[i])
		for b := 3; b >= 0; b-- {
			if v&(1<<uint(b)) != 0 {
				out = append(out, '1')
			} else {
				out = append(out, '0')
			}
		}
	}
	return string(out)
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}

// KeywordKeys is the band policy for keyword inputs: the key set is the
// token list itself, optionally augmented with the entry's type string.
// Any two entries sharing a single key become candidates. Pass typ == ""
// to omit the type key. The `.compare` route does not use it; it compares
// two entries' stored hashes directly.
func KeywordKeys(typ string, tokens []string) []string {
	keys := make([]string, 0, len(tokens)+1)
	keys = append(keys, tokens...)
	if typ != "" {
		keys = append(keys, typ)
	}
	return keys
}
