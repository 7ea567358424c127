// Package report implements the `.check` cluster report: candidate pairs
// from lsh, confirmed by a per-type similarity threshold, grouped into
// clusters by unionfind, rendered as deterministic text. The `.compare`
// route does not use this package.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hazyhaar/echocave/domain"
	"github.com/hazyhaar/echocave/hashutil"
	"github.com/hazyhaar/echocave/lsh"
	"github.com/hazyhaar/echocave/moderate"
	"github.com/hazyhaar/echocave/unionfind"
)

// confirmedPair is a candidate pair that met its type's threshold.
type confirmedPair struct {
	lo, hi int64
	simPct float64
}

// Generate implements ReportGenerator.generateReport: bucket every
// HashRecord via the LSH band policy, confirm candidate pairs against a
// per-type threshold, cluster confirmed pairs with union-find per type,
// and render a deterministic report (text clusters first, then image,
// each sorted ascending by minimum member ID; within a cluster, the
// contributing pair similarities are listed descending, joined by "/").
func Generate(records []domain.HashRecord, th moderate.Thresholds) string {
	// Bucket by record index, not CaveID: a cave entry may own more than one
	// image hash (spec.md:34), so CaveID alone can't tell which of a cave's
	// hashes produced a given band collision. Indexing the records slice
	// directly keeps each (caveID, hash) pair distinct through pairing.
	indices := make([]int64, len(records))
	for i := range records {
		indices[i] = int64(i)
	}
	pairs := lsh.CandidatePairs(indices, func(i int64) (int64, []string) {
		r := records[i]
		return i, lsh.HashBandKeys(string(r.Kind), r.Hash)
	})

	byType := map[domain.HashKind][]confirmedPair{}
	for _, p := range pairs {
		loRec, hiRec := records[p.Lo], records[p.Hi]
		if loRec.Kind != hiRec.Kind || loRec.CaveID == hiRec.CaveID {
			continue
		}
		threshold := th.ImageThreshold
		if loRec.Kind == domain.HashText {
			threshold = th.TextThreshold
		}
		sim := hashutil.SimilarityPercent(loRec.Hash, hiRec.Hash)
		if sim >= threshold {
			byType[loRec.Kind] = append(byType[loRec.Kind], confirmedPair{lo: loRec.CaveID, hi: hiRec.CaveID, simPct: sim})
		}
	}

	var out strings.Builder
	for _, kind := range []domain.HashKind{domain.HashText, domain.HashImage} {
		confirmed := byType[kind]
		if len(confirmed) == 0 {
			continue
		}
		writeClusterSection(&out, kind, confirmed)
	}
	return out.String()
}

func writeClusterSection(out *strings.Builder, kind domain.HashKind, pairs []confirmedPair) {
	uf := unionfind.New()
	idSet := map[int64]bool{}
	pairSims := map[[2]int64][]float64{}
	for _, p := range pairs {
		uf.Union(p.lo, p.hi)
		idSet[p.lo] = true
		idSet[p.hi] = true
		key := [2]int64{p.lo, p.hi}
		pairSims[key] = append(pairSims[key], p.simPct)
	}

	var ids []int64
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	clusters := uf.Clusters(ids)
	sort.Slice(clusters, func(i, j int) bool { return minOf(clusters[i]) < minOf(clusters[j]) })

	for _, cluster := range clusters {
		sort.Slice(cluster, func(i, j int) bool { return cluster[i] < cluster[j] })
		sims := simsWithinCluster(cluster, pairSims)
		sort.Sort(sort.Reverse(sort.Float64Slice(sims)))

		simStrs := make([]string, len(sims))
		for i, s := range sims {
			simStrs[i] = fmt.Sprintf("%.2f%%", s)
		}

		idStrs := make([]string, len(cluster))
		for i, id := range cluster {
			idStrs[i] = fmt.Sprintf("%d", id)
		}

		fmt.Fprintf(out, "[%s] %s: %s\n", kind, strings.Join(idStrs, ","), strings.Join(simStrs, "/"))
	}
}

func simsWithinCluster(cluster []int64, pairSims map[[2]int64][]float64) []float64 {
	members := make(map[int64]bool, len(cluster))
	for _, id := range cluster {
		members[id] = true
	}
	var sims []float64
	for key, vals := range pairSims {
		if members[key[0]] && members[key[1]] {
			sims = append(sims, vals...)
		}
	}
	return sims
}

func minOf(ids []int64) int64 {
	m := ids[0]
	for _, id := range ids[1:] {
		if id < m {
			m = id
		}
	}
	return m
}

