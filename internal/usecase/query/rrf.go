package query

import (
	"sort"

	"github.com/kailas-cloud/docquery/internal/domain"
)

// fuseOptions tunes Reciprocal Rank Fusion behavior.
type fuseOptions struct {
	// DedupeWithinRanking suppresses the additive contribution of repeated
	// ids inside one input ranking. Off by default: the historical behavior
	// double-counts them, and downstream ranking expectations were tuned
	// against that.
	DedupeWithinRanking bool
}

// fuse merges rankings via Reciprocal Rank Fusion: every hit at 1-based rank
// r contributes 1/(k+r) to its id's score, accumulated across rankings. The
// first-seen hit object represents its id; later duplicates only add score.
// Output is every represented hit sorted by descending fused score; equal
// scores keep first-encounter order (stable sort, no secondary tie-break).
// Larger k flattens the influence of top ranks.
func fuse(rankings []domain.Ranking, k int, opts fuseOptions) []domain.Hit {
	scores := make(map[string]float64)
	repr := make(map[string]domain.Hit)
	var order []string

	for _, ranking := range rankings {
		var seen map[string]bool
		if opts.DedupeWithinRanking {
			seen = make(map[string]bool, len(ranking))
		}
		for i, hit := range ranking {
			if seen != nil {
				if seen[hit.ID] {
					continue
				}
				seen[hit.ID] = true
			}
			if _, ok := repr[hit.ID]; !ok {
				repr[hit.ID] = hit
				order = append(order, hit.ID)
			}
			rank := i + 1
			scores[hit.ID] += 1.0 / float64(k+rank)
		}
	}

	fused := make([]domain.Hit, 0, len(order))
	for _, id := range order {
		hit := repr[id]
		hit.Score = scores[id]
		fused = append(fused, hit)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})

	for i := range fused {
		fused[i].Rank = i + 1
	}
	return fused
}
