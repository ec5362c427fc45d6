// Package grouping partitions image records into duplicate groups. Each
// strategy is a pure function over a snapshot of records.
package grouping

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"imagededup/logging"
	"imagededup/types"
)

var log = logging.Module("grouping")

// Strategy names a grouping notion
type Strategy string

const (
	Exact      Strategy = "exact"
	Perceptual Strategy = "perceptual"
	Semantic   Strategy = "semantic"
)

// ParseStrategy validates a strategy name
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(s)) {
	case Exact:
		return Exact, nil
	case Perceptual:
		return Perceptual, nil
	case Semantic:
		return Semantic, nil
	}
	return "", fmt.Errorf("unknown grouping strategy %q (want exact, perceptual or semantic)", s)
}

// Params holds the thresholds for the similarity strategies
type Params struct {
	// PerceptualThreshold is the maximum Hamming distance to a cluster seed
	PerceptualThreshold int
	// SemanticThreshold is the minimum cosine similarity to a cluster seed
	SemanticThreshold float64
	// Workers bounds the parallelism of the similarity computation
	Workers int
}

// Run dispatches to the strategy's grouping function
func Run(strategy Strategy, records []types.ImageRecord, params Params) ([]types.DuplicateGroup, error) {
	switch strategy {
	case Exact:
		return ByContentHash(records), nil
	case Perceptual:
		return ByPerceptualHash(records, params.PerceptualThreshold), nil
	case Semantic:
		return ByEmbedding(records, params.SemanticThreshold, params.Workers), nil
	}
	return nil, fmt.Errorf("unknown grouping strategy %q", strategy)
}

func newGroup(strategy Strategy, key string, members []types.ImageRecord) types.DuplicateGroup {
	types.SortByQuality(members)
	return types.DuplicateGroup{Strategy: string(strategy), Key: key, Records: members}
}

// sortClusters orders groups by descending size, then descending best score.
// The best member's path breaks remaining ties.
func sortClusters(groups []types.DuplicateGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if len(a.Records) != len(b.Records) {
			return len(a.Records) > len(b.Records)
		}
		if a.Best().QualityScore != b.Best().QualityScore {
			return a.Best().QualityScore > b.Best().QualityScore
		}
		return a.Best().Path < b.Best().Path
	})
}

// Dedupe merges several views for presentation, dropping any group whose
// member set was already produced by an earlier view
func Dedupe(views ...[]types.DuplicateGroup) []types.DuplicateGroup {
	seen := make(map[string]bool)
	var out []types.DuplicateGroup
	for _, view := range views {
		for _, g := range view {
			paths := g.Paths()
			slices.Sort(paths)
			key := strings.Join(paths, "\x00")
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, g)
		}
	}
	return out
}
