package grouping

import (
	"golang.org/x/sync/errgroup"

	"imagededup/types"
)

// ByEmbedding clusters records by cosine similarity of their embeddings.
// Embeddings are unit length, so similarity is the dot product. Records are
// visited in input order; each unvisited record pulls every later unvisited
// record with similarity >= threshold into its cluster.
//
// The pass is O(n²) in the number of embedded records. Rows of the
// similarity relation are computed on up to workers goroutines; the
// clustering itself stays sequential and deterministic.
func ByEmbedding(records []types.ImageRecord, threshold float64, workers int) []types.DuplicateGroup {
	embedded := make([]types.ImageRecord, 0, len(records))
	dim := 0
	for _, r := range records {
		if !r.HasEmbedding() {
			continue
		}
		if dim == 0 {
			dim = len(r.Embedding)
		}
		if len(r.Embedding) != dim {
			log.Warn("skipping record with mismatched embedding dimension",
				"path", r.Path, "dim", len(r.Embedding), "want", dim)
			continue
		}
		embedded = append(embedded, r)
	}

	neighbors := similarRows(embedded, threshold, workers)

	visited := make([]bool, len(embedded))
	var groups []types.DuplicateGroup
	for i := range embedded {
		if visited[i] {
			continue
		}
		visited[i] = true
		cluster := []types.ImageRecord{embedded[i]}
		for _, j := range neighbors[i] {
			if !visited[j] {
				visited[j] = true
				cluster = append(cluster, embedded[j])
			}
		}
		if len(cluster) >= 2 {
			groups = append(groups, newGroup(Semantic, embedded[i].Path, cluster))
		}
	}

	sortClusters(groups)
	return groups
}

// similarRows returns, for each i, the ascending indices j > i whose
// similarity to i reaches threshold
func similarRows(embedded []types.ImageRecord, threshold float64, workers int) [][]int {
	rows := make([][]int, len(embedded))
	if workers < 1 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range embedded {
		i := i
		g.Go(func() error {
			a := embedded[i].Embedding
			for j := i + 1; j < len(embedded); j++ {
				if dot(a, embedded[j].Embedding) >= threshold {
					rows[i] = append(rows[i], j)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
