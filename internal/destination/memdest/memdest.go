// Package memdest is an in-memory Destination implementation used by tests
// and local/dev runs, grounded on the teacher pack's map+mutex storage
// style (pkg/storage/memory).
package memdest

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/syncforge/core/internal/destination"
)

const defaultMaxBatchSize = 500

// Destination is a thread-safe, in-process vector store.
type Destination struct {
	mu            sync.RWMutex
	collections   map[string]bool
	points        map[string]map[string]destination.Point // namespace -> pointID -> point
	maxBatchSize  int
}

// New constructs an empty Destination.
func New() *Destination {
	return &Destination{
		collections:  make(map[string]bool),
		points:       make(map[string]map[string]destination.Point),
		maxBatchSize: defaultMaxBatchSize,
	}
}

func (d *Destination) EnsureCollection(ctx context.Context, namespace string, vectorDim int, sparse bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.collections[namespace] = true
	if d.points[namespace] == nil {
		d.points[namespace] = make(map[string]destination.Point)
	}
	return nil
}

func (d *Destination) BulkUpsert(ctx context.Context, namespace string, points []destination.Point) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ns, ok := d.points[namespace]
	if !ok {
		ns = make(map[string]destination.Point)
		d.points[namespace] = ns
	}
	for _, p := range points {
		ns[p.PointID] = p
	}
	return nil
}

func (d *Destination) BulkDelete(ctx context.Context, namespace string, pointIDs []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ns, ok := d.points[namespace]
	if !ok {
		return nil
	}
	for _, id := range pointIDs {
		delete(ns, id)
	}
	return nil
}

// Search runs a naive cosine-similarity (dense) and/or dot-product
// (sparse) scan, fusing the two with reciprocal-rank fusion when both
// vectors are present — enough fidelity for tests and local search
// round-trips without a real vector index.
func (d *Destination) Search(ctx context.Context, query destination.SearchQuery) ([]destination.SearchResult, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ns := d.points[query.Namespace]
	if len(ns) == 0 {
		return nil, nil
	}

	var denseRanked, sparseRanked []destination.SearchResult

	if len(query.Vector) > 0 {
		denseRanked = rankByScore(ns, query.Filter, func(p destination.Point) (float64, bool) {
			if len(p.Vector) == 0 {
				return 0, false
			}
			return cosineSimilarity(query.Vector, p.Vector), true
		})
	}
	if len(query.SparseVector) > 0 {
		sparseRanked = rankByScore(ns, query.Filter, func(p destination.Point) (float64, bool) {
			if len(p.SparseVector) == 0 {
				return 0, false
			}
			return dotProduct(query.SparseVector, p.SparseVector), true
		})
	}

	var fused []destination.SearchResult
	switch {
	case len(denseRanked) > 0 && len(sparseRanked) > 0:
		fused = reciprocalRankFusion(denseRanked, sparseRanked, 60)
	case len(denseRanked) > 0:
		fused = denseRanked
	default:
		fused = sparseRanked
	}

	if query.ScoreThreshold != nil {
		filtered := fused[:0]
		for _, r := range fused {
			if r.Score >= *query.ScoreThreshold {
				filtered = append(filtered, r)
			}
		}
		fused = filtered
	}

	start := query.Offset
	if start > len(fused) {
		start = len(fused)
	}
	end := start + query.Limit
	if query.Limit <= 0 || end > len(fused) {
		end = len(fused)
	}
	return fused[start:end], nil
}

func (d *Destination) MaxBatchSize() int { return d.maxBatchSize }

// Has reports whether pointID is currently stored under namespace. It
// exists for test assertions; the real Destination interface has no
// equivalent single-point read.
func (d *Destination) Has(namespace, pointID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ns, ok := d.points[namespace]
	if !ok {
		return false
	}
	_, ok = ns[pointID]
	return ok
}

func rankByScore(
	ns map[string]destination.Point,
	filter map[string]any,
	score func(destination.Point) (float64, bool),
) []destination.SearchResult {
	results := make([]destination.SearchResult, 0, len(ns))
	for _, p := range ns {
		if !matchesFilter(p, filter) {
			continue
		}
		s, ok := score(p)
		if !ok {
			continue
		}
		results = append(results, destination.SearchResult{PointID: p.PointID, Score: s, Payload: p.Payload})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

func matchesFilter(p destination.Point, filter map[string]any) bool {
	for k, v := range filter {
		if pv, ok := p.Payload[k]; !ok || !valuesEqual(pv, v) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.EqualFold(as, bs)
	}
	return a == b
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func dotProduct(a, b map[int]float64) float64 {
	var sum float64
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for k, v := range small {
		sum += v * large[k]
	}
	return sum
}

// reciprocalRankFusion fuses two ranked lists using RRF with constant k,
// the client-side fallback the search executor uses when a destination
// lacks native hybrid fusion.
func reciprocalRankFusion(dense, sparse []destination.SearchResult, k int) []destination.SearchResult {
	scores := make(map[string]float64)
	payloads := make(map[string]map[string]any)

	for rank, r := range dense {
		scores[r.PointID] += 1.0 / float64(k+rank+1)
		payloads[r.PointID] = r.Payload
	}
	for rank, r := range sparse {
		scores[r.PointID] += 1.0 / float64(k+rank+1)
		payloads[r.PointID] = r.Payload
	}

	fused := make([]destination.SearchResult, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, destination.SearchResult{PointID: id, Score: score, Payload: payloads[id]})
	}
	sort.Slice(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	return fused
}
