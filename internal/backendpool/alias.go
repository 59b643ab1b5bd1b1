package backendpool

import "math/rand"

// aliasTable is a Vose alias structure enabling O(1) weighted sampling: one
// uniform index draw plus one uniform threshold compare.
//
// indices[i] maps table slot i back to the backend's position in the pool's
// backend slice, so callers can recover the original *Backend.
type aliasTable struct {
	prob    []float64
	alias   []int
	indices []int
}

// newAliasTable builds a table over the given backends using the supplied
// weights (same length, parallel). Weights are clamped to >=1: a backend
// with zero or negative weight still gets a fair, non-zero selection
// chance rather than being silently starved.
func newAliasTable(indices []int, weights []int) *aliasTable {
	n := len(indices)
	if n == 0 {
		return &aliasTable{}
	}

	clamped := make([]float64, n)
	total := 0.0
	for i, w := range weights {
		if w < 1 {
			w = 1
		}
		clamped[i] = float64(w)
		total += float64(w)
	}

	scaled := make([]float64, n)
	for i, w := range clamped {
		scaled[i] = w * float64(n) / total
	}

	small := make([]int, 0, n)
	large := make([]int, 0, n)
	for i, p := range scaled {
		if p < 1 {
			small = append(small, i)
		} else {
			large = append(large, i)
		}
	}

	prob := make([]float64, n)
	alias := make([]int, n)

	for len(small) > 0 && len(large) > 0 {
		l := small[len(small)-1]
		small = small[:len(small)-1]
		g := large[len(large)-1]
		large = large[:len(large)-1]

		prob[l] = scaled[l]
		alias[l] = g

		scaled[g] = scaled[g] + scaled[l] - 1
		if scaled[g] < 1 {
			small = append(small, g)
		} else {
			large = append(large, g)
		}
	}
	for len(large) > 0 {
		g := large[len(large)-1]
		large = large[:len(large)-1]
		prob[g] = 1
	}
	for len(small) > 0 {
		l := small[len(small)-1]
		small = small[:len(small)-1]
		prob[l] = 1
	}

	idxCopy := make([]int, n)
	copy(idxCopy, indices)

	return &aliasTable{prob: prob, alias: alias, indices: idxCopy}
}

// empty reports whether the table has no entries.
func (t *aliasTable) empty() bool { return len(t.indices) == 0 }

// sample draws one weighted index (a position into the original backend
// slice) in O(1). The package-level math/rand generator is safe for
// concurrent use (auto-seeded since Go 1.20), so no per-pool lock is needed
// purely for randomness.
func (t *aliasTable) sample() int {
	n := len(t.indices)
	if n == 0 {
		return -1
	}
	slot := rand.Intn(n)
	if rand.Float64() < t.prob[slot] {
		return t.indices[slot]
	}
	return t.indices[t.alias[slot]]
}
