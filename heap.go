package extsort

import (
	"math"

	"github.com/tamirms/extsort/internal/recfile"
)

// exhausted is the source index of a heap entry whose run has no records
// left. Paired with recfile.MaxRecord it orders after every live entry.
const exhausted = math.MaxInt

// mergeHeap is a min-heap of run cursors ordered by current key.
// Uses parallel arrays indexed by heap position; srcs index into the
// merger's reader array.
type mergeHeap struct {
	keys []recfile.Record
	srcs []int
}

func newMergeHeap(n int) *mergeHeap {
	return &mergeHeap{
		keys: make([]recfile.Record, n),
		srcs: make([]int, n),
	}
}

func (h *mergeHeap) len() int {
	return len(h.keys)
}

// set stores an entry at position i without restoring heap order.
// Call init after all entries are set.
func (h *mergeHeap) set(i int, key recfile.Record, src int) {
	h.keys[i] = key
	h.srcs[i] = src
}

// init builds the heap bottom-up. O(n).
func (h *mergeHeap) init() {
	for i := h.len()/2 - 1; i >= 0; i-- {
		h.down(i)
	}
}

// top returns the smallest entry.
func (h *mergeHeap) top() (recfile.Record, int) {
	return h.keys[0], h.srcs[0]
}

// replaceTop overwrites the smallest entry and restores heap order. O(log n).
func (h *mergeHeap) replaceTop(key recfile.Record, src int) {
	h.keys[0] = key
	h.srcs[0] = src
	h.down(0)
}

func (h *mergeHeap) swap(i, j int) {
	h.keys[i], h.keys[j] = h.keys[j], h.keys[i]
	h.srcs[i], h.srcs[j] = h.srcs[j], h.srcs[i]
}

func (h *mergeHeap) less(i, j int) bool {
	if h.keys[i] != h.keys[j] {
		return h.keys[i] < h.keys[j]
	}
	// Deterministic tie-break by source index
	return h.srcs[i] < h.srcs[j]
}

func (h *mergeHeap) down(i int) {
	n := h.len()
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1 // left child
		if j2 := j1 + 1; j2 < n && h.less(j2, j1) {
			j = j2 // right child
		}
		if !h.less(j, i) {
			break
		}
		h.swap(i, j)
		i = j
	}
}
