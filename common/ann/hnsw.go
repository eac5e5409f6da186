// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ann

import (
	"math/rand"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/cofriends/common/heap"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"modernc.org/mathutil"
)

// HNSW is a vector index based on Hierarchical Navigable Small Worlds. Vectors are
// added by a single writer; once built, the index may be searched concurrently.
type HNSW struct {
	distanceFunc    func(a, b []float32) float32
	rng             *rand.Rand
	dimension       int
	vectors         [][]float32
	bottomNeighbors []*heap.PriorityQueue
	upperNeighbors  []map[int32]*heap.PriorityQueue
	enterPoint      int32

	levelFactor    float32
	maxConnection  int // maximum number of connections for each element per layer
	maxConnection0 int
	ef             int
	efConstruction int
}

func NewHNSW(distanceFunc func(a, b []float32) float32, seed int64) *HNSW {
	return &HNSW{
		distanceFunc:   distanceFunc,
		rng:            rand.New(rand.NewSource(seed)),
		levelFactor:    1.0 / math32.Log(48),
		maxConnection:  48,
		maxConnection0: 96,
		efConstruction: 100,
	}
}

func (h *HNSW) Add(v []float32) (int, error) {
	if h.dimension == 0 {
		h.dimension = len(v)
	} else if h.dimension != len(v) {
		return 0, errors.Errorf("dimension mismatch: %v != %v", h.dimension, len(v))
	}
	h.vectors = append(h.vectors, v)
	h.bottomNeighbors = append(h.bottomNeighbors, heap.NewPriorityQueue(false))
	q := len(h.vectors) - 1
	h.insert(int32(q))
	return q, nil
}

func (h *HNSW) Len() int {
	return len(h.vectors)
}

func (h *HNSW) SearchVector(q []float32, k int) []lo.Tuple2[int, float32] {
	if k <= 0 || len(h.vectors) == 0 || len(q) != h.dimension {
		return nil
	}
	w := h.knnSearch(q, k, h.efSearchValue(k))
	scores := make([]lo.Tuple2[int, float32], 0, w.Len())
	for w.Len() > 0 {
		value, score := w.Pop()
		scores = append(scores, lo.Tuple2[int, float32]{A: int(value), B: score})
	}
	return scores
}

func (h *HNSW) knnSearch(q []float32, k, ef int) *heap.PriorityQueue {
	var (
		w           *heap.PriorityQueue
		enterPoints = h.distance(q, []int32{h.enterPoint})
		topLayer    = len(h.upperNeighbors)
	)
	for currentLayer := topLayer; currentLayer > 0; currentLayer-- {
		w = h.searchLayer(q, enterPoints, 1, currentLayer)
		enterPoints = heap.NewPriorityQueue(false)
		enterPoints.Push(w.Peek())
	}
	w = h.searchLayer(q, enterPoints, ef, 0)
	return h.selectNeighbors(w, k)
}

// insert i-th vector into the vector index.
func (h *HNSW) insert(q int32) {
	if q == 0 {
		h.enterPoint = q
		return
	}
	var (
		w           *heap.PriorityQueue
		enterPoints = h.distance(h.vectors[q], []int32{h.enterPoint})
		l           = int(math32.Floor(-math32.Log(1-h.rng.Float32()) * h.levelFactor))
		topLayer    = len(h.upperNeighbors)
	)
	for currentLayer := topLayer; currentLayer >= l+1; currentLayer-- {
		w = h.searchLayer(h.vectors[q], enterPoints, 1, currentLayer)
		enterPoints = h.selectNeighbors(w, 1)
	}
	for currentLayer := mathutil.Min(topLayer, l); currentLayer >= 0; currentLayer-- {
		w = h.searchLayer(h.vectors[q], enterPoints, h.efConstruction, currentLayer)
		neighbors := h.selectNeighbors(w, h.maxConnection)
		// add bidirectional connections at layer l_c
		h.setNeighbourhood(q, currentLayer, neighbors)
		for _, e := range neighbors.Elems() {
			connections := h.getNeighbourhood(e.Value, currentLayer)
			if connections == nil {
				continue
			}
			connections.Push(q, e.Weight)
			currentMaxConnection := h.maxConnection
			if currentLayer == 0 {
				currentMaxConnection = h.maxConnection0
			}
			if connections.Len() > currentMaxConnection {
				h.setNeighbourhood(e.Value, currentLayer, h.selectNeighbors(connections, currentMaxConnection))
			}
		}
		enterPoints = w
	}
	for layer := topLayer + 1; layer <= l; layer++ {
		// q becomes the only element of every new layer
		h.enterPoint = q
		h.upperNeighbors = append(h.upperNeighbors, make(map[int32]*heap.PriorityQueue))
		h.setNeighbourhood(q, layer, heap.NewPriorityQueue(false))
	}
}

func (h *HNSW) searchLayer(q []float32, enterPoints *heap.PriorityQueue, ef, currentLayer int) *heap.PriorityQueue {
	var (
		v          = mapset.NewThreadUnsafeSet(enterPoints.Values()...) // visited
		candidates = enterPoints.Clone()
		w          = enterPoints.Reverse() // dynamic list of found nearest neighbors
	)
	for candidates.Len() > 0 {
		c, cq := candidates.Pop()
		_, fq := w.Peek()
		if cq > fq {
			break // all elements in w are evaluated
		}
		neighborhood := h.getNeighbourhood(c, currentLayer)
		if neighborhood == nil {
			continue
		}
		for _, e := range neighborhood.Values() {
			if !v.Contains(e) {
				v.Add(e)
				_, fq = w.Peek()
				if eq := h.distanceFunc(h.vectors[e], q); eq < fq || w.Len() < ef {
					candidates.Push(e, eq)
					w.Push(e, eq)
					if w.Len() > ef {
						w.Pop()
					}
				}
			}
		}
	}
	return w.Reverse()
}

func (h *HNSW) setNeighbourhood(e int32, currentLayer int, connections *heap.PriorityQueue) {
	if currentLayer == 0 {
		h.bottomNeighbors[e] = connections
	} else {
		h.upperNeighbors[currentLayer-1][e] = connections
	}
}

func (h *HNSW) getNeighbourhood(e int32, currentLayer int) *heap.PriorityQueue {
	if currentLayer == 0 {
		return h.bottomNeighbors[e]
	}
	return h.upperNeighbors[currentLayer-1][e]
}

func (h *HNSW) selectNeighbors(candidates *heap.PriorityQueue, m int) *heap.PriorityQueue {
	pq := candidates.Reverse()
	for pq.Len() > m {
		pq.Pop()
	}
	return pq.Reverse()
}

func (h *HNSW) distance(q []float32, points []int32) *heap.PriorityQueue {
	pq := heap.NewPriorityQueue(false)
	for _, point := range points {
		pq.Push(point, h.distanceFunc(h.vectors[point], q))
	}
	return pq
}

// efSearchValue returns the efSearch value to use, given the current number of elements desired.
func (h *HNSW) efSearchValue(n int) int {
	if h.ef > 0 {
		return mathutil.Max(h.ef, n)
	}
	return mathutil.Max(h.efConstruction, n)
}
