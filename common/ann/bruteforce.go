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
	"github.com/gorse-io/cofriends/common/heap"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Bruteforce is a naive implementation of vector index.
type Bruteforce struct {
	distanceFunc func(a, b []float32) float32
	dimension    int
	vectors      [][]float32
}

func NewBruteforce(distanceFunc func(a, b []float32) float32) *Bruteforce {
	return &Bruteforce{distanceFunc: distanceFunc}
}

func (b *Bruteforce) Add(v []float32) (int, error) {
	if b.dimension == 0 {
		b.dimension = len(v)
	} else if b.dimension != len(v) {
		return 0, errors.Errorf("dimension mismatch: %v != %v", b.dimension, len(v))
	}
	b.vectors = append(b.vectors, v)
	return len(b.vectors) - 1, nil
}

func (b *Bruteforce) SearchVector(q []float32, k int) []lo.Tuple2[int, float32] {
	if k <= 0 || len(q) != b.dimension {
		return nil
	}
	pq := heap.NewPriorityQueue(true)
	for i, vec := range b.vectors {
		pq.Push(int32(i), b.distanceFunc(q, vec))
		if pq.Len() > k {
			pq.Pop()
		}
	}
	pq = pq.Reverse()
	scores := make([]lo.Tuple2[int, float32], 0, pq.Len())
	for pq.Len() > 0 {
		value, score := pq.Pop()
		scores = append(scores, lo.Tuple2[int, float32]{A: int(value), B: score})
	}
	return scores
}

func (b *Bruteforce) Len() int {
	return len(b.vectors)
}
