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

package heap

import (
	"container/heap"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
)

// PriorityQueue represents the priority queue.
type PriorityQueue struct {
	_heap[int32, float32]
	lookup mapset.Set[int32]
}

// NewPriorityQueue initializes an empty priority queue.
func NewPriorityQueue(desc bool) *PriorityQueue {
	return &PriorityQueue{
		_heap:  _heap[int32, float32]{desc: desc},
		lookup: mapset.NewThreadUnsafeSet[int32](),
	}
}

// Push inserts a new element into the queue. No action is performed on duplicate elements.
func (p *PriorityQueue) Push(v int32, weight float32) {
	if math32.IsNaN(weight) {
		panic("NaN weight is forbidden")
	} else if !p.lookup.Contains(v) {
		heap.Push(&p._heap, Elem[int32, float32]{Value: v, Weight: weight})
		p.lookup.Add(v)
	}
}

// Pop removes the element with the highest priority from the queue and returns it.
func (p *PriorityQueue) Pop() (int32, float32) {
	item := heap.Pop(&p._heap).(Elem[int32, float32])
	p.lookup.Remove(item.Value)
	return item.Value, item.Weight
}

func (p *PriorityQueue) Peek() (int32, float32) {
	return p.elems[0].Value, p.elems[0].Weight
}

func (p *PriorityQueue) Values() []int32 {
	values := make([]int32, 0, p.Len())
	for _, elem := range p.elems {
		values = append(values, elem.Value)
	}
	return values
}

func (p *PriorityQueue) Elems() []Elem[int32, float32] {
	return p.elems
}

func (p *PriorityQueue) Clone() *PriorityQueue {
	pq := NewPriorityQueue(p.desc)
	pq.elems = make([]Elem[int32, float32], p.Len())
	copy(pq.elems, p.elems)
	pq.lookup = p.lookup.Clone()
	return pq
}

// Reverse returns a copy ordered the other way round.
func (p *PriorityQueue) Reverse() *PriorityQueue {
	pq := NewPriorityQueue(!p.desc)
	pq.elems = make([]Elem[int32, float32], 0, p.Len())
	for _, elem := range p.elems {
		pq.Push(elem.Value, elem.Weight)
	}
	return pq
}
