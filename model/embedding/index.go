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

package embedding

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/cofriends/base/log"
	"github.com/gorse-io/cofriends/common/ann"
	"github.com/gorse-io/cofriends/common/floats"
	"github.com/gorse-io/cofriends/common/parallel"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Document is the text of one item at a point in time.
type Document struct {
	ItemId    string
	Text      string
	UpdatedAt time.Time
}

// EncodingFailure reports an item whose text could not be encoded.
type EncodingFailure struct {
	ItemId string
	Err    error
}

func (e *EncodingFailure) Error() string {
	return fmt.Sprintf("encode %s: %v", e.ItemId, e.Err)
}

func (e *EncodingFailure) Unwrap() error {
	return e.Err
}

// BatchError collects per-item failures of a batch upsert. Items not listed committed.
type BatchError struct {
	Failures []*EncodingFailure
}

func (e *BatchError) Error() string {
	messages := lo.Map(e.Failures, func(f *EncodingFailure, _ int) string {
		return f.Error()
	})
	return fmt.Sprintf("%d items failed: %s", len(e.Failures), strings.Join(messages, "; "))
}

// Snapshot is an immutable view of the index. Readers holding a snapshot never observe
// later upserts.
type Snapshot struct {
	version   int64
	dimension int
	items     []string
	vectors   [][]float32
	updatedAt []time.Time
	lookup    map[string]int
	index     ann.Index
}

func (s *Snapshot) Version() int64 {
	return s.version
}

func (s *Snapshot) Dimension() int {
	return s.dimension
}

func (s *Snapshot) Len() int {
	return len(s.items)
}

// Vector returns the unit vector of an item.
func (s *Snapshot) Vector(itemId string) ([]float32, bool) {
	i, ok := s.lookup[itemId]
	if !ok {
		return nil, false
	}
	return s.vectors[i], true
}

// UpdatedAt returns the freshness timestamp of an item's vector.
func (s *Snapshot) UpdatedAt(itemId string) (time.Time, bool) {
	i, ok := s.lookup[itemId]
	if !ok {
		return time.Time{}, false
	}
	return s.updatedAt[i], true
}

// Similarity maps cosine similarity into [0, 1].
func Similarity(a, b []float32) float32 {
	return (1 + floats.Cosine(a, b)) / 2
}

// Score returns the similarity between a query vector and an item.
func (s *Snapshot) Score(query []float32, itemId string) (float32, bool) {
	vector, ok := s.Vector(itemId)
	if !ok || len(query) != s.dimension {
		return 0, false
	}
	return Similarity(query, vector), true
}

// Query returns up to k items nearest to the query vector, most similar first. Items in
// exclude are skipped.
func (s *Snapshot) Query(query []float32, k int, exclude mapset.Set[string]) []lo.Tuple2[string, float32] {
	if k <= 0 || len(s.items) == 0 || len(query) != s.dimension {
		return nil
	}
	n := k
	if exclude != nil {
		n += exclude.Cardinality()
	}
	results := make([]lo.Tuple2[string, float32], 0, k)
	for _, result := range s.index.SearchVector(query, min(n, len(s.items))) {
		itemId := s.items[result.A]
		if exclude != nil && exclude.Contains(itemId) {
			continue
		}
		results = append(results, lo.Tuple2[string, float32]{A: itemId, B: 1 - result.B/2})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].B != results[j].B {
			return results[i].B > results[j].B
		}
		return results[i].A < results[j].A
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Centroid averages item vectors with the given weights. Unknown items are skipped and
// nil is returned if nothing remains.
func (s *Snapshot) Centroid(itemIds []string, weights []float32) []float32 {
	centroid := make([]float32, s.dimension)
	found := false
	for i, itemId := range itemIds {
		vector, ok := s.Vector(itemId)
		if !ok {
			continue
		}
		w := float32(1)
		if weights != nil {
			w = weights[i]
		}
		floats.MulConstAdd(vector, w, centroid)
		found = true
	}
	if !found || !floats.Normalize(centroid) {
		return nil
	}
	return centroid
}

// Mean returns the normalised mean of every vector, or nil for an empty snapshot.
func (s *Snapshot) Mean() []float32 {
	return s.Centroid(s.items, nil)
}

// Index keeps item vectors behind an atomically swapped snapshot. Upserts copy the
// current snapshot, so writers are serialised and readers never block.
type Index struct {
	encoder   Encoder
	dimension int
	indexType string
	jobs      int
	seed      int64
	mu        sync.Mutex
	snapshot  atomic.Pointer[Snapshot]
}

// NewIndex creates an empty index of "bruteforce" or "hnsw" type.
func NewIndex(encoder Encoder, dimension int, indexType string, jobs int, seed int64) *Index {
	idx := &Index{
		encoder:   encoder,
		dimension: dimension,
		indexType: indexType,
		jobs:      max(jobs, 1),
		seed:      seed,
	}
	idx.snapshot.Store(idx.build(0, nil, nil, nil))
	return idx
}

// Snapshot returns the current snapshot.
func (idx *Index) Snapshot() *Snapshot {
	return idx.snapshot.Load()
}

func (idx *Index) newANN() ann.Index {
	if idx.indexType == "hnsw" {
		return ann.NewHNSW(floats.CosineDistance, idx.seed)
	}
	return ann.NewBruteforce(floats.CosineDistance)
}

func (idx *Index) build(version int64, items []string, vectors [][]float32, updatedAt []time.Time) *Snapshot {
	s := &Snapshot{
		version:   version,
		dimension: idx.dimension,
		items:     items,
		vectors:   vectors,
		updatedAt: updatedAt,
		lookup:    make(map[string]int, len(items)),
		index:     idx.newANN(),
	}
	for i, itemId := range items {
		s.lookup[itemId] = i
		_, _ = s.index.Add(vectors[i])
	}
	return s
}

// Upsert encodes one item and replaces its vector.
func (idx *Index) Upsert(ctx context.Context, itemId, text string) error {
	err := idx.UpsertBatch(ctx, []Document{{ItemId: itemId, Text: text, UpdatedAt: time.Now()}})
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Failures[0]
	}
	return err
}

// UpsertBatch encodes documents and commits every success in one new snapshot. Failed
// items are reported in a *BatchError. A document older than the stored vector is
// ignored.
func (idx *Index) UpsertBatch(ctx context.Context, documents []Document) error {
	if len(documents) == 0 {
		return nil
	}
	vectors := make([][]float32, len(documents))
	failures := make([]*EncodingFailure, len(documents))
	err := parallel.Parallel(ctx, len(documents), idx.jobs, func(_, i int) error {
		vector, err := idx.encoder.Encode(ctx, documents[i].Text)
		if err == nil && len(vector) != idx.dimension {
			err = errors.NotValidf("dimension %d, expected %d", len(vector), idx.dimension)
		}
		if err == nil {
			vector = append([]float32{}, vector...)
		}
		if err == nil && !floats.Normalize(vector) {
			err = errors.NotValidf("zero vector")
		}
		if err != nil {
			failures[i] = &EncodingFailure{ItemId: documents[i].ItemId, Err: err}
			return nil
		}
		vectors[i] = vector
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	current := idx.snapshot.Load()
	items := append([]string{}, current.items...)
	newVectors := append([][]float32{}, current.vectors...)
	updatedAt := append([]time.Time{}, current.updatedAt...)
	lookup := make(map[string]int, len(current.lookup))
	for k, v := range current.lookup {
		lookup[k] = v
	}
	changed := 0
	for i, document := range documents {
		if vectors[i] == nil {
			continue
		}
		if j, exist := lookup[document.ItemId]; exist {
			if updatedAt[j].After(document.UpdatedAt) {
				continue
			}
			newVectors[j] = vectors[i]
			updatedAt[j] = document.UpdatedAt
		} else {
			lookup[document.ItemId] = len(items)
			items = append(items, document.ItemId)
			newVectors = append(newVectors, vectors[i])
			updatedAt = append(updatedAt, document.UpdatedAt)
		}
		changed++
	}
	if changed > 0 {
		idx.snapshot.Store(idx.build(current.version+1, items, newVectors, updatedAt))
	}

	failed := lo.Compact(failures)
	for _, failure := range failed {
		log.Logger().Warn("failed to encode item", zap.String("item_id", failure.ItemId), zap.Error(failure.Err))
	}
	if len(failed) > 0 {
		return &BatchError{Failures: failed}
	}
	return nil
}

// Stale returns documents newer than their stored vector, or not stored at all.
func (idx *Index) Stale(documents []Document) []Document {
	current := idx.Snapshot()
	return lo.Filter(documents, func(document Document, _ int) bool {
		updatedAt, ok := current.UpdatedAt(document.ItemId)
		return !ok || document.UpdatedAt.After(updatedAt)
	})
}

// Query searches the current snapshot with a vector.
func (idx *Index) Query(query []float32, k int, exclude mapset.Set[string]) []lo.Tuple2[string, float32] {
	return idx.Snapshot().Query(query, k, exclude)
}

// QueryText encodes text and searches the current snapshot.
func (idx *Index) QueryText(ctx context.Context, text string, k int, exclude mapset.Set[string]) ([]lo.Tuple2[string, float32], error) {
	vector, err := idx.Encode(ctx, text)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return idx.Query(vector, k, exclude), nil
}

// Encode encodes text into a unit vector of the index dimension.
func (idx *Index) Encode(ctx context.Context, text string) ([]float32, error) {
	vector, err := idx.encoder.Encode(ctx, text)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(vector) != idx.dimension {
		return nil, errors.NotValidf("dimension %d, expected %d", len(vector), idx.dimension)
	}
	vector = append([]float32{}, vector...)
	if !floats.Normalize(vector) {
		return nil, errors.NotValidf("zero vector")
	}
	return vector, nil
}
