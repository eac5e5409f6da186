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
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tableEncoder maps known texts to fixed vectors.
type tableEncoder map[string][]float32

func (e tableEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	if vector, ok := e[text]; ok {
		return vector, nil
	}
	return nil, errors.New("unknown text")
}

var testEncoder = tableEncoder{
	"noodle":  {1, 0, 0},
	"ramen":   {0.9, 0.1, 0},
	"salad":   {0, 1, 0},
	"burger":  {0, 0, 1},
	"zero":    {0, 0, 0},
	"twoDims": {1, 0},
}

func TestIndex_UpsertQuery(t *testing.T) {
	for _, indexType := range []string{"bruteforce", "hnsw"} {
		t.Run(indexType, func(t *testing.T) {
			ctx := context.Background()
			idx := NewIndex(testEncoder, 3, indexType, 2, 0)
			assert.Zero(t, idx.Snapshot().Len())
			assert.Nil(t, idx.Query([]float32{1, 0, 0}, 3, nil))

			now := time.Now()
			err := idx.UpsertBatch(ctx, []Document{
				{ItemId: "i1", Text: "noodle", UpdatedAt: now},
				{ItemId: "i2", Text: "ramen", UpdatedAt: now},
				{ItemId: "i3", Text: "salad", UpdatedAt: now},
				{ItemId: "i4", Text: "burger", UpdatedAt: now},
			})
			require.NoError(t, err)
			snapshot := idx.Snapshot()
			assert.Equal(t, 4, snapshot.Len())
			assert.Equal(t, int64(1), snapshot.Version())
			assert.Equal(t, 3, snapshot.Dimension())

			results := idx.Query([]float32{1, 0, 0}, 2, nil)
			require.Len(t, results, 2)
			assert.Equal(t, "i1", results[0].A)
			assert.InDelta(t, 1, results[0].B, 1e-5)
			assert.Equal(t, "i2", results[1].A)

			results = idx.Query([]float32{1, 0, 0}, 2, mapset.NewSet("i1"))
			require.Len(t, results, 2)
			assert.Equal(t, "i2", results[0].A)

			// exclusion never pads beyond the index
			results = idx.Query([]float32{1, 0, 0}, 10, mapset.NewSet("i1", "i3"))
			assert.Len(t, results, 2)

			results, err = idx.QueryText(ctx, "salad", 1, nil)
			require.NoError(t, err)
			assert.Equal(t, "i3", results[0].A)
			_, err = idx.QueryText(ctx, "pizza", 1, nil)
			assert.Error(t, err)
		})
	}
}

func TestIndex_BatchError(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(testEncoder, 3, "bruteforce", 1, 0)
	now := time.Now()
	err := idx.UpsertBatch(ctx, []Document{
		{ItemId: "i1", Text: "noodle", UpdatedAt: now},
		{ItemId: "i2", Text: "pizza", UpdatedAt: now},
		{ItemId: "i3", Text: "zero", UpdatedAt: now},
		{ItemId: "i4", Text: "twoDims", UpdatedAt: now},
		{ItemId: "i5", Text: "salad", UpdatedAt: now},
	})
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, []string{"i2", "i3", "i4"}, []string{
		batchErr.Failures[0].ItemId, batchErr.Failures[1].ItemId, batchErr.Failures[2].ItemId,
	})
	assert.True(t, strings.HasPrefix(batchErr.Error(), "3 items failed"))
	// successes committed
	assert.Equal(t, 2, idx.Snapshot().Len())
	_, ok := idx.Snapshot().Vector("i5")
	assert.True(t, ok)

	var failure *EncodingFailure
	err = idx.Upsert(ctx, "i6", "pizza")
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "i6", failure.ItemId)
}

func TestIndex_Freshness(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(testEncoder, 3, "bruteforce", 1, 0)
	now := time.Now()
	require.NoError(t, idx.UpsertBatch(ctx, []Document{{ItemId: "i1", Text: "noodle", UpdatedAt: now}}))
	old := idx.Snapshot()

	// an older document never replaces a newer vector
	require.NoError(t, idx.UpsertBatch(ctx, []Document{{ItemId: "i1", Text: "salad", UpdatedAt: now.Add(-time.Hour)}}))
	vector, _ := idx.Snapshot().Vector("i1")
	assert.Equal(t, []float32{1, 0, 0}, vector)
	assert.Same(t, old, idx.Snapshot())

	stale := idx.Stale([]Document{
		{ItemId: "i1", UpdatedAt: now},
		{ItemId: "i1", UpdatedAt: now.Add(time.Minute)},
		{ItemId: "i2", UpdatedAt: now},
	})
	assert.Len(t, stale, 2)

	require.NoError(t, idx.Upsert(ctx, "i1", "salad"))
	vector, _ = idx.Snapshot().Vector("i1")
	assert.Equal(t, []float32{0, 1, 0}, vector)
	updatedAt, ok := idx.Snapshot().UpdatedAt("i1")
	assert.True(t, ok)
	assert.True(t, updatedAt.After(now))

	// a snapshot taken earlier is unchanged
	vector, _ = old.Vector("i1")
	assert.Equal(t, []float32{1, 0, 0}, vector)
	assert.Equal(t, int64(1), old.Version())
}

func TestIndex_ConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(testEncoder, 3, "bruteforce", 1, 0)
	require.NoError(t, idx.Upsert(ctx, "i1", "noodle"))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := idx.Snapshot()
				results := s.Query([]float32{1, 0, 0}, 1, nil)
				if assert.Len(t, results, 1) {
					vector, _ := s.Vector("i1")
					assert.InDelta(t, Similarity([]float32{1, 0, 0}, vector), results[0].B, 1e-5)
				}
			}
		}()
	}
	for j := 0; j < 50; j++ {
		text := "noodle"
		if j%2 == 0 {
			text = "salad"
		}
		require.NoError(t, idx.Upsert(ctx, "i1", text))
	}
	wg.Wait()
}

func TestSnapshot_Centroid(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(testEncoder, 3, "bruteforce", 1, 0)
	now := time.Now()
	require.NoError(t, idx.UpsertBatch(ctx, []Document{
		{ItemId: "i1", Text: "noodle", UpdatedAt: now},
		{ItemId: "i3", Text: "salad", UpdatedAt: now},
	}))
	s := idx.Snapshot()
	centroid := s.Centroid([]string{"i1", "i3", "i9"}, []float32{3, 1, 5})
	require.Len(t, centroid, 3)
	assert.Greater(t, centroid[0], centroid[1])
	assert.Nil(t, s.Centroid([]string{"i9"}, nil))
	assert.NotNil(t, s.Mean())
	assert.Nil(t, NewIndex(testEncoder, 3, "bruteforce", 1, 0).Snapshot().Mean())

	score, ok := s.Score([]float32{1, 0, 0}, "i1")
	assert.True(t, ok)
	assert.InDelta(t, 1, score, 1e-6)
	score, ok = s.Score([]float32{1, 0, 0}, "i3")
	assert.True(t, ok)
	assert.InDelta(t, 0.5, score, 1e-6)
	_, ok = s.Score([]float32{1, 0}, "i1")
	assert.False(t, ok)
}
