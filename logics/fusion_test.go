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

package logics

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuse(t *testing.T) {
	cf := map[string]float32{"i1": 1, "i2": 0.5, "i3": 0}
	embedding := map[string]float32{"i2": 1, "i4": 0.9}
	ranked := Fuse(cf, embedding, DefaultWeights(), 10)
	assert.Len(t, ranked, 4)
	for i, expected := range []struct {
		itemId string
		cf     float32
		emb    float32
		fused  float32
	}{
		{"i2", 0.5, 1, 0.7},
		{"i1", 1, 0, 0.6},
		{"i4", 0, 0.9, 0.36},
		{"i3", 0, 0, 0},
	} {
		assert.Equal(t, expected.itemId, ranked[i].ItemId)
		assert.Equal(t, expected.cf, ranked[i].CFScore)
		assert.Equal(t, expected.emb, ranked[i].EmbeddingScore)
		assert.InDelta(t, expected.fused, ranked[i].FusedScore, 1e-6)
		assert.Equal(t, i+1, ranked[i].Rank)
	}

	ranked = Fuse(cf, embedding, DefaultWeights(), 2)
	assert.Len(t, ranked, 2)
	assert.Equal(t, "i1", ranked[1].ItemId)
}

func TestFuseEmpty(t *testing.T) {
	assert.Empty(t, Fuse(map[string]float32{}, map[string]float32{}, DefaultWeights(), 10))
	assert.Empty(t, Fuse(nil, nil, DefaultWeights(), 10))
}

func TestFuseTies(t *testing.T) {
	// equal fused scores fall back to embedding score, then item id
	cf := map[string]float32{"b": 0.4, "a": 0.4, "c": 0}
	embedding := map[string]float32{"b": 0.1, "a": 0.1, "c": 0.7}
	ranked := Fuse(cf, embedding, Weights{CF: 0.5, Embedding: 0.5}, 0)
	assert.Equal(t, []string{"c", "a", "b"}, []string{ranked[0].ItemId, ranked[1].ItemId, ranked[2].ItemId})
}

func TestFuseDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	cf := make(map[string]float32)
	embedding := make(map[string]float32)
	for i := 0; i < 200; i++ {
		// coarse scores to force many ties
		cf[fmt.Sprintf("i%d", i)] = float32(rng.Intn(3)) / 2
		embedding[fmt.Sprintf("i%d", i)] = float32(rng.Intn(3)) / 2
	}
	expected := Fuse(cf, embedding, DefaultWeights(), 50)
	for i := 0; i < 20; i++ {
		assert.Equal(t, expected, Fuse(cf, embedding, DefaultWeights(), 50))
	}
}

func TestFuseNullEmbedding(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cf := make(map[string]float32)
	embedding := make(map[string]float32)
	for i := 0; i < 100; i++ {
		cf[fmt.Sprintf("i%d", i)] = rng.Float32()
		embedding[fmt.Sprintf("i%d", i)] = rng.Float32()
	}
	for _, candidate := range Fuse(cf, embedding, Weights{CF: 1, Embedding: 0}, 0) {
		assert.Equal(t, candidate.CFScore, candidate.FusedScore)
	}
}
