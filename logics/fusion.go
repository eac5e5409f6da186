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
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Weights of the collaborative and embedding scores in the fused score.
type Weights struct {
	CF        float32 `json:"cf"`
	Embedding float32 `json:"embedding"`
}

func DefaultWeights() Weights {
	return Weights{CF: 0.6, Embedding: 0.4}
}

type RankedCandidate struct {
	ItemId         string  `json:"item_id"`
	CFScore        float32 `json:"collaborative_score"`
	EmbeddingScore float32 `json:"embedding_score"`
	FusedScore     float32 `json:"fused_score"`
	Rank           int     `json:"rank"`
}

// Fuse ranks the union of both score maps by the weighted sum, missing scores counting
// as zero. Ties are broken by embedding score descending then item id ascending, so the
// order depends only on the inputs. At most n candidates are returned; n <= 0 returns
// all of them.
func Fuse(cf, embedding map[string]float32, weights Weights, n int) []RankedCandidate {
	itemIds := mapset.NewThreadUnsafeSetWithSize[string](len(cf) + len(embedding))
	for itemId := range cf {
		itemIds.Add(itemId)
	}
	for itemId := range embedding {
		itemIds.Add(itemId)
	}
	candidates := make([]RankedCandidate, 0, itemIds.Cardinality())
	for _, itemId := range itemIds.ToSlice() {
		candidate := RankedCandidate{
			ItemId:         itemId,
			CFScore:        cf[itemId],
			EmbeddingScore: embedding[itemId],
		}
		candidate.FusedScore = weights.CF*candidate.CFScore + weights.Embedding*candidate.EmbeddingScore
		candidates = append(candidates, candidate)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if a.EmbeddingScore != b.EmbeddingScore {
			return a.EmbeddingScore > b.EmbeddingScore
		}
		return a.ItemId < b.ItemId
	})
	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates
}
