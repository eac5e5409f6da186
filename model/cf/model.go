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

package cf

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	"github.com/gorse-io/cofriends/base/log"
	"github.com/gorse-io/cofriends/common/floats"
	"github.com/gorse-io/cofriends/common/heap"
	"github.com/gorse-io/cofriends/common/parallel"
	"github.com/gorse-io/cofriends/config"
	"github.com/gorse-io/cofriends/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ErrUntrained is returned by Fit when the matrix holds no positive weight. The model
// stays usable and scores every candidate zero.
var ErrUntrained = errors.New("collaborative filter is untrained")

// ALS is an implicit-feedback factorization fitted by element-wise ALS, extended with
// per-pair confidence taken from the aggregated weights. User-user cosine neighbours
// over matrix rows add a second signal to each score.
type ALS struct {
	// Hyper parameters
	nFactors       int
	nEpochs        int
	reg            float32
	initStdDev     float32
	weight         float32
	neighborWeight float32
	numNeighbors   int
	jobs           int
	seed           int64

	trainSet        *dataset.Dataset
	trained         bool
	UserPredictable *bitset.BitSet
	ItemPredictable *bitset.BitSet
	// Model parameters
	UserFactor [][]float32 // p_u
	ItemFactor [][]float32 // q_i
	neighbors  [][]heap.Elem[int32, float32]
}

// NewALS creates an eALS model.
func NewALS(cfg config.CollaborativeConfig) *ALS {
	return &ALS{
		nFactors:       cfg.NFactors,
		nEpochs:        cfg.NEpochs,
		reg:            float32(cfg.Regularization),
		initStdDev:     float32(cfg.InitStdDev),
		weight:         float32(cfg.Alpha),
		neighborWeight: float32(cfg.NeighborWeight),
		numNeighbors:   cfg.NumNeighbors,
		jobs:           max(cfg.NumJobs, 1),
		seed:           cfg.RandomSeed,
	}
}

// IsTrained returns false before Fit or after fitting an empty matrix.
func (als *ALS) IsTrained() bool {
	return als.trained
}

func (als *ALS) init(trainSet *dataset.Dataset) {
	als.trainSet = trainSet
	rng := rand.New(rand.NewSource(als.seed))
	als.UserFactor = als.normalMatrix(rng, trainSet.CountUsers())
	als.ItemFactor = als.normalMatrix(rng, trainSet.CountItems())
	// set user trained flags
	als.UserPredictable = bitset.New(uint(trainSet.CountUsers()))
	for userIndex, feedback := range trainSet.GetUserFeedback() {
		if len(feedback) > 0 {
			als.UserPredictable.Set(uint(userIndex))
		}
	}
	// set item trained flags
	als.ItemPredictable = bitset.New(uint(trainSet.CountItems()))
	for itemIndex, feedback := range trainSet.GetItemFeedback() {
		if len(feedback) > 0 {
			als.ItemPredictable.Set(uint(itemIndex))
		}
	}
}

func (als *ALS) normalMatrix(rng *rand.Rand, n int) [][]float32 {
	m := make([][]float32, n)
	for i := range m {
		m[i] = make([]float32, als.nFactors)
		for j := range m[i] {
			m[i][j] = float32(rng.NormFloat64()) * als.initStdDev
		}
	}
	return m
}

// Fit the model on a matrix snapshot. Its task complexity is O(nEpochs * nFeedback * nFactors).
func (als *ALS) Fit(ctx context.Context, trainSet *dataset.Dataset) error {
	log.Logger().Info("fit als",
		zap.Int("n_users", trainSet.CountUsers()),
		zap.Int("n_items", trainSet.CountItems()),
		zap.Int("n_feedback", trainSet.CountFeedback()),
		zap.Int("n_factors", als.nFactors),
		zap.Int("n_epochs", als.nEpochs))
	als.init(trainSet)
	als.trained = false
	if trainSet.CountFeedback() == 0 {
		return ErrUntrained
	}

	// Create temporary matrix
	s := lo.Times(als.nFactors, func(_ int) []float32 { return make([]float32, als.nFactors) })
	userPredictions := make([][]float32, als.jobs)
	itemPredictions := make([][]float32, als.jobs)
	userRes := make([][]float32, als.jobs)
	itemRes := make([][]float32, als.jobs)
	for i := 0; i < als.jobs; i++ {
		userPredictions[i] = make([]float32, trainSet.CountItems())
		itemPredictions[i] = make([]float32, trainSet.CountUsers())
		userRes[i] = make([]float32, trainSet.CountItems())
		itemRes[i] = make([]float32, trainSet.CountUsers())
	}
	userFeedback, userWeights := trainSet.GetUserFeedback(), trainSet.GetUserWeights()
	itemFeedback, itemWeights := trainSet.GetItemFeedback(), trainSet.GetItemWeights()

	for ep := 1; ep <= als.nEpochs; ep++ {
		fitStart := time.Now()
		// Update user factors
		// S^q <- \sum^N_{itemIndex=1} q_i q_i^T
		als.gram(s, als.ItemFactor, als.ItemPredictable)
		err := parallel.Parallel(ctx, trainSet.CountUsers(), als.jobs, func(workerId, userIndex int) error {
			als.updateFactor(als.UserFactor[userIndex], userFeedback[userIndex], userWeights[userIndex],
				als.ItemFactor, s, userPredictions[workerId], userRes[workerId])
			return nil
		})
		if err != nil {
			return errors.Trace(err)
		}
		// Update item factors
		// S^p <- P^T P
		als.gram(s, als.UserFactor, als.UserPredictable)
		err = parallel.Parallel(ctx, trainSet.CountItems(), als.jobs, func(workerId, itemIndex int) error {
			als.updateFactor(als.ItemFactor[itemIndex], itemFeedback[itemIndex], itemWeights[itemIndex],
				als.UserFactor, s, itemPredictions[workerId], itemRes[workerId])
			return nil
		})
		if err != nil {
			return errors.Trace(err)
		}
		log.Logger().Debug(fmt.Sprintf("fit als %v/%v", ep, als.nEpochs),
			zap.String("fit_time", time.Since(fitStart).String()))
	}

	if err := als.fitNeighbors(ctx); err != nil {
		return errors.Trace(err)
	}
	als.trained = true
	log.Logger().Info("fit als complete")
	return nil
}

func (als *ALS) gram(s, factors [][]float32, predictable *bitset.BitSet) {
	floats.MatZero(s)
	for index, factor := range factors {
		if predictable.Test(uint(index)) {
			for i := 0; i < als.nFactors; i++ {
				for j := 0; j < als.nFactors; j++ {
					s[i][j] += factor[i] * factor[j]
				}
			}
		}
	}
}

// updateFactor runs one coordinate descent sweep over a single row p given its observed
// peers, their confidences and the gram matrix s of the opposite side.
func (als *ALS) updateFactor(p []float32, feedback []int32, weights []float32, other, s [][]float32, predictions, res []float32) {
	for _, j := range feedback {
		predictions[j] = floats.Dot(p, other[j])
	}
	for f := 0; f < als.nFactors; f++ {
		// for j \in R_u do   \hat_{r}^f_{uj} <- \hat_{r}_{uj} - p_{uf}q_{jf}
		for _, j := range feedback {
			res[j] = predictions[j] - p[f]*other[j][f]
		}
		a, b, c := float32(0), float32(0), float32(0)
		for k, j := range feedback {
			w := weights[k]
			a += (w - (w-als.weight)*res[j]) * other[j][f]
			c += (w - als.weight) * other[j][f] * other[j][f]
		}
		for k := 0; k < als.nFactors; k++ {
			if k != f {
				b += als.weight * p[k] * s[k][f]
			}
		}
		p[f] = (a - b) / (c + als.weight*s[f][f] + als.reg)
		// for j \in R_u do   \hat_{r}_{uj} <- \hat_{r}^f_{uj} + p_{uf}q_{jf}
		for _, j := range feedback {
			predictions[j] = res[j] + p[f]*other[j][f]
		}
	}
}

// fitNeighbors keeps the top similar users of each user by cosine over weighted rows.
func (als *ALS) fitNeighbors(ctx context.Context) error {
	userFeedback, userWeights := als.trainSet.GetUserFeedback(), als.trainSet.GetUserWeights()
	itemFeedback, itemWeights := als.trainSet.GetItemFeedback(), als.trainSet.GetItemWeights()
	norms := make([]float32, als.trainSet.CountUsers())
	for userIndex, weights := range userWeights {
		norms[userIndex] = floats.Norm(weights)
	}
	als.neighbors = make([][]heap.Elem[int32, float32], als.trainSet.CountUsers())
	return parallel.Parallel(ctx, als.trainSet.CountUsers(), als.jobs, func(_, userIndex int) error {
		if norms[userIndex] == 0 {
			return nil
		}
		dots := make(map[int32]float32)
		for k, itemIndex := range userFeedback[userIndex] {
			for l, peer := range itemFeedback[itemIndex] {
				if int(peer) != userIndex {
					dots[peer] += userWeights[userIndex][k] * itemWeights[itemIndex][l]
				}
			}
		}
		peers := lo.Keys(dots)
		sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
		filter := heap.NewTopKFilter[int32, float32](als.numNeighbors)
		for _, peer := range peers {
			if sim := dots[peer] / (norms[userIndex] * norms[peer]); sim > 0 {
				filter.Push(peer, sim)
			}
		}
		neighbors := filter.PopAll()
		sort.SliceStable(neighbors, func(i, j int) bool {
			if neighbors[i].Weight != neighbors[j].Weight {
				return neighbors[i].Weight > neighbors[j].Weight
			}
			return neighbors[i].Value < neighbors[j].Value
		})
		als.neighbors[userIndex] = neighbors
		return nil
	})
}

func (als *ALS) predictable(userIndex int) bool {
	return als.trained && als.UserPredictable.Test(uint(userIndex))
}

// Score returns a score in [0, 1] for each candidate. Raw scores are min-max normalised
// across the known candidates of this call. Unknown items, unknown users and untrained
// models score zero.
func (als *ALS) Score(userId string, candidates []string) map[string]float32 {
	scores := make(map[string]float32, len(candidates))
	for _, itemId := range candidates {
		scores[itemId] = 0
	}
	if !als.trained {
		return scores
	}
	userIndex, ok := als.trainSet.UserIndex(userId)
	if !ok || !als.predictable(userIndex) {
		return scores
	}

	// neighbour votes
	votes := make(map[int32]float32)
	var totalSim float32
	for _, neighbor := range als.neighbors[userIndex] {
		totalSim += neighbor.Weight
		for k, itemIndex := range als.trainSet.GetUserFeedback()[neighbor.Value] {
			votes[itemIndex] += neighbor.Weight * als.trainSet.GetUserWeights()[neighbor.Value][k]
		}
	}

	raw := make(map[string]float32, len(candidates))
	for _, itemId := range candidates {
		itemIndex, ok := als.trainSet.ItemIndex(itemId)
		if !ok || !als.ItemPredictable.Test(uint(itemIndex)) {
			continue
		}
		score := floats.Dot(als.UserFactor[userIndex], als.ItemFactor[itemIndex])
		if totalSim > 0 {
			score += als.neighborWeight * votes[int32(itemIndex)] / totalSim
		}
		raw[itemId] = score
	}
	for itemId, score := range MinMax(raw) {
		scores[itemId] = score
	}
	return scores
}

// MinMax rescales scores to [0, 1]. When every score is equal, positive scores become
// one and the rest zero.
func MinMax(raw map[string]float32) map[string]float32 {
	if len(raw) == 0 {
		return raw
	}
	lower, upper := math32.Inf(1), math32.Inf(-1)
	for _, score := range raw {
		lower = min(lower, score)
		upper = max(upper, score)
	}
	normalized := make(map[string]float32, len(raw))
	for itemId, score := range raw {
		if upper > lower {
			normalized[itemId] = (score - lower) / (upper - lower)
		} else if score > 0 {
			normalized[itemId] = 1
		} else {
			normalized[itemId] = 0
		}
	}
	return normalized
}

// SimilarUsers returns up to n users ranked by positive cosine similarity.
func (als *ALS) SimilarUsers(userId string, n int) []lo.Tuple2[string, float32] {
	if !als.trained {
		return nil
	}
	userIndex, ok := als.trainSet.UserIndex(userId)
	if !ok {
		return nil
	}
	neighbors := als.neighbors[userIndex]
	if len(neighbors) > n {
		neighbors = neighbors[:n]
	}
	return lo.Map(neighbors, func(neighbor heap.Elem[int32, float32], _ int) lo.Tuple2[string, float32] {
		return lo.Tuple2[string, float32]{A: als.trainSet.UserId(int(neighbor.Value)), B: neighbor.Weight}
	})
}

// ItemSimilarity scores candidates by item-factor cosine with itemId, min-max normalised.
func (als *ALS) ItemSimilarity(itemId string, candidates []string) map[string]float32 {
	scores := make(map[string]float32, len(candidates))
	for _, candidate := range candidates {
		scores[candidate] = 0
	}
	if !als.trained {
		return scores
	}
	itemIndex, ok := als.trainSet.ItemIndex(itemId)
	if !ok || !als.ItemPredictable.Test(uint(itemIndex)) {
		return scores
	}
	raw := make(map[string]float32, len(candidates))
	for _, candidate := range candidates {
		candidateIndex, ok := als.trainSet.ItemIndex(candidate)
		if !ok || !als.ItemPredictable.Test(uint(candidateIndex)) {
			continue
		}
		raw[candidate] = floats.Cosine(als.ItemFactor[itemIndex], als.ItemFactor[candidateIndex])
	}
	for candidate, score := range MinMax(raw) {
		scores[candidate] = score
	}
	return scores
}
