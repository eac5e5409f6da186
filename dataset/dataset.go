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

package dataset

import (
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/cofriends/common/expression"
	"github.com/gorse-io/cofriends/storage/data"
	"github.com/samber/lo"
)

// Options control how raw interactions become matrix weights.
type Options struct {
	PositiveSignals []expression.SignalExpression
	// SignalWeights multiply interaction weights per signal. Missing signals weigh one.
	SignalWeights map[string]float64
	// WeightCap bounds the summed weight of one (user, item) pair. Zero disables the cap.
	WeightCap float64
}

// Dataset is the user-item matrix derived from an interaction snapshot. It is immutable
// once built and shared by every reader of a generation.
type Dataset struct {
	timestamp    time.Time
	interactions int
	items        []data.Item
	userDict     *FreqDict
	itemDict     *FreqDict
	userFeedback [][]int32
	userWeights  [][]float32
	itemFeedback [][]int32
	itemWeights  [][]float32
	comments     [][]string
	categories   mapset.Set[string]
}

// Build aggregates interactions into weights. Users and items are indexed in lexical
// order so that identical snapshots give identical matrices.
func Build(timestamp time.Time, interactions []data.Interaction, items []data.Item, opts Options) *Dataset {
	userIds := mapset.NewThreadUnsafeSet[string]()
	itemIds := mapset.NewThreadUnsafeSet[string]()
	for _, interaction := range interactions {
		userIds.Add(interaction.UserId)
		itemIds.Add(interaction.ItemId)
	}
	for _, item := range items {
		itemIds.Add(item.ItemId)
	}

	d := &Dataset{
		timestamp:    timestamp,
		interactions: len(interactions),
		userDict:     NewFreqDict(),
		itemDict:     NewFreqDict(),
		categories:   mapset.NewThreadUnsafeSet[string](),
	}
	for _, userId := range sortedSlice(userIds) {
		d.userDict.NotCount(userId)
	}
	catalog := lo.SliceToMap(items, func(item data.Item) (string, data.Item) {
		return item.ItemId, item
	})
	for _, itemId := range sortedSlice(itemIds) {
		d.itemDict.NotCount(itemId)
		item, ok := catalog[itemId]
		if !ok {
			item = data.Item{ItemId: itemId}
		}
		if item.Categories == nil {
			item.Categories = []string{}
		}
		d.items = append(d.items, item)
		d.categories.Append(item.Categories...)
	}

	// aggregate weights per pair
	type pair struct{ user, item int }
	weights := make(map[pair]float64)
	d.comments = make([][]string, len(d.items))
	for _, interaction := range interactions {
		userIndex, _ := d.userDict.Lookup(interaction.UserId)
		itemIndex, _ := d.itemDict.Lookup(interaction.ItemId)
		if interaction.Comment != "" {
			d.comments[itemIndex] = append(d.comments[itemIndex], interaction.Comment)
		}
		if !expression.MatchSignalExpressions(opts.PositiveSignals, interaction.Signal, interaction.Weight) {
			continue
		}
		multiplier, ok := opts.SignalWeights[interaction.Signal]
		if !ok {
			multiplier = 1
		}
		key := pair{userIndex, itemIndex}
		weights[key] += interaction.Weight * multiplier
		if opts.WeightCap > 0 {
			weights[key] = min(weights[key], opts.WeightCap)
		}
	}

	d.userFeedback = make([][]int32, d.userDict.Count())
	d.userWeights = make([][]float32, d.userDict.Count())
	d.itemFeedback = make([][]int32, d.itemDict.Count())
	d.itemWeights = make([][]float32, d.itemDict.Count())
	pairs := lo.Filter(lo.Keys(weights), func(p pair, _ int) bool {
		return weights[p] > 0
	})
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].user != pairs[j].user {
			return pairs[i].user < pairs[j].user
		}
		return pairs[i].item < pairs[j].item
	})
	for _, p := range pairs {
		w := float32(weights[p])
		d.userFeedback[p.user] = append(d.userFeedback[p.user], int32(p.item))
		d.userWeights[p.user] = append(d.userWeights[p.user], w)
		d.itemFeedback[p.item] = append(d.itemFeedback[p.item], int32(p.user))
		d.itemWeights[p.item] = append(d.itemWeights[p.item], w)
		d.userDict.Id(d.UserId(p.user))
		d.itemDict.Id(d.items[p.item].ItemId)
	}
	return d
}

func sortedSlice(s mapset.Set[string]) []string {
	values := s.ToSlice()
	sort.Strings(values)
	return values
}

func (d *Dataset) GetTimestamp() time.Time {
	return d.timestamp
}

func (d *Dataset) CountUsers() int {
	return d.userDict.Count()
}

func (d *Dataset) CountItems() int {
	return d.itemDict.Count()
}

// CountInteractions returns the number of raw records the dataset was built from.
func (d *Dataset) CountInteractions() int {
	return d.interactions
}

// CountFeedback returns the number of (user, item) pairs with positive weight.
func (d *Dataset) CountFeedback() int {
	n := 0
	for _, row := range d.userFeedback {
		n += len(row)
	}
	return n
}

func (d *Dataset) UserIndex(userId string) (int, bool) {
	return d.userDict.Lookup(userId)
}

func (d *Dataset) ItemIndex(itemId string) (int, bool) {
	return d.itemDict.Lookup(itemId)
}

func (d *Dataset) UserId(index int) string {
	s, _ := d.userDict.String(index)
	return s
}

func (d *Dataset) ItemId(index int) string {
	s, _ := d.itemDict.String(index)
	return s
}

// GetItems returns items by index. Items seen only in interactions carry just an id.
func (d *Dataset) GetItems() []data.Item {
	return d.items
}

func (d *Dataset) GetItem(itemId string) (data.Item, bool) {
	index, ok := d.itemDict.Lookup(itemId)
	if !ok {
		return data.Item{}, false
	}
	return d.items[index], true
}

func (d *Dataset) GetUserFeedback() [][]int32 {
	return d.userFeedback
}

func (d *Dataset) GetUserWeights() [][]float32 {
	return d.userWeights
}

func (d *Dataset) GetItemFeedback() [][]int32 {
	return d.itemFeedback
}

func (d *Dataset) GetItemWeights() [][]float32 {
	return d.itemWeights
}

// GetComments returns comments left on an item, oldest first.
func (d *Dataset) GetComments(itemIndex int) []string {
	if itemIndex < 0 || itemIndex >= len(d.comments) {
		return nil
	}
	return d.comments[itemIndex]
}

func (d *Dataset) GetCategories() []string {
	return sortedSlice(d.categories)
}

// GetPopularity returns the summed weight per item.
func (d *Dataset) GetPopularity() []float32 {
	popularity := make([]float32, len(d.itemWeights))
	for i, weights := range d.itemWeights {
		for _, w := range weights {
			popularity[i] += w
		}
	}
	return popularity
}

// UserItems returns the set of items the user has positive weight on.
func (d *Dataset) UserItems(userId string) mapset.Set[string] {
	result := mapset.NewThreadUnsafeSet[string]()
	if index, ok := d.userDict.Lookup(userId); ok {
		for _, itemIndex := range d.userFeedback[index] {
			result.Add(d.items[itemIndex].ItemId)
		}
	}
	return result
}

// UserHistory returns the user's items ordered by weight descending then item id.
func (d *Dataset) UserHistory(userId string) []lo.Tuple2[string, float32] {
	index, ok := d.userDict.Lookup(userId)
	if !ok {
		return nil
	}
	history := make([]lo.Tuple2[string, float32], len(d.userFeedback[index]))
	for i, itemIndex := range d.userFeedback[index] {
		history[i] = lo.Tuple2[string, float32]{A: d.items[itemIndex].ItemId, B: d.userWeights[index][i]}
	}
	sort.SliceStable(history, func(i, j int) bool {
		if history[i].B != history[j].B {
			return history[i].B > history[j].B
		}
		return history[i].A < history[j].A
	})
	return history
}
