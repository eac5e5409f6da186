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
	"testing"
	"time"

	"github.com/gorse-io/cofriends/common/expression"
	"github.com/gorse-io/cofriends/storage/data"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

var testOptions = Options{
	PositiveSignals: []expression.SignalExpression{
		expression.MustParseSignalExpression("vote"),
		expression.MustParseSignalExpression("comment"),
		expression.MustParseSignalExpression("rating>=3"),
	},
	SignalWeights: map[string]float64{"vote": 1, "comment": 0.5},
	WeightCap:     3,
}

func newInteraction(userId, itemId, signal string, weight float64) data.Interaction {
	return data.Interaction{
		InteractionKey: data.InteractionKey{UserId: userId, ItemId: itemId, Signal: signal},
		Weight:         weight,
		Timestamp:      time.Date(2026, 4, 8, 12, 0, 0, 0, time.UTC),
	}
}

func TestBuild(t *testing.T) {
	comment := newInteraction("u1", "i1", data.SignalComment, 1)
	comment.Comment = "great broth"
	interactions := []data.Interaction{
		newInteraction("u2", "i3", data.SignalVote, 1),
		newInteraction("u1", "i1", data.SignalVote, 1),
		comment,
		newInteraction("u1", "i2", data.SignalVote, 1),
		newInteraction("u2", "i1", data.SignalVote, 1),
		newInteraction("u1", "i2", data.SignalRating, 5),
		newInteraction("u3", "i2", data.SignalRating, 2),
		newInteraction("u3", "i1", data.SignalVote, 0),
	}
	items := []data.Item{
		{ItemId: "i1", Name: "Noodle Bar", Categories: []string{"noodle", "korean"}},
		{ItemId: "i4", Name: "Green Bowl", Categories: []string{"salad"}},
	}
	d := Build(time.Unix(0, 0), interactions, items, testOptions)

	assert.Equal(t, 3, d.CountUsers())
	assert.Equal(t, 4, d.CountItems())
	assert.Equal(t, 8, d.CountInteractions())
	assert.Equal(t, 4, d.CountFeedback())
	assert.Equal(t, []string{"korean", "noodle", "salad"}, d.GetCategories())

	// indices are lexical
	assert.Equal(t, "u1", d.UserId(0))
	assert.Equal(t, "i4", d.ItemId(3))
	index, ok := d.ItemIndex("i3")
	assert.True(t, ok)
	assert.Equal(t, 2, index)
	_, ok = d.UserIndex("u9")
	assert.False(t, ok)

	// u1: i1 = vote 1 + comment 0.5, i2 = vote 1 + rating 5 capped at 3
	assert.Equal(t, []int32{0, 1}, d.GetUserFeedback()[0])
	assert.Equal(t, []float32{1.5, 3}, d.GetUserWeights()[0])
	assert.Equal(t, []int32{0, 1}, d.GetItemFeedback()[0])
	// low ratings and zero weights contribute nothing
	assert.Empty(t, d.GetUserFeedback()[2])
	assert.Empty(t, d.GetItemFeedback()[3])

	item, ok := d.GetItem("i3")
	assert.True(t, ok)
	assert.Equal(t, data.Item{ItemId: "i3", Categories: []string{}}, item)
	item, ok = d.GetItem("i1")
	assert.True(t, ok)
	assert.Equal(t, "Noodle Bar", item.Name)
	assert.Equal(t, []string{"great broth"}, d.GetComments(0))
	assert.Nil(t, d.GetComments(9))

	assert.Equal(t, []float32{2.5, 3, 1, 0}, d.GetPopularity())
	assert.ElementsMatch(t, []string{"i1", "i2"}, d.UserItems("u1").ToSlice())
	assert.Zero(t, d.UserItems("u9").Cardinality())
	assert.Equal(t, []lo.Tuple2[string, float32]{{A: "i2", B: 3}, {A: "i1", B: 1.5}}, d.UserHistory("u1"))
	assert.Nil(t, d.UserHistory("u9"))
}

func TestBuildDeterministic(t *testing.T) {
	interactions := []data.Interaction{
		newInteraction("u1", "i1", data.SignalVote, 1),
		newInteraction("u2", "i3", data.SignalVote, 1),
		newInteraction("u2", "i1", data.SignalVote, 1),
		newInteraction("u1", "i2", data.SignalVote, 1),
	}
	a := Build(time.Unix(0, 0), interactions, nil, testOptions)
	reversed := make([]data.Interaction, len(interactions))
	for i := range interactions {
		reversed[len(interactions)-1-i] = interactions[i]
	}
	b := Build(time.Unix(0, 0), reversed, nil, testOptions)
	assert.Equal(t, a.GetUserFeedback(), b.GetUserFeedback())
	assert.Equal(t, a.GetItemFeedback(), b.GetItemFeedback())
	assert.Equal(t, a.GetItems(), b.GetItems())
}

func TestBuildEmpty(t *testing.T) {
	d := Build(time.Unix(0, 0), nil, nil, testOptions)
	assert.Zero(t, d.CountUsers())
	assert.Zero(t, d.CountItems())
	assert.Zero(t, d.CountFeedback())
	assert.Empty(t, d.GetPopularity())
}
