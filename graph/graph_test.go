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

package graph

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vote(user, item string) Edge {
	return Edge{
		Source:     User(user),
		Target:     Item(item),
		Relation:   Voted,
		Properties: map[string]string{PropertyAction: "vote"},
		Timestamp:  time.Date(2026, 4, 8, 12, 0, 0, 0, time.UTC),
	}
}

func serves(item, category string) Edge {
	return Edge{Source: Item(item), Target: Category(category), Relation: Serves}
}

func newTestGraph(t *testing.T) *Graph {
	g := NewGraph()
	for _, edge := range []Edge{
		vote("u1", "i1"), vote("u1", "i2"), vote("u2", "i1"), vote("u2", "i3"),
		serves("i1", "noodle"), serves("i3", "noodle"),
	} {
		require.NoError(t, g.UpsertEdge(edge))
	}
	return g
}

func TestGraph_UpsertEdgeIdempotent(t *testing.T) {
	g := newTestGraph(t)
	assert.Equal(t, 6, g.CountEdges())
	assert.Equal(t, 1, g.CountEdgesBetween(User("u1"), Item("i1"), Voted))

	// same logical edge, newer timestamp
	edge := vote("u1", "i1")
	edge.Timestamp = edge.Timestamp.Add(time.Hour)
	require.NoError(t, g.UpsertEdge(edge))
	require.NoError(t, g.UpsertEdge(edge))
	assert.Equal(t, 6, g.CountEdges())
	assert.Equal(t, 1, g.CountEdgesBetween(User("u1"), Item("i1"), Voted))

	// a different action is a different edge
	comment := vote("u1", "i1")
	comment.Properties[PropertyAction] = "comment"
	require.NoError(t, g.UpsertEdge(comment))
	assert.Equal(t, 7, g.CountEdges())
	assert.Equal(t, 2, g.CountEdgesBetween(User("u1"), Item("i1"), Voted))
	assert.Zero(t, g.CountEdgesBetween(Item("i1"), User("u1"), Voted))
}

func TestGraph_Invalid(t *testing.T) {
	g := NewGraph()
	assert.Error(t, g.UpsertEdge(Edge{Source: User(""), Target: Item("i1"), Relation: Voted}))
	assert.Error(t, g.UpsertEdge(Edge{Source: User("u1"), Target: Item("i1"), Relation: "hates"}))
	assert.Error(t, g.UpsertEdge(Edge{Source: EntityId{Kind: "place", Id: "p1"}, Target: Item("i1"), Relation: Voted}))
	assert.Error(t, g.UpsertEntity(Entity{EntityId: Item("")}))
	assert.Zero(t, g.CountEdges())
	assert.Zero(t, g.CountNodes())
}

func TestEdge_Key(t *testing.T) {
	edge := vote("u1", "i1")
	assert.Equal(t, "user:u1-[voted:vote]->item:i1", edge.Key())
	// properties other than the action do not change the key
	edge.Properties["score"] = "0.50"
	edge.Timestamp = edge.Timestamp.Add(time.Hour)
	assert.Equal(t, vote("u1", "i1").Key(), edge.Key())
	assert.NotEqual(t, edge.Key(), Edge{Source: User("u1"), Target: Item("i1"), Relation: Voted}.Key())
	assert.NoError(t, ValidateEdge(edge))
	assert.Error(t, ValidateEdge(Edge{Source: User("u1"), Target: Item("i1"), Relation: "hates"}))
}

func TestGraph_Entities(t *testing.T) {
	g := newTestGraph(t)
	assert.Equal(t, 6, g.CountNodes())
	entity, ok := g.GetEntity(Item("i1"))
	assert.True(t, ok)
	assert.Equal(t, "i1", entity.DisplayName())
	require.NoError(t, g.UpsertEntity(Entity{EntityId: Item("i1"), Name: "Noodle Bar"}))
	entity, _ = g.GetEntity(Item("i1"))
	assert.Equal(t, "Noodle Bar", entity.DisplayName())
	assert.Equal(t, 6, g.CountNodes())

	nodes, edges := g.Stats()
	assert.Equal(t, map[Kind]int{KindUser: 2, KindItem: 3, KindCategory: 1}, nodes)
	assert.Equal(t, map[Relation]int{Voted: 4, Serves: 2}, edges)
}

func TestGraph_Context(t *testing.T) {
	g := newTestGraph(t)
	s := g.Context(User("u1"), Item("i3"), 2, 50)
	assert.False(t, s.Truncated)
	assert.NoError(t, s.Err())
	// depth 1: i1, i2 from u1; u2, noodle from i3
	for _, id := range []EntityId{User("u1"), Item("i3"), Item("i1"), Item("i2"), User("u2"), Category("noodle")} {
		assert.True(t, s.Contains(id), id)
	}
	assert.Len(t, s.Nodes, 6)
	assert.Len(t, s.Edges, 6)
	assert.Equal(t, g.Context(User("u1"), Item("i3"), 2, 50), s)

	// depth 1 keeps only direct neighbours, and edges among them
	s = g.Context(User("u1"), Item("i3"), 1, 50)
	assert.Len(t, s.Nodes, 6)
	s = g.Context(User("u1"), Item("i2"), 1, 50)
	assert.False(t, s.Contains(User("u2")))
	s = g.Context(User("u1"), Item("i2"), 0, 50)
	assert.Len(t, s.Nodes, 2)
	assert.Len(t, s.Edges, 1)

	// unknown endpoints
	s = g.Context(User("u9"), Item("i9"), 2, 50)
	assert.Len(t, s.Nodes, 2)
	assert.Empty(t, s.Edges)
}

func TestGraph_ContextTruncated(t *testing.T) {
	g := NewGraph()
	for i := 0; i < 100; i++ {
		require.NoError(t, g.UpsertEdge(vote(fmt.Sprintf("u%d", i), "i1")))
	}
	s := g.Context(User("u0"), Item("i1"), 2, 10)
	assert.True(t, s.Truncated)
	assert.ErrorIs(t, s.Err(), ErrContextTooLarge)
	assert.Len(t, s.Nodes, 10)
	for _, edge := range s.Edges {
		assert.True(t, s.Contains(edge.Source))
		assert.True(t, s.Contains(edge.Target))
	}
	// depth above the bound is clamped
	assert.Equal(t, g.Context(User("u0"), Item("i1"), 2, 1000), g.Context(User("u0"), Item("i1"), 5, 1000))
}

func TestGraph_ContextHash(t *testing.T) {
	a := newTestGraph(t)
	b := NewGraph()
	// same content inserted in another order
	for _, edge := range []Edge{
		serves("i3", "noodle"), vote("u2", "i3"), serves("i1", "noodle"),
		vote("u2", "i1"), vote("u1", "i2"), vote("u1", "i1"),
	} {
		require.NoError(t, b.UpsertEdge(edge))
	}
	assert.Equal(t, a.Context(User("u1"), Item("i3"), 2, 50).Hash, b.Context(User("u1"), Item("i3"), 2, 50).Hash)

	before := a.Context(User("u1"), Item("i3"), 2, 50).Hash
	require.NoError(t, a.UpsertEdge(vote("u1", "i1")))
	assert.Equal(t, before, a.Context(User("u1"), Item("i3"), 2, 50).Hash)
	require.NoError(t, a.UpsertEdge(serves("i2", "noodle")))
	assert.NotEqual(t, before, a.Context(User("u1"), Item("i3"), 2, 50).Hash)
}

func TestGraph_Retain(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.UpsertEdge(Edge{Source: User("u1"), Target: User("u2"), Relation: SimilarTo}))
	require.NoError(t, g.UpsertEdge(Edge{Source: User("u2"), Target: User("u1"), Relation: SimilarTo}))
	dropped := g.Retain(SimilarTo, func(e Edge) bool {
		return e.Source == User("u2")
	})
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 7, g.CountEdges())
	assert.Zero(t, g.CountEdgesBetween(User("u1"), User("u2"), SimilarTo))
	assert.Equal(t, 1, g.CountEdgesBetween(User("u2"), User("u1"), SimilarTo))
	// index still works after compaction
	require.NoError(t, g.UpsertEdge(vote("u1", "i1")))
	assert.Equal(t, 7, g.CountEdges())
}

func TestGraph_Concurrent(t *testing.T) {
	g := newTestGraph(t)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = g.UpsertEdge(vote(fmt.Sprintf("w%d", i), fmt.Sprintf("i%d", j%5)))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = g.Context(User("u1"), Item("i3"), 2, 20)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 6+4*5, g.CountEdges())
}
