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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// MaxDepth bounds context queries.
const MaxDepth = 2

// ErrContextTooLarge marks a context that hit the node cap. The subgraph is truncated
// and flagged instead of failing.
var ErrContextTooLarge = errors.New("context exceeds node cap")

type Kind string

const (
	KindUser     Kind = "user"
	KindItem     Kind = "item"
	KindCategory Kind = "category"
)

type Relation string

const (
	Voted     Relation = "voted"
	Serves    Relation = "serves"
	SimilarTo Relation = "similar_to"
)

// PropertyAction distinguishes parallel edges of the same relation, e.g. a vote and a
// comment from the same user on the same item.
const PropertyAction = "action"

// EntityId is the stable key of an entity in the graph.
type EntityId struct {
	Kind Kind   `json:"kind"`
	Id   string `json:"id"`
}

func User(id string) EntityId {
	return EntityId{Kind: KindUser, Id: id}
}

func Item(id string) EntityId {
	return EntityId{Kind: KindItem, Id: id}
}

func Category(id string) EntityId {
	return EntityId{Kind: KindCategory, Id: id}
}

func (e EntityId) String() string {
	return string(e.Kind) + ":" + e.Id
}

// Entity carries display attributes only. The graph is not their system of record.
type Entity struct {
	EntityId
	Name string `json:"name,omitempty"`
}

// DisplayName returns the name, or the id if no name is known.
func (e Entity) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Id
}

type Edge struct {
	Source     EntityId          `json:"source"`
	Target     EntityId          `json:"target"`
	Relation   Relation          `json:"relation"`
	Properties map[string]string `json:"properties,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

func (e Edge) String() string {
	keys := lo.Keys(e.Properties)
	sort.Strings(keys)
	properties := lo.Map(keys, func(k string, _ int) string {
		return k + "=" + e.Properties[k]
	})
	return fmt.Sprintf("%v-[%s{%s}]->%v", e.Source, e.Relation, strings.Join(properties, ","), e.Target)
}

type edgeKey struct {
	source   EntityId
	target   EntityId
	relation Relation
	action   string
}

func (e Edge) key() edgeKey {
	return edgeKey{source: e.Source, target: e.Target, relation: e.Relation, action: e.Properties[PropertyAction]}
}

// Key identifies the logical edge. Edges with the same key are the same edge.
func (e Edge) Key() string {
	return fmt.Sprintf("%v-[%s:%s]->%v", e.Source, e.Relation, e.Properties[PropertyAction], e.Target)
}

// Graph is an arena of entities and edges with an adjacency index by entity and
// relation. Nodes never point at each other directly. It is safe for concurrent use.
type Graph struct {
	mu        sync.RWMutex
	entities  map[EntityId]Entity
	edges     []Edge
	edgeIndex map[edgeKey]int
	adjacency map[EntityId]map[Relation][]int
}

func NewGraph() *Graph {
	return &Graph{
		entities:  make(map[EntityId]Entity),
		edgeIndex: make(map[edgeKey]int),
		adjacency: make(map[EntityId]map[Relation][]int),
	}
}

func validEntity(e EntityId) bool {
	switch e.Kind {
	case KindUser, KindItem, KindCategory:
		return e.Id != ""
	default:
		return false
	}
}

// UpsertEntity inserts an entity or updates its display name.
func (g *Graph) UpsertEntity(entity Entity) error {
	if !validEntity(entity.EntityId) {
		return errors.NotValidf("entity %v", entity.EntityId)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities[entity.EntityId] = entity
	return nil
}

// ValidateEdge checks the endpoints and the relation of an edge.
func ValidateEdge(edge Edge) error {
	if !validEntity(edge.Source) || !validEntity(edge.Target) {
		return errors.NotValidf("edge %v", edge)
	}
	switch edge.Relation {
	case Voted, Serves, SimilarTo:
		return nil
	default:
		return errors.NotValidf("relation %s", edge.Relation)
	}
}

// UpsertEdge inserts an edge keyed by (source, target, relation, action). Upserting the
// same logical edge again overwrites its properties and timestamp. Missing endpoints
// are created.
func (g *Graph) UpsertEdge(edge Edge) error {
	if err := ValidateEdge(edge); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, endpoint := range []EntityId{edge.Source, edge.Target} {
		if _, exist := g.entities[endpoint]; !exist {
			g.entities[endpoint] = Entity{EntityId: endpoint}
		}
	}
	key := edge.key()
	if i, exist := g.edgeIndex[key]; exist {
		g.edges[i] = edge
		return nil
	}
	i := len(g.edges)
	g.edges = append(g.edges, edge)
	g.edgeIndex[key] = i
	g.link(edge.Source, edge.Relation, i)
	if edge.Target != edge.Source {
		g.link(edge.Target, edge.Relation, i)
	}
	return nil
}

func (g *Graph) link(e EntityId, relation Relation, i int) {
	relations, ok := g.adjacency[e]
	if !ok {
		relations = make(map[Relation][]int)
		g.adjacency[e] = relations
	}
	relations[relation] = append(relations[relation], i)
}

// Retain drops edges of a relation for which keep returns false and returns how many
// were dropped. Entities are kept.
func (g *Graph) Retain(relation Relation, keep func(Edge) bool) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	edges := g.edges
	g.edges = nil
	g.edgeIndex = make(map[edgeKey]int, len(edges))
	g.adjacency = make(map[EntityId]map[Relation][]int, len(g.adjacency))
	dropped := 0
	for _, edge := range edges {
		if edge.Relation == relation && !keep(edge) {
			dropped++
			continue
		}
		i := len(g.edges)
		g.edges = append(g.edges, edge)
		g.edgeIndex[edge.key()] = i
		g.link(edge.Source, edge.Relation, i)
		if edge.Target != edge.Source {
			g.link(edge.Target, edge.Relation, i)
		}
	}
	return dropped
}

func (g *Graph) GetEntity(id EntityId) (Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entity, ok := g.entities[id]
	return entity, ok
}

func (g *Graph) CountNodes() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entities)
}

func (g *Graph) CountEdges() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// CountEdgesBetween counts edges of a relation from source to target, across actions.
func (g *Graph) CountEdgesBetween(source, target EntityId, relation Relation) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	count := 0
	for _, i := range g.adjacency[source][relation] {
		if g.edges[i].Source == source && g.edges[i].Target == target {
			count++
		}
	}
	return count
}

// Stats counts nodes per kind and edges per relation.
func (g *Graph) Stats() (nodes map[Kind]int, edges map[Relation]int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes = make(map[Kind]int)
	for id := range g.entities {
		nodes[id.Kind]++
	}
	edges = make(map[Relation]int)
	for _, edge := range g.edges {
		edges[edge.Relation]++
	}
	return
}

// Subgraph is a bounded neighbourhood of a (user, item) pair.
type Subgraph struct {
	Nodes     []Entity `json:"nodes"`
	Edges     []Edge   `json:"edges"`
	Truncated bool     `json:"truncated"`
	// Hash identifies the content of the subgraph independent of traversal order.
	Hash uint64 `json:"hash"`
}

// Err returns ErrContextTooLarge if the subgraph was truncated.
func (s *Subgraph) Err() error {
	if s.Truncated {
		return ErrContextTooLarge
	}
	return nil
}

func (s *Subgraph) Contains(id EntityId) bool {
	return lo.ContainsBy(s.Nodes, func(e Entity) bool {
		return e.EntityId == id
	})
}

// Context returns entities within depth hops of either endpoint, edges in any
// direction, breadth first and level by level from both sides, stopping at maxNodes.
// Endpoints missing from the graph are still returned as bare nodes.
func (g *Graph) Context(user, item EntityId, depth, maxNodes int) Subgraph {
	depth = max(0, min(depth, MaxDepth))
	maxNodes = max(maxNodes, 2)
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[EntityId]struct{}{user: {}, item: {}}
	order := []EntityId{user, item}
	frontier := []EntityId{user, item}
	truncated := false
	for level := 0; level < depth && !truncated; level++ {
		var next []EntityId
		for _, node := range frontier {
			for _, neighbor := range g.neighbors(node) {
				if _, ok := visited[neighbor]; ok {
					continue
				}
				if len(order) >= maxNodes {
					truncated = true
					break
				}
				visited[neighbor] = struct{}{}
				order = append(order, neighbor)
				next = append(next, neighbor)
			}
			if truncated {
				break
			}
		}
		frontier = next
	}

	var subgraph Subgraph
	subgraph.Truncated = truncated
	subgraph.Nodes = lo.Map(order, func(id EntityId, _ int) Entity {
		if entity, ok := g.entities[id]; ok {
			return entity
		}
		return Entity{EntityId: id}
	})
	edgeIds := make(map[int]struct{})
	for _, id := range order {
		for _, edges := range g.adjacency[id] {
			for _, i := range edges {
				_, sourceIn := visited[g.edges[i].Source]
				_, targetIn := visited[g.edges[i].Target]
				if sourceIn && targetIn {
					edgeIds[i] = struct{}{}
				}
			}
		}
	}
	ids := lo.Keys(edgeIds)
	sort.Ints(ids)
	subgraph.Edges = lo.Map(ids, func(i int, _ int) Edge {
		return g.edges[i]
	})
	subgraph.Hash = hash(subgraph)
	return subgraph
}

// neighbors lists adjacent entities ordered by relation then edge insertion.
func (g *Graph) neighbors(node EntityId) []EntityId {
	relations := lo.Keys(g.adjacency[node])
	sort.Slice(relations, func(i, j int) bool { return relations[i] < relations[j] })
	var result []EntityId
	for _, relation := range relations {
		for _, i := range g.adjacency[node][relation] {
			edge := g.edges[i]
			if edge.Source == node {
				result = append(result, edge.Target)
			} else {
				result = append(result, edge.Source)
			}
		}
	}
	return result
}

func hash(s Subgraph) uint64 {
	lines := make([]string, 0, len(s.Nodes)+len(s.Edges))
	for _, node := range s.Nodes {
		lines = append(lines, node.String()+"|"+node.Name)
	}
	for _, edge := range s.Edges {
		lines = append(lines, edge.String())
	}
	sort.Strings(lines)
	digest := xxhash.New()
	for _, line := range lines {
		_, _ = digest.WriteString(line)
		_, _ = digest.WriteString("\n")
	}
	return digest.Sum64()
}
