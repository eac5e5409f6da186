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

package engine

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/cofriends/base/log"
	"github.com/gorse-io/cofriends/common/expression"
	"github.com/gorse-io/cofriends/common/floats"
	"github.com/gorse-io/cofriends/config"
	"github.com/gorse-io/cofriends/dataset"
	"github.com/gorse-io/cofriends/graph"
	"github.com/gorse-io/cofriends/logics"
	"github.com/gorse-io/cofriends/model/cf"
	"github.com/gorse-io/cofriends/model/embedding"
	"github.com/gorse-io/cofriends/storage/cache"
	"github.com/gorse-io/cofriends/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrNotReady is returned by reads before the first successful refresh.
var ErrNotReady = errors.New("engine is not ready")

// ErrRefreshFailed types the cause of a failed refresh. The previous generation keeps
// serving.
const ErrRefreshFailed = errors.ConstError("refresh failed")

type State int32

const (
	Uninitialized State = iota
	Ready
	Refreshing
	Degraded
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Refreshing:
		return "refreshing"
	case Degraded:
		return "degraded"
	default:
		return "uninitialized"
	}
}

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

type RefreshResult struct {
	GenerationId int64     `json:"generation_id"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	Err          error     `json:"-"`
}

type Health struct {
	State               string    `json:"state"`
	GenerationId        int64     `json:"generation_id"`
	LastRefreshAt       time.Time `json:"last_refresh_at"`
	Degraded            bool      `json:"degraded"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

type Neighbor struct {
	Id    string  `json:"id"`
	Score float32 `json:"score"`
}

type Stats struct {
	GenerationId       int64                  `json:"generation_id"`
	Users              int                    `json:"users"`
	Items              int                    `json:"items"`
	Interactions       int                    `json:"interactions"`
	Feedback           int                    `json:"feedback"`
	Sparsity           float64                `json:"sparsity"`
	AvgFeedbackPerUser float64                `json:"avg_feedback_per_user"`
	AvgFeedbackPerItem float64                `json:"avg_feedback_per_item"`
	Categories         int                    `json:"categories"`
	ModelTrained       bool                   `json:"model_trained"`
	EmbeddingItems     int                    `json:"embedding_items"`
	EmbeddingDimension int                    `json:"embedding_dimension"`
	EmbeddingVersion   int64                  `json:"embedding_version"`
	GraphNodes         map[graph.Kind]int     `json:"graph_nodes"`
	GraphEdges         map[graph.Relation]int `json:"graph_edges"`
}

// Generation is an immutable snapshot of derived state. A reader loads one generation
// and uses it for the whole request.
type Generation struct {
	Id         int64
	CreatedAt  time.Time
	Dataset    *dataset.Dataset
	Model      *cf.ALS
	Embeddings *embedding.Snapshot

	interactions     []data.Interaction
	items            []data.Item
	interactionSince time.Time
	itemSince        time.Time
	// incrementals counts refreshes since the last full reload.
	incrementals int
	// popular lists items with positive weight, the collaborative candidates.
	popular   []string
	coldStart []float32
}

// preference is the weighted centroid of the user's items, or nil without history.
func (g *Generation) preference(userId string) []float32 {
	history := g.Dataset.UserHistory(userId)
	if len(history) == 0 {
		return nil
	}
	ids, weights := lo.Unzip2(history)
	return g.Embeddings.Centroid(ids, weights)
}

// Engine is the recommendation facade. Reads are served from the current generation
// without locks; refreshes build a new generation and swap it in.
type Engine struct {
	cfg       config.RecommendConfig
	options   dataset.Options
	weights   logics.Weights
	reader    data.Reader
	index     *embedding.Index
	column    *embedding.Column
	explainer *logics.Explainer
	graph     *graph.Graph
	closers   []io.Closer
	// feed holds keys of edges from the event feed, which refreshes never prune.
	feed mapset.Set[string]

	generation atomic.Pointer[Generation]
	nextId     atomic.Int64
	group      singleflight.Group

	mu            sync.Mutex
	state         State
	failures      int
	lastRefreshAt time.Time
	lastErr       error
}

// New creates an engine over a reader. A nil model disables language model
// explanations and a nil cache disables caching.
func New(cfg *config.Config, reader data.Reader, encoder embedding.Encoder, model logics.LanguageModel, cacheStore cache.Database) (*Engine, error) {
	column, err := embedding.NewColumn(cfg.Recommend.Embedding.Column)
	if err != nil {
		return nil, errors.Trace(err)
	}
	explainer, err := logics.NewExplainer(cfg.Recommend.Explain, model, cacheStore)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Engine{
		cfg: cfg.Recommend,
		options: dataset.Options{
			PositiveSignals: cfg.Recommend.DataSource.PositiveSignals,
			SignalWeights:   cfg.Recommend.DataSource.SignalWeights,
			WeightCap:       cfg.Recommend.DataSource.WeightCap,
		},
		weights: logics.Weights{
			CF:        float32(cfg.Recommend.Fusion.CFWeight),
			Embedding: float32(cfg.Recommend.Fusion.EmbeddingWeight),
		},
		reader: reader,
		index: embedding.NewIndex(encoder, cfg.Recommend.Embedding.Dimension, cfg.Recommend.Embedding.Index,
			cfg.Recommend.Collaborative.NumJobs, cfg.Recommend.Collaborative.RandomSeed),
		column:    column,
		explainer: explainer,
		graph:     graph.NewGraph(),
		feed:      mapset.NewSet[string](),
	}, nil
}

// Open creates an engine from configuration, connecting the interaction store, the
// explanation cache, the encoder and the language model.
func Open(cfg *config.Config) (*Engine, error) {
	database, err := data.Open(cfg.Database.DataStore, cfg.Database.TablePrefix)
	if err != nil {
		return nil, errors.Annotatef(err, "open data store %s", log.RedactDBURL(cfg.Database.DataStore))
	}
	if err = database.Init(); err != nil {
		return nil, errors.Trace(err)
	}
	cacheStore, err := cache.Open(cfg.Database.CacheStore, cfg.Database.TablePrefix,
		cfg.Recommend.Explain.CacheSize, cfg.Recommend.Explain.CacheTTL)
	if err != nil {
		return nil, errors.Annotatef(err, "open cache store %s", log.RedactDBURL(cfg.Database.CacheStore))
	}
	encoder, err := embedding.NewEncoder(cfg.Recommend.Embedding, cfg.OpenAI)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var model logics.LanguageModel
	if cfg.Recommend.Explain.EnableLLM {
		model = logics.NewOpenAIModel(cfg.OpenAI, cfg.Recommend.Explain.MaxRetries)
	}
	e, err := New(cfg, database, encoder, model, cacheStore)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e.closers = append(e.closers, database, cacheStore)
	return e, nil
}

func (e *Engine) Close() error {
	var err error
	for _, closer := range e.closers {
		if closeErr := closer.Close(); closeErr != nil && err == nil {
			err = errors.Trace(closeErr)
		}
	}
	return err
}

// Generation returns the serving generation, or nil before the first refresh.
func (e *Engine) Generation() *Generation {
	return e.generation.Load()
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	health := Health{
		State:               e.state.String(),
		LastRefreshAt:       e.lastRefreshAt,
		Degraded:            e.state == Degraded,
		ConsecutiveFailures: e.failures,
	}
	if e.lastErr != nil {
		health.LastError = e.lastErr.Error()
	}
	if gen := e.generation.Load(); gen != nil {
		health.GenerationId = gen.Id
	}
	return health
}

// Start refreshes once and then on the configured period until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.Refresh(ctx)
	if e.cfg.Refresh.Period <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(e.cfg.Refresh.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Refresh(ctx)
		}
	}
}

// Refresh rebuilds derived state. A call made while a refresh is in flight waits for
// that refresh and shares its result. Cancelling ctx stops waiting but not the refresh.
func (e *Engine) Refresh(ctx context.Context) RefreshResult {
	ch := e.group.DoChan("refresh", func() (any, error) {
		return e.refresh(context.WithoutCancel(ctx)), nil
	})
	select {
	case <-ctx.Done():
		err := errors.WithType(errors.Annotate(ctx.Err(), "wait for refresh"), ErrRefreshFailed)
		return RefreshResult{Status: StatusFailed, Error: err.Error(), Err: err}
	case result := <-ch:
		return result.Val.(RefreshResult)
	}
}

// RefreshAsync starts a refresh and delivers its result on the returned channel.
func (e *Engine) RefreshAsync() <-chan RefreshResult {
	ch := make(chan RefreshResult, 1)
	go func() {
		ch <- e.Refresh(context.Background())
	}()
	return ch
}

func (e *Engine) refresh(ctx context.Context) RefreshResult {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Refresh.Timeout)
	defer cancel()
	result := RefreshResult{StartedAt: time.Now()}
	e.mu.Lock()
	if e.state == Ready {
		e.state = Refreshing
	}
	e.mu.Unlock()

	gen, err := e.build(ctx)
	result.CompletedAt = time.Now()
	RefreshSeconds.Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		RefreshFailures.Inc()
		result.Err = errors.WithType(err, ErrRefreshFailed)
		result.Error = result.Err.Error()
		result.Status = StatusFailed
		e.failures++
		e.lastErr = result.Err
		if prev := e.generation.Load(); prev != nil {
			result.GenerationId = prev.Id
			if e.failures >= e.cfg.Refresh.DegradedThreshold {
				e.state = Degraded
			} else if e.state == Refreshing {
				e.state = Ready
			}
		}
		DegradedGauge.Set(lo.Ternary[float64](e.state == Degraded, 1, 0))
		log.Logger().Error("failed to refresh",
			zap.Int("consecutive_failures", e.failures),
			zap.String("state", e.state.String()),
			zap.Error(err))
		return result
	}
	e.generation.Store(gen)
	e.state = Ready
	e.failures = 0
	e.lastErr = nil
	e.lastRefreshAt = result.CompletedAt
	GenerationGauge.Set(float64(gen.Id))
	DegradedGauge.Set(0)
	result.GenerationId = gen.Id
	result.Status = StatusOK
	log.Logger().Info("refresh completed",
		zap.Int64("generation", gen.Id),
		zap.Int("users", gen.Dataset.CountUsers()),
		zap.Int("items", gen.Dataset.CountItems()),
		zap.Int("feedback", gen.Dataset.CountFeedback()),
		zap.Duration("duration", result.CompletedAt.Sub(result.StartedAt)))
	return result
}

// build loads interactions, incrementally when possible, and fits a new generation.
// Incremental loads re-read a lookback window before the previous cursor, and a full
// reload every few refreshes picks up records older than that window.
func (e *Engine) build(ctx context.Context) (*Generation, error) {
	gen := &Generation{CreatedAt: time.Now()}
	prev := e.generation.Load()
	incremental := e.cfg.Refresh.Incremental && prev != nil &&
		(e.cfg.Refresh.FullReloadEvery <= 0 || prev.incrementals < e.cfg.Refresh.FullReloadEvery)
	if incremental {
		interactionSince := prev.interactionSince.Add(-e.cfg.Refresh.Lookback)
		interactions, err := e.reader.GetInteractions(ctx, &interactionSince)
		if err != nil {
			return nil, errors.Annotate(err, "load interactions")
		}
		itemSince := prev.itemSince.Add(-e.cfg.Refresh.Lookback)
		items, err := e.reader.GetItems(ctx, &itemSince)
		if err != nil {
			return nil, errors.Annotate(err, "load items")
		}
		gen.interactions = data.MergeInteractions(prev.interactions, interactions)
		gen.items = mergeItems(prev.items, items)
		gen.incrementals = prev.incrementals + 1
		log.Logger().Debug("load incremental interactions",
			zap.Int("interactions", len(interactions)),
			zap.Int("items", len(items)))
	} else {
		var err error
		if gen.interactions, err = e.reader.GetInteractions(ctx, nil); err != nil {
			return nil, errors.Annotate(err, "load interactions")
		}
		if gen.items, err = e.reader.GetItems(ctx, nil); err != nil {
			return nil, errors.Annotate(err, "load items")
		}
	}
	for _, interaction := range gen.interactions {
		if interaction.Timestamp.After(gen.interactionSince) {
			gen.interactionSince = interaction.Timestamp
		}
	}
	for _, item := range gen.items {
		if item.Timestamp.After(gen.itemSince) {
			gen.itemSince = item.Timestamp
		}
	}

	gen.Dataset = dataset.Build(gen.CreatedAt, gen.interactions, gen.items, e.options)
	gen.Model = cf.NewALS(e.cfg.Collaborative)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := gen.Model.Fit(groupCtx, gen.Dataset)
		if errors.Is(err, cf.ErrUntrained) {
			log.Logger().Warn("collaborative filter is untrained, rank by embeddings only")
			return nil
		}
		return errors.Trace(err)
	})
	group.Go(func() error {
		documents := e.documents(gen.Dataset, gen.interactions)
		err := e.index.UpsertBatch(groupCtx, e.index.Stale(documents))
		var batchErr *embedding.BatchError
		if errors.As(err, &batchErr) {
			EncodingFailures.Add(float64(len(batchErr.Failures)))
			return nil
		}
		return errors.Trace(err)
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}
	gen.Embeddings = e.index.Snapshot()

	popularity := gen.Dataset.GetPopularity()
	var popularIds []string
	var popularWeights []float32
	for i, item := range gen.Dataset.GetItems() {
		if popularity[i] > 0 {
			popularIds = append(popularIds, item.ItemId)
			popularWeights = append(popularWeights, popularity[i])
		}
	}
	gen.popular = popularIds
	gen.coldStart = gen.Embeddings.Centroid(popularIds, popularWeights)
	if gen.coldStart == nil {
		gen.coldStart = gen.Embeddings.Mean()
	}

	e.updateGraph(gen)
	gen.Id = e.nextId.Add(1)
	return gen, nil
}

func mergeItems(base, updates []data.Item) []data.Item {
	merged := lo.SliceToMap(base, func(item data.Item) (string, data.Item) {
		return item.ItemId, item
	})
	for _, item := range updates {
		if prev, exist := merged[item.ItemId]; !exist || !prev.Timestamp.After(item.Timestamp) {
			merged[item.ItemId] = item
		}
	}
	items := lo.Values(merged)
	sort.Slice(items, func(i, j int) bool {
		return items[i].ItemId < items[j].ItemId
	})
	return items
}

// documents renders the text of every item. A new comment makes the item stale.
func (e *Engine) documents(ds *dataset.Dataset, interactions []data.Interaction) []embedding.Document {
	commented := make(map[string]time.Time)
	for _, interaction := range interactions {
		if interaction.Comment != "" && interaction.Timestamp.After(commented[interaction.ItemId]) {
			commented[interaction.ItemId] = interaction.Timestamp
		}
	}
	documents := make([]embedding.Document, 0, ds.CountItems())
	for i, item := range ds.GetItems() {
		text, err := e.column.Text(item, ds.GetComments(i))
		if err != nil {
			log.Logger().Warn("failed to render item text", zap.String("item_id", item.ItemId), zap.Error(err))
			continue
		}
		updatedAt := item.Timestamp
		if t := commented[item.ItemId]; t.After(updatedAt) {
			updatedAt = t
		}
		documents = append(documents, embedding.Document{ItemId: item.ItemId, Text: text, UpdatedAt: updatedAt})
	}
	return documents
}

// updateGraph mirrors the snapshot into the graph: positive interactions become voted
// edges, categories become serves edges and each user is linked to its nearest
// neighbours. Derived edges missing from the snapshot are dropped, edges from the
// event feed are kept.
func (e *Engine) updateGraph(gen *Generation) {
	derived := mapset.NewThreadUnsafeSet[string]()
	upsert := func(edge graph.Edge, fields ...zap.Field) {
		if err := e.graph.UpsertEdge(edge); err != nil {
			log.Logger().Warn("failed to upsert edge", append(fields, zap.Error(err))...)
			return
		}
		derived.Add(edge.Key())
	}
	for _, item := range gen.Dataset.GetItems() {
		if item.Name != "" {
			_ = e.graph.UpsertEntity(graph.Entity{EntityId: graph.Item(item.ItemId), Name: item.Name})
		}
		for _, category := range item.Categories {
			upsert(graph.Edge{
				Source:    graph.Item(item.ItemId),
				Target:    graph.Category(category),
				Relation:  graph.Serves,
				Timestamp: item.Timestamp,
			}, zap.String("item_id", item.ItemId))
		}
	}
	for _, interaction := range gen.interactions {
		if interaction.Weight <= 0 || !expression.MatchSignalExpressions(e.options.PositiveSignals, interaction.Signal, interaction.Weight) {
			continue
		}
		upsert(graph.Edge{
			Source:     graph.User(interaction.UserId),
			Target:     graph.Item(interaction.ItemId),
			Relation:   graph.Voted,
			Properties: map[string]string{graph.PropertyAction: interaction.Signal},
			Timestamp:  interaction.Timestamp,
		}, zap.String("user_id", interaction.UserId), zap.String("item_id", interaction.ItemId))
	}
	if gen.Model.IsTrained() && e.cfg.Graph.SimilarUsers > 0 {
		for i := 0; i < gen.Dataset.CountUsers(); i++ {
			userId := gen.Dataset.UserId(i)
			for _, neighbor := range gen.Model.SimilarUsers(userId, e.cfg.Graph.SimilarUsers) {
				if float64(neighbor.B) < e.cfg.Graph.MinSimilar {
					continue
				}
				upsert(graph.Edge{
					Source:     graph.User(userId),
					Target:     graph.User(neighbor.A),
					Relation:   graph.SimilarTo,
					Properties: map[string]string{"score": fmt.Sprintf("%.2f", neighbor.B)},
					Timestamp:  gen.CreatedAt,
				}, zap.String("user_id", userId))
			}
		}
	}
	keep := func(edge graph.Edge) bool {
		key := edge.Key()
		return derived.Contains(key) || e.feed.Contains(key)
	}
	for _, relation := range []graph.Relation{graph.Voted, graph.Serves, graph.SimilarTo} {
		if dropped := e.graph.Retain(relation, keep); dropped > 0 {
			log.Logger().Debug("drop stale edges", zap.String("relation", string(relation)), zap.Int("dropped", dropped))
		}
	}
}

// UpsertEdge records an edge from the collaborator's event feed.
func (e *Engine) UpsertEdge(edge graph.Edge) error {
	if err := graph.ValidateEdge(edge); err != nil {
		return errors.Trace(err)
	}
	e.feed.Add(edge.Key())
	return errors.Trace(e.graph.UpsertEdge(edge))
}

// UpsertEntity records display attributes of an entity.
func (e *Engine) UpsertEntity(entity graph.Entity) error {
	return errors.Trace(e.graph.UpsertEntity(entity))
}

// Recommend ranks up to n items for a user, or the configured default when n <= 0. The
// optional query text is blended into the user's preference. Users without history
// are ranked against the popularity centroid.
func (e *Engine) Recommend(ctx context.Context, userId, query string, n int) ([]logics.RankedCandidate, error) {
	start := time.Now()
	gen := e.generation.Load()
	if gen == nil {
		return nil, ErrNotReady
	}
	if n <= 0 {
		n = e.cfg.DefaultN
	}
	seen := gen.Dataset.UserItems(userId)
	exclude := mapset.NewThreadUnsafeSet[string]()
	if e.cfg.ExcludeVoted {
		exclude = seen
	}

	preference := gen.preference(userId)
	if query != "" {
		vector, err := e.index.Encode(ctx, query)
		if err != nil {
			log.Logger().Warn("failed to encode query", zap.String("user_id", userId), zap.Error(err))
		} else if preference == nil {
			preference = vector
		} else {
			blended := append([]float32{}, preference...)
			floats.Add(blended, vector)
			if floats.Normalize(blended) {
				preference = blended
			}
		}
	}
	if preference == nil {
		preference = gen.coldStart
	}

	candidates := mapset.NewThreadUnsafeSet[string]()
	embeddingScores := make(map[string]float32)
	if preference != nil {
		for _, result := range gen.Embeddings.Query(preference, e.cfg.CandidatePool, exclude) {
			candidates.Add(result.A)
			embeddingScores[result.A] = result.B
		}
	}
	for _, itemId := range gen.popular {
		if !exclude.Contains(itemId) {
			candidates.Add(itemId)
		}
	}
	itemIds := candidates.ToSlice()
	sort.Strings(itemIds)
	if preference != nil {
		for _, itemId := range itemIds {
			if _, ok := embeddingScores[itemId]; !ok {
				if score, ok := gen.Embeddings.Score(preference, itemId); ok {
					embeddingScores[itemId] = score
				}
			}
		}
	}
	// only unseen items are scored collaboratively, seen ones count as zero
	unseen := lo.Filter(itemIds, func(itemId string, _ int) bool {
		return !seen.Contains(itemId)
	})
	cfScores := gen.Model.Score(userId, unseen)
	result := logics.Fuse(cfScores, embeddingScores, e.weights, n)
	RecommendSeconds.Observe(time.Since(start).Seconds())
	return result, nil
}

// Explain justifies an item for a user. It fails only before the first refresh; model
// failures fall back to the template.
func (e *Engine) Explain(ctx context.Context, userId, itemId string) (logics.Explanation, error) {
	start := time.Now()
	gen := e.generation.Load()
	if gen == nil {
		return logics.Explanation{}, ErrNotReady
	}
	req := logics.Request{
		User: e.entity(graph.User(userId)),
		Item: e.entity(graph.Item(itemId)),
	}
	req.Subgraph = e.graph.Context(req.User.EntityId, req.Item.EntityId, e.cfg.Graph.MaxDepth, e.cfg.Graph.MaxNodes)
	if err := req.Subgraph.Err(); err != nil {
		log.Logger().Warn("explanation context truncated",
			zap.String("user_id", userId),
			zap.String("item_id", itemId),
			zap.Int("max_nodes", e.cfg.Graph.MaxNodes),
			zap.Error(err))
	}
	for _, h := range gen.Dataset.UserHistory(userId) {
		entry := logics.HistoryEntry{ItemId: h.A, Weight: h.B}
		if item, ok := gen.Dataset.GetItem(h.A); ok {
			entry.Name = item.Name
		}
		req.History = append(req.History, entry)
	}

	explanation := e.explainer.Explain(ctx, req)
	if explanation.FromCache {
		ExplanationCacheHits.Inc()
	} else {
		ExplanationCacheMisses.Inc()
	}
	if explanation.Fallback {
		ExplanationFallbacks.Inc()
	}
	ExplainSeconds.Observe(time.Since(start).Seconds())
	return explanation, nil
}

func (e *Engine) entity(id graph.EntityId) graph.Entity {
	if entity, ok := e.graph.GetEntity(id); ok {
		return entity
	}
	return graph.Entity{EntityId: id}
}

// SimilarUsers ranks users by matrix row similarity fused with the similarity of their
// preference centroids.
func (e *Engine) SimilarUsers(userId string, n int) ([]Neighbor, error) {
	gen := e.generation.Load()
	if gen == nil {
		return nil, ErrNotReady
	}
	if n <= 0 {
		n = e.cfg.DefaultN
	}
	cfScores := make(map[string]float32)
	for _, neighbor := range gen.Model.SimilarUsers(userId, e.cfg.Collaborative.NumNeighbors) {
		cfScores[neighbor.A] = neighbor.B
	}
	embeddingScores := make(map[string]float32)
	if centroid := gen.preference(userId); centroid != nil {
		for i := 0; i < gen.Dataset.CountUsers(); i++ {
			other := gen.Dataset.UserId(i)
			if other == userId {
				continue
			}
			if vector := gen.preference(other); vector != nil {
				embeddingScores[other] = embedding.Similarity(centroid, vector)
			}
		}
	}
	return neighbors(logics.Fuse(cfScores, embeddingScores, logics.Weights{CF: 0.7, Embedding: 0.3}, n)), nil
}

// SimilarItems ranks items by embedding similarity fused with item factor similarity.
func (e *Engine) SimilarItems(itemId string, n int) ([]Neighbor, error) {
	gen := e.generation.Load()
	if gen == nil {
		return nil, ErrNotReady
	}
	if n <= 0 {
		n = e.cfg.DefaultN
	}
	candidates := mapset.NewThreadUnsafeSet[string]()
	embeddingScores := make(map[string]float32)
	if vector, ok := gen.Embeddings.Vector(itemId); ok {
		for _, result := range gen.Embeddings.Query(vector, e.cfg.CandidatePool, mapset.NewThreadUnsafeSet(itemId)) {
			candidates.Add(result.A)
			embeddingScores[result.A] = result.B
		}
	}
	for _, candidate := range gen.popular {
		if candidate != itemId {
			candidates.Add(candidate)
		}
	}
	cfScores := gen.Model.ItemSimilarity(itemId, candidates.ToSlice())
	return neighbors(logics.Fuse(cfScores, embeddingScores, e.weights, n)), nil
}

func neighbors(candidates []logics.RankedCandidate) []Neighbor {
	result := make([]Neighbor, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.FusedScore > 0 {
			result = append(result, Neighbor{Id: candidate.ItemId, Score: candidate.FusedScore})
		}
	}
	return result
}

func (e *Engine) Stats() (Stats, error) {
	gen := e.generation.Load()
	if gen == nil {
		return Stats{}, ErrNotReady
	}
	stats := Stats{
		GenerationId:       gen.Id,
		Users:              gen.Dataset.CountUsers(),
		Items:              gen.Dataset.CountItems(),
		Interactions:       gen.Dataset.CountInteractions(),
		Feedback:           gen.Dataset.CountFeedback(),
		Categories:         len(gen.Dataset.GetCategories()),
		ModelTrained:       gen.Model.IsTrained(),
		EmbeddingItems:     gen.Embeddings.Len(),
		EmbeddingDimension: gen.Embeddings.Dimension(),
		EmbeddingVersion:   gen.Embeddings.Version(),
	}
	if stats.Users > 0 && stats.Items > 0 {
		stats.Sparsity = 1 - float64(stats.Feedback)/float64(stats.Users*stats.Items)
		stats.AvgFeedbackPerUser = float64(stats.Feedback) / float64(stats.Users)
		stats.AvgFeedbackPerItem = float64(stats.Feedback) / float64(stats.Items)
	}
	stats.GraphNodes, stats.GraphEdges = e.graph.Stats()
	return stats, nil
}
