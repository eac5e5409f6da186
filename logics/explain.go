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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorse-io/cofriends/base/log"
	"github.com/gorse-io/cofriends/config"
	"github.com/gorse-io/cofriends/graph"
	"github.com/gorse-io/cofriends/storage/cache"
	"github.com/juju/errors"
	"github.com/nikolalohinski/gonja/v2"
	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/samber/lo"
	"github.com/tiktoken-go/tokenizer"
	"go.uber.org/zap"
)

// ErrExplanationUnavailable means the language model failed or timed out. It is
// recorded on the explanation and never returned.
const ErrExplanationUnavailable = errors.ConstError("explanation unavailable")

// LanguageModel completes a prompt.
type LanguageModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type HistoryEntry struct {
	ItemId string
	Name   string
	Weight float32
}

func (h HistoryEntry) DisplayName() string {
	if h.Name != "" {
		return h.Name
	}
	return h.ItemId
}

// Request holds what an explanation may cite.
type Request struct {
	User     graph.Entity
	Item     graph.Entity
	Subgraph graph.Subgraph
	// History is the user's items ordered by weight.
	History []HistoryEntry
}

type Explanation struct {
	UserId      string         `json:"user_id"`
	ItemId      string         `json:"item_id"`
	Context     graph.Subgraph `json:"-"`
	Text        string         `json:"text"`
	GeneratedAt time.Time      `json:"generated_at"`
	FromCache   bool           `json:"from_cache"`
	// Fallback is set when the text comes from the template.
	Fallback bool  `json:"fallback"`
	Err      error `json:"-"`
}

// Explainer writes explanations with a language model and falls back to a template
// whenever the model is disabled, fails or times out.
type Explainer struct {
	model       LanguageModel
	cache       cache.Database
	template    *exec.Template
	timeout     time.Duration
	historyTopK int
	maxTokens   int
	codec       tokenizer.Codec
}

// NewExplainer creates an explainer. A nil model always uses the template.
func NewExplainer(cfg config.ExplainConfig, model LanguageModel, cacheStore cache.Database) (*Explainer, error) {
	template, err := gonja.FromString(cfg.Prompt)
	if err != nil {
		return nil, errors.Annotate(err, "parse prompt")
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Explainer{
		model:       model,
		cache:       cacheStore,
		template:    template,
		timeout:     cfg.Timeout,
		historyTopK: cfg.HistoryTopK,
		maxTokens:   cfg.MaxPromptTokens,
		codec:       codec,
	}, nil
}

// CacheKey identifies an explanation by user, item and context content.
func CacheKey(userId, itemId string, contextHash uint64) string {
	return fmt.Sprintf("%s/%s/%016x", userId, itemId, contextHash)
}

// Explain never fails. Only model output is cached, so a recovered model replaces a
// fallback on the next call.
func (e *Explainer) Explain(ctx context.Context, req Request) Explanation {
	explanation := Explanation{
		UserId:  req.User.Id,
		ItemId:  req.Item.Id,
		Context: req.Subgraph,
	}
	history := req.History
	if len(history) > e.historyTopK {
		history = history[:e.historyTopK]
	}
	key := CacheKey(req.User.Id, req.Item.Id, req.Subgraph.Hash)
	if e.cache != nil {
		entry, err := e.cache.Get(ctx, key)
		if err == nil {
			explanation.Text = entry.Text
			explanation.GeneratedAt = entry.GeneratedAt
			explanation.FromCache = true
			return explanation
		} else if !errors.Is(err, errors.NotFound) {
			log.Logger().Warn("failed to read explanation cache", zap.String("key", key), zap.Error(err))
		}
	}

	if e.model != nil {
		text, err := e.complete(ctx, req, history)
		if err == nil {
			explanation.Text = text
			explanation.GeneratedAt = time.Now()
			if e.cache != nil {
				if err = e.cache.Set(ctx, key, cache.Entry{Text: text, GeneratedAt: explanation.GeneratedAt}); err != nil {
					log.Logger().Warn("failed to write explanation cache", zap.String("key", key), zap.Error(err))
				}
			}
			return explanation
		}
		explanation.Err = errors.WithType(err, ErrExplanationUnavailable)
		log.Logger().Warn("language model unavailable, use fallback",
			zap.String("user_id", req.User.Id),
			zap.String("item_id", req.Item.Id),
			zap.Error(err))
	}
	explanation.Text = Fallback(req.User, req.Item, history, Facts(req))
	explanation.GeneratedAt = time.Now()
	explanation.Fallback = true
	return explanation
}

func (e *Explainer) complete(ctx context.Context, req Request, history []HistoryEntry) (string, error) {
	prompt, err := e.Prompt(req.User, req.Item, history, Facts(req))
	if err != nil {
		return "", errors.Trace(err)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := e.model.Complete(ctx, prompt)
		done <- result{text, err}
	}()
	select {
	case <-ctx.Done():
		return "", errors.Trace(ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", errors.Trace(r.err)
		}
		if strings.TrimSpace(r.text) == "" {
			return "", errors.New("empty completion")
		}
		return strings.TrimSpace(r.text), nil
	}
}

// Prompt renders the template and drops facts, then history, from the end until it
// fits the token budget.
func (e *Explainer) Prompt(user, item graph.Entity, history []HistoryEntry, facts []string) (string, error) {
	names := lo.Map(history, func(h HistoryEntry, _ int) string {
		return h.DisplayName()
	})
	for {
		var buf strings.Builder
		err := e.template.Execute(&buf, exec.NewContext(map[string]any{
			"user":    user.DisplayName(),
			"item":    item.DisplayName(),
			"history": names,
			"facts":   facts,
		}))
		if err != nil {
			return "", errors.Annotate(err, "render prompt")
		}
		prompt := buf.String()
		if e.countTokens(prompt) <= e.maxTokens {
			return prompt, nil
		}
		if len(facts) > 0 {
			facts = facts[:len(facts)-1]
		} else if len(names) > 0 {
			names = names[:len(names)-1]
		} else {
			return prompt, nil
		}
	}
}

func (e *Explainer) countTokens(s string) int {
	ids, _, err := e.codec.Encode(s)
	if err != nil {
		return len(s) / 4
	}
	return len(ids)
}

// Facts renders the subgraph as short statements: colleagues who share an item with
// the user and picked the target, similar colleagues, and shared categories.
func Facts(req Request) []string {
	nodes := lo.SliceToMap(req.Subgraph.Nodes, func(e graph.Entity) (graph.EntityId, graph.Entity) {
		return e.EntityId, e
	})
	name := func(id graph.EntityId) string {
		if e, ok := nodes[id]; ok {
			return e.DisplayName()
		}
		return id.Id
	}
	historyNames := make(map[graph.EntityId]string, len(req.History))
	for _, h := range req.History {
		historyNames[graph.Item(h.ItemId)] = h.DisplayName()
	}
	user, item := req.User.EntityId, req.Item.EntityId

	var (
		facts   []string
		seen    = make(map[string]struct{})
		addFact = func(fact string) {
			if _, ok := seen[fact]; !ok {
				seen[fact] = struct{}{}
				facts = append(facts, fact)
			}
		}
		peerItems = make(map[graph.EntityId][]string)
		itemCats  = make(map[graph.EntityId][]graph.EntityId)
	)
	for _, edge := range req.Subgraph.Edges {
		switch edge.Relation {
		case graph.Voted:
			if edge.Source != user {
				if historyName, ok := historyNames[edge.Target]; ok && !lo.Contains(peerItems[edge.Source], historyName) {
					peerItems[edge.Source] = append(peerItems[edge.Source], historyName)
				}
			}
		case graph.Serves:
			itemCats[edge.Source] = append(itemCats[edge.Source], edge.Target)
		}
	}

	for _, edge := range req.Subgraph.Edges {
		switch {
		case edge.Relation == graph.Voted && edge.Target == item && edge.Source != user:
			verb := actionVerb(edge.Properties[graph.PropertyAction])
			if shared := peerItems[edge.Source]; len(shared) > 0 {
				addFact(fmt.Sprintf("%s, who also voted for %s, %s %s", name(edge.Source), joinNames(shared), verb, name(item)))
			} else {
				addFact(fmt.Sprintf("%s %s %s", name(edge.Source), verb, name(item)))
			}
		case edge.Relation == graph.SimilarTo && (edge.Source == user || edge.Target == user):
			peer := lo.Ternary(edge.Source == user, edge.Target, edge.Source)
			addFact(fmt.Sprintf("%s has similar taste to %s", name(peer), name(user)))
		}
	}
	for _, category := range itemCats[item] {
		var shared []string
		for _, h := range req.History {
			if lo.Contains(itemCats[graph.Item(h.ItemId)], category) {
				shared = append(shared, h.DisplayName())
			}
		}
		if len(shared) > 0 {
			addFact(fmt.Sprintf("%s shares category %s with %s", name(item), name(category), joinNames(shared)))
		} else {
			addFact(fmt.Sprintf("%s serves %s", name(item), name(category)))
		}
	}
	return facts
}

func actionVerb(action string) string {
	switch action {
	case "comment":
		return "commented on"
	case "rating":
		return "rated"
	default:
		return "voted for"
	}
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}

// Fallback is the deterministic template text, e.g. "You liked X and Y. Z, who also
// voted for X, voted for W."
func Fallback(user, item graph.Entity, history []HistoryEntry, facts []string) string {
	var sentences []string
	if len(history) > 0 {
		sentences = append(sentences, "You liked "+joinNames(lo.Map(history, func(h HistoryEntry, _ int) string {
			return h.DisplayName()
		})))
	}
	sentences = append(sentences, facts...)
	if len(sentences) == 0 {
		sentences = append(sentences, fmt.Sprintf("%s might enjoy %s", user.DisplayName(), item.DisplayName()))
	}
	return strings.Join(sentences, ". ") + "."
}
