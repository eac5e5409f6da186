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

package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Memory keeps interactions and items in process. It backs tests and demos.
type Memory struct {
	mu           sync.RWMutex
	interactions map[InteractionKey]Interaction
	items        map[string]Item
}

func NewMemory() *Memory {
	return &Memory{
		interactions: make(map[InteractionKey]Interaction),
		items:        make(map[string]Item),
	}
}

func (m *Memory) Init() error {
	return nil
}

func (m *Memory) Ping() error {
	return nil
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) Purge() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactions = make(map[InteractionKey]Interaction)
	m.items = make(map[string]Item)
	return nil
}

func (m *Memory) BatchInsertInteractions(_ context.Context, interactions []Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, interaction := range interactions {
		interaction.Timestamp = interaction.Timestamp.UTC()
		m.interactions[interaction.InteractionKey] = interaction
	}
	return nil
}

func (m *Memory) BatchInsertItems(_ context.Context, items []Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		item.Timestamp = item.Timestamp.UTC()
		if item.Categories == nil {
			item.Categories = []string{}
		}
		m.items[item.ItemId] = item
	}
	return nil
}

func (m *Memory) GetInteractions(ctx context.Context, since *time.Time) ([]Interaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	interactions := lo.Filter(lo.Values(m.interactions), func(interaction Interaction, _ int) bool {
		return since == nil || interaction.Timestamp.After(*since)
	})
	m.mu.RUnlock()
	SortInteractions(interactions)
	return interactions, nil
}

func (m *Memory) GetItems(ctx context.Context, since *time.Time) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	items := lo.Filter(lo.Values(m.items), func(item Item, _ int) bool {
		return since == nil || item.Timestamp.After(*since)
	})
	m.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool {
		return items[i].ItemId < items[j].ItemId
	})
	return items, nil
}

func (m *Memory) CountInteractions(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.interactions), nil
}
