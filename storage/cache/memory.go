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

package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
)

// Memory is an in-process LRU cache with expiry.
type Memory struct {
	cache *ttlcache.Cache[string, Entry]
}

func NewMemory(size int, ttl time.Duration) *Memory {
	return &Memory{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, Entry](ttl),
			ttlcache.WithCapacity[string, Entry](uint64(max(size, 1))),
			ttlcache.WithDisableTouchOnHit[string, Entry](),
		),
	}
}

func (m *Memory) Close() error {
	m.cache.DeleteAll()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (Entry, error) {
	item := m.cache.Get(key)
	if item == nil {
		return Entry{}, errors.NotFoundf("explanation %s", key)
	}
	return item.Value(), nil
}

func (m *Memory) Set(_ context.Context, key string, entry Entry) error {
	m.cache.Set(key, entry, ttlcache.DefaultTTL)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

// Len returns the number of cached entries.
func (m *Memory) Len() int {
	return m.cache.Len()
}
