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
	"strings"
	"time"

	"github.com/gorse-io/cofriends/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

// Entry is a cached explanation.
type Entry struct {
	Text        string    `json:"text"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Database stores explanations keyed by user, item and context hash. Writes are
// last-writer-wins.
type Database interface {
	Close() error
	// Get returns a NotFound error on a miss or an expired entry.
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) error
}

// Open a cache by DSN. An empty path opens an in-process cache holding at most size
// entries.
func Open(path, tablePrefix string, size int, ttl time.Duration) (Database, error) {
	if path == "" {
		return NewMemory(size, ttl), nil
	}
	if strings.HasPrefix(path, storage.RedisPrefix) || strings.HasPrefix(path, storage.RedissPrefix) {
		opt, err := redis.ParseURL(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		database := new(Redis)
		database.client = redis.NewClient(opt)
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		database.ttl = ttl
		return database, nil
	}
	return nil, errors.Errorf("Unknown database: %s", path)
}
