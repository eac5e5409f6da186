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
	"encoding/json"
	"time"

	"github.com/gorse-io/cofriends/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

const explanationPrefix = "explanation/"

// Redis shares explanations between engine replicas.
type Redis struct {
	storage.TablePrefix
	client *redis.Client
	ttl    time.Duration
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Get(ctx context.Context, key string) (Entry, error) {
	val, err := r.client.Get(ctx, r.Key(explanationPrefix+key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, errors.NotFoundf("explanation %s", key)
		}
		return Entry{}, errors.Trace(err)
	}
	var entry Entry
	if err = json.Unmarshal(val, &entry); err != nil {
		return Entry{}, errors.Trace(err)
	}
	return entry, nil
}

func (r *Redis) Set(ctx context.Context, key string, entry Entry) error {
	val, err := json.Marshal(entry)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.client.Set(ctx, r.Key(explanationPrefix+key), val, r.ttl).Err())
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return errors.Trace(r.client.Del(ctx, r.Key(explanationPrefix+key)).Err())
}
