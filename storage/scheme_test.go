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

package storage

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

func TestAppendURLParams(t *testing.T) {
	url, err := AppendURLParams("sqlite:///tmp/cofriends.db", []lo.Tuple2[string, string]{
		{A: "_pragma", B: "busy_timeout(10000)"},
	})
	assert.NoError(t, err)
	assert.Equal(t, "sqlite:///tmp/cofriends.db?_pragma=busy_timeout%2810000%29", url)

	_, err = AppendURLParams("://broken", nil)
	assert.Error(t, err)
}

func TestTablePrefix(t *testing.T) {
	prefix := TablePrefix("lunch_")
	assert.Equal(t, "lunch_interactions", prefix.InteractionsTable())
	assert.Equal(t, "lunch_items", prefix.ItemsTable())
	assert.Equal(t, "lunch_cursor", prefix.Key("cursor"))
}

func TestNewGORMConfig(t *testing.T) {
	cfg := NewGORMConfig("lunch_")
	assert.Equal(t, "lunch_interactions", cfg.NamingStrategy.TableName("SQLInteraction"))
	assert.Equal(t, "lunch_items", cfg.NamingStrategy.TableName("SQLItem"))
	assert.True(t, cfg.SkipDefaultTransaction)
}
