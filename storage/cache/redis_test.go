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
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type RedisTestSuite struct {
	baseTestSuite
	server *miniredis.Miniredis
}

func (suite *RedisTestSuite) SetupSuite() {
	var err error
	uri := os.Getenv("REDIS_URI")
	if uri == "" {
		suite.server, err = miniredis.Run()
		suite.NoError(err)
		uri = "redis://" + suite.server.Addr() + "/"
	}
	suite.Database, err = Open(uri, "lunch_", 16, time.Hour)
	suite.NoError(err)
}

func (suite *RedisTestSuite) TearDownSuite() {
	suite.NoError(suite.Database.Close())
	if suite.server != nil {
		suite.server.Close()
	}
}

func TestRedis(t *testing.T) {
	suite.Run(t, new(RedisTestSuite))
}

func TestRedisExpire(t *testing.T) {
	server, err := miniredis.Run()
	assert.NoError(t, err)
	defer server.Close()
	database, err := Open("redis://"+server.Addr()+"/", "", 16, time.Minute)
	assert.NoError(t, err)
	defer database.Close()

	ctx := context.Background()
	assert.NoError(t, database.Set(ctx, "u1/i1/0", Entry{Text: "text"}))
	assert.True(t, server.Exists("explanation/u1/i1/0"))
	server.FastForward(2 * time.Minute)
	_, err = database.Get(ctx, "u1/i1/0")
	assert.True(t, errors.Is(err, errors.NotFound))
}
