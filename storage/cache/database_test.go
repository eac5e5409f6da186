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

	"github.com/juju/errors"
	"github.com/stretchr/testify/suite"
)

type baseTestSuite struct {
	suite.Suite
	Database
}

func (suite *baseTestSuite) TestGetSet() {
	ctx := context.Background()
	_, err := suite.Database.Get(ctx, "u1/i1/0000000000000001")
	suite.True(errors.Is(err, errors.NotFound), err)

	entry := Entry{Text: "You liked Noodle Bar.", GeneratedAt: time.Date(2026, 4, 8, 12, 0, 0, 0, time.UTC)}
	err = suite.Database.Set(ctx, "u1/i1/0000000000000001", entry)
	suite.NoError(err)
	got, err := suite.Database.Get(ctx, "u1/i1/0000000000000001")
	suite.NoError(err)
	suite.Equal(entry.Text, got.Text)
	suite.True(entry.GeneratedAt.Equal(got.GeneratedAt))

	// last writer wins
	entry.Text = "You liked Green Bowl."
	err = suite.Database.Set(ctx, "u1/i1/0000000000000001", entry)
	suite.NoError(err)
	got, err = suite.Database.Get(ctx, "u1/i1/0000000000000001")
	suite.NoError(err)
	suite.Equal("You liked Green Bowl.", got.Text)

	err = suite.Database.Delete(ctx, "u1/i1/0000000000000001")
	suite.NoError(err)
	_, err = suite.Database.Get(ctx, "u1/i1/0000000000000001")
	suite.True(errors.Is(err, errors.NotFound), err)
}
