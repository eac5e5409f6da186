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
	"time"

	"github.com/stretchr/testify/suite"
)

type baseTestSuite struct {
	suite.Suite
	Database
}

func (suite *baseTestSuite) TearDownSuite() {
	err := suite.Database.Close()
	suite.NoError(err)
}

func (suite *baseTestSuite) SetupTest() {
	err := suite.Database.Ping()
	suite.NoError(err)
	err = suite.Database.Purge()
	suite.NoError(err)
}

func (suite *baseTestSuite) TearDownTest() {
	err := suite.Database.Purge()
	suite.NoError(err)
}

func (suite *baseTestSuite) TestInit() {
	err := suite.Database.Init()
	suite.NoError(err)
}

func (suite *baseTestSuite) TestInteractions() {
	ctx := context.Background()
	base := time.Date(2026, 4, 8, 12, 0, 0, 0, time.UTC)
	interactions := []Interaction{
		{InteractionKey: InteractionKey{UserId: "u1", ItemId: "i1", Signal: SignalVote}, Weight: 1, Timestamp: base},
		{InteractionKey: InteractionKey{UserId: "u1", ItemId: "i2", Signal: SignalVote}, Weight: 1, Timestamp: base.Add(time.Hour)},
		{InteractionKey: InteractionKey{UserId: "u2", ItemId: "i1", Signal: SignalComment}, Weight: 1, Comment: "great broth", Timestamp: base.Add(2 * time.Hour)},
	}
	err := suite.Database.BatchInsertInteractions(ctx, interactions)
	suite.NoError(err)
	err = suite.Database.BatchInsertInteractions(ctx, nil)
	suite.NoError(err)

	// full snapshot from oldest to latest
	result, err := suite.Database.GetInteractions(ctx, nil)
	suite.NoError(err)
	suite.Equal(interactions, result)
	count, err := suite.Database.CountInteractions(ctx)
	suite.NoError(err)
	suite.Equal(3, count)

	// incremental snapshot
	since := base.Add(30 * time.Minute)
	result, err = suite.Database.GetInteractions(ctx, &since)
	suite.NoError(err)
	suite.Equal(interactions[1:], result)

	// re-voting overwrites
	revote := Interaction{InteractionKey: InteractionKey{UserId: "u1", ItemId: "i1", Signal: SignalVote}, Weight: 0, Timestamp: base.Add(3 * time.Hour)}
	err = suite.Database.BatchInsertInteractions(ctx, []Interaction{revote})
	suite.NoError(err)
	result, err = suite.Database.GetInteractions(ctx, nil)
	suite.NoError(err)
	suite.Equal([]Interaction{interactions[1], interactions[2], revote}, result)
	count, err = suite.Database.CountInteractions(ctx)
	suite.NoError(err)
	suite.Equal(3, count)
}

func (suite *baseTestSuite) TestItems() {
	ctx := context.Background()
	base := time.Date(2026, 4, 8, 12, 0, 0, 0, time.UTC)
	items := []Item{
		{ItemId: "i1", Name: "Noodle Bar", Categories: []string{"korean", "noodle"}, Description: "hand pulled noodles", Timestamp: base},
		{ItemId: "i2", Name: "Green Bowl", Categories: []string{"salad"}, Description: "salads", Timestamp: base.Add(time.Hour)},
	}
	err := suite.Database.BatchInsertItems(ctx, items)
	suite.NoError(err)
	result, err := suite.Database.GetItems(ctx, nil)
	suite.NoError(err)
	suite.Equal(items, result)

	since := base.Add(time.Minute)
	result, err = suite.Database.GetItems(ctx, &since)
	suite.NoError(err)
	suite.Equal(items[1:], result)

	// overwrite
	items[0].Description = "closed on mondays"
	items[0].Timestamp = base.Add(2 * time.Hour)
	err = suite.Database.BatchInsertItems(ctx, items[:1])
	suite.NoError(err)
	result, err = suite.Database.GetItems(ctx, nil)
	suite.NoError(err)
	suite.Equal(items, result)
}

func (suite *baseTestSuite) TestCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := suite.Database.GetInteractions(ctx, nil)
	suite.Error(err)
}
