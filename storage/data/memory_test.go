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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type MemoryTestSuite struct {
	baseTestSuite
}

func (suite *MemoryTestSuite) SetupSuite() {
	suite.Database = NewMemory()
}

func TestMemory(t *testing.T) {
	suite.Run(t, new(MemoryTestSuite))
}

func TestMergeInteractions(t *testing.T) {
	base := time.Date(2026, 4, 8, 12, 0, 0, 0, time.UTC)
	old := []Interaction{
		{InteractionKey: InteractionKey{UserId: "u1", ItemId: "i1", Signal: SignalVote}, Weight: 1, Timestamp: base},
		{InteractionKey: InteractionKey{UserId: "u1", ItemId: "i2", Signal: SignalVote}, Weight: 1, Timestamp: base.Add(time.Minute)},
	}
	updates := []Interaction{
		{InteractionKey: InteractionKey{UserId: "u1", ItemId: "i1", Signal: SignalVote}, Weight: 0, Timestamp: base.Add(time.Hour)},
		{InteractionKey: InteractionKey{UserId: "u1", ItemId: "i2", Signal: SignalVote}, Weight: 5, Timestamp: base.Add(-time.Hour)},
	}
	merged := MergeInteractions(old, updates)
	assert.Equal(t, []Interaction{old[1], updates[0]}, merged)
	assert.Empty(t, MergeInteractions(nil, nil))
}
