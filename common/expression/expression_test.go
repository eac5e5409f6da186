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

package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalExpression_FromString(t *testing.T) {
	var f SignalExpression
	assert.NoError(t, f.FromString("vote"))
	assert.Equal(t, SignalExpression{Signal: "vote"}, f)

	assert.Error(t, f.FromString("1a"))
	assert.Error(t, f.FromString("rating>="))

	assert.NoError(t, f.FromString("rating<2"))
	assert.Equal(t, SignalExpression{Signal: "rating", ExprType: Less, Value: 2}, f)
	assert.NoError(t, f.FromString("rating<=2"))
	assert.Equal(t, LessOrEqual, f.ExprType)
	assert.NoError(t, f.FromString("rating>2.5"))
	assert.Equal(t, SignalExpression{Signal: "rating", ExprType: Greater, Value: 2.5}, f)
	assert.NoError(t, f.FromString("rating>=3"))
	assert.Equal(t, GreaterOrEqual, f.ExprType)
	assert.NoError(t, f.FromString("rating=5"))
	assert.Equal(t, Equal, f.ExprType)
}

func TestSignalExpression_MarshalJSON(t *testing.T) {
	f := SignalExpression{Signal: "vote", Value: 16}
	buf, err := f.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"vote"`, string(buf))

	f = SignalExpression{Signal: "rating", ExprType: GreaterOrEqual, Value: 3}
	text, err := f.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "rating>=3", string(text))

	var g SignalExpression
	assert.NoError(t, g.UnmarshalJSON([]byte(`"rating>=3"`)))
	assert.Equal(t, f, g)
	assert.NoError(t, g.UnmarshalText([]byte("comment")))
	assert.Equal(t, SignalExpression{Signal: "comment"}, g)
}

func TestSignalExpression_Match(t *testing.T) {
	exprs := []SignalExpression{
		MustParseSignalExpression("vote"),
		MustParseSignalExpression("rating>=3"),
	}
	assert.True(t, MatchSignalExpressions(exprs, "vote", 0))
	assert.True(t, MatchSignalExpressions(exprs, "rating", 3))
	assert.False(t, MatchSignalExpressions(exprs, "rating", 2))
	assert.False(t, MatchSignalExpressions(exprs, "comment", 1))
	assert.True(t, MustParseSignalExpression("rating<2").Match("rating", 1))
	assert.True(t, MustParseSignalExpression("rating<=2").Match("rating", 2))
	assert.True(t, MustParseSignalExpression("rating>2").Match("rating", 3))
	assert.True(t, MustParseSignalExpression("rating=5").Match("rating", 5))
	assert.Panics(t, func() { MustParseSignalExpression(">") })
}
