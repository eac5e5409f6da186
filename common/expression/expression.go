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
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/juju/errors"
	"github.com/samber/lo"
)

var expressionPattern = regexp.MustCompile(`^(?P<signal>[a-zA-Z][a-zA-Z0-9_]*)(?P<expr_type><=|>=|<|>|=)?(?P<value>[0-9]*\.?[0-9]*)$`)

type ExprType int

const (
	None ExprType = iota
	Less
	LessOrEqual
	Greater
	GreaterOrEqual
	Equal
)

func (typ ExprType) String() string {
	switch typ {
	case Less:
		return "<"
	case LessOrEqual:
		return "<="
	case Greater:
		return ">"
	case GreaterOrEqual:
		return ">="
	case Equal:
		return "="
	default:
		return ""
	}
}

// SignalExpression selects interactions by signal and, optionally, by a bound on the
// weight carried by the interaction. "vote" matches every vote and "rating>=3"
// only ratings of at least three.
type SignalExpression struct {
	Signal   string
	ExprType ExprType
	Value    float64
}

func (f SignalExpression) String() string {
	if f.ExprType == None {
		return f.Signal
	}
	return fmt.Sprintf("%s%v%v", f.Signal, f.ExprType, f.Value)
}

func (f *SignalExpression) FromString(data string) error {
	groupNames := expressionPattern.SubexpNames()
	subMatches := expressionPattern.FindStringSubmatch(data)
	if len(subMatches) == 0 {
		return errors.NotValidf("signal expression %q, expected format: <signal>[<operator><value>]", data)
	}
	*f = SignalExpression{}
	for i, match := range subMatches {
		switch groupNames[i] {
		case "signal":
			f.Signal = match
		case "expr_type":
			switch match {
			case "<":
				f.ExprType = Less
			case "<=":
				f.ExprType = LessOrEqual
			case ">":
				f.ExprType = Greater
			case ">=":
				f.ExprType = GreaterOrEqual
			case "=":
				f.ExprType = Equal
			default:
				f.ExprType = None
			}
		case "value":
			if len(match) > 0 {
				var err error
				f.Value, err = strconv.ParseFloat(match, 64)
				if err != nil {
					return errors.Annotatef(err, "invalid value %q", match)
				}
			}
		}
	}
	if f.ExprType != None && subMatches[expressionPattern.SubexpIndex("value")] == "" {
		return errors.NotValidf("signal expression %q without value", data)
	}
	return nil
}

func (f SignalExpression) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *SignalExpression) UnmarshalText(data []byte) error {
	return f.FromString(string(data))
}

func (f SignalExpression) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *SignalExpression) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Annotate(err, "unmarshal SignalExpression")
	}
	return f.FromString(s)
}

func (f SignalExpression) Match(signal string, value float64) bool {
	if f.Signal != signal {
		return false
	}
	switch f.ExprType {
	case None:
		return true
	case Less:
		return value < f.Value
	case LessOrEqual:
		return value <= f.Value
	case Greater:
		return value > f.Value
	case GreaterOrEqual:
		return value >= f.Value
	case Equal:
		return value == f.Value
	default:
		return false
	}
}

func MatchSignalExpressions(exprs []SignalExpression, signal string, value float64) bool {
	for _, expr := range exprs {
		if expr.Match(signal, value) {
			return true
		}
	}
	return false
}

func MustParseSignalExpression(s string) SignalExpression {
	var expr SignalExpression
	lo.Must0(expr.FromString(s))
	return expr
}
