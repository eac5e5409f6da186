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

package embedding

import (
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gorse-io/cofriends/storage/data"
	"github.com/juju/errors"
)

// Column renders the text embedded for an item.
type Column struct {
	program *vm.Program
}

// NewColumn compiles an expression over item and comments, e.g.
//
//	item.Name + " " + join(item.Categories, " ")
func NewColumn(source string) (*Column, error) {
	program, err := expr.Compile(source, expr.Env(map[string]any{
		"item":     data.Item{},
		"comments": []string{},
	}), expr.AsKind(reflect.String))
	if err != nil {
		return nil, errors.Annotatef(err, "compile column %q", source)
	}
	return &Column{program: program}, nil
}

// Text evaluates the column. Blank results fall back to the item id.
func (c *Column) Text(item data.Item, comments []string) (string, error) {
	if item.Categories == nil {
		item.Categories = []string{}
	}
	if comments == nil {
		comments = []string{}
	}
	result, err := expr.Run(c.program, map[string]any{
		"item":     item,
		"comments": comments,
	})
	if err != nil {
		return "", errors.Annotatef(err, "evaluate column for %s", item.ItemId)
	}
	text, _ := result.(string)
	if strings.TrimSpace(text) == "" {
		return item.ItemId, nil
	}
	return text, nil
}
