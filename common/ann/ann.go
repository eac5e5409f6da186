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

package ann

import (
	"github.com/samber/lo"
)

// Index finds the nearest vectors of a query. Results are (position, distance) pairs
// ordered by increasing distance, where position is the order of Add calls.
type Index interface {
	Add(v []float32) (int, error)
	SearchVector(q []float32, k int) []lo.Tuple2[int, float32]
	Len() int
}
