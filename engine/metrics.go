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

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefreshSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cofriends",
		Subsystem: "engine",
		Name:      "refresh_seconds",
	})
	RefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cofriends",
		Subsystem: "engine",
		Name:      "refresh_failures_total",
	})
	GenerationGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cofriends",
		Subsystem: "engine",
		Name:      "generation",
	})
	DegradedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cofriends",
		Subsystem: "engine",
		Name:      "degraded",
	})
	RecommendSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cofriends",
		Subsystem: "engine",
		Name:      "recommend_seconds",
	})
	ExplainSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cofriends",
		Subsystem: "engine",
		Name:      "explain_seconds",
	})
	ExplanationCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cofriends",
		Subsystem: "engine",
		Name:      "explanation_cache_hits_total",
	})
	ExplanationCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cofriends",
		Subsystem: "engine",
		Name:      "explanation_cache_misses_total",
	})
	ExplanationFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cofriends",
		Subsystem: "engine",
		Name:      "explanation_fallbacks_total",
	})
	EncodingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cofriends",
		Subsystem: "engine",
		Name:      "encoding_failures_total",
	})
)
