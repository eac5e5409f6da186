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

package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/cofriends/common/expression"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration for the engine.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Server    ServerConfig    `mapstructure:"server"`
}

type DatabaseConfig struct {
	DataStore   string `mapstructure:"data_store" validate:"required"`
	CacheStore  string `mapstructure:"cache_store"`
	TablePrefix string `mapstructure:"table_prefix"`
}

type RecommendConfig struct {
	DefaultN      int                 `mapstructure:"default_n" validate:"gt=0"`
	CandidatePool int                 `mapstructure:"candidate_pool" validate:"gt=0"`
	ExcludeVoted  bool                `mapstructure:"exclude_voted"`
	Fusion        FusionConfig        `mapstructure:"fusion"`
	DataSource    DataSourceConfig    `mapstructure:"data_source"`
	Collaborative CollaborativeConfig `mapstructure:"collaborative"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Graph         GraphConfig         `mapstructure:"graph"`
	Explain       ExplainConfig       `mapstructure:"explain"`
	Refresh       RefreshConfig       `mapstructure:"refresh"`
}

type FusionConfig struct {
	CFWeight        float64 `mapstructure:"cf_weight" validate:"gte=0"`
	EmbeddingWeight float64 `mapstructure:"embedding_weight" validate:"gte=0"`
}

type DataSourceConfig struct {
	// PositiveSignals select the interactions that count as preference, e.g. "rating>=3".
	PositiveSignals []expression.SignalExpression `mapstructure:"positive_signals" validate:"required"`
	SignalWeights   map[string]float64            `mapstructure:"signal_weights"`
	// WeightCap bounds the summed weight of a single (user, item) pair.
	WeightCap float64 `mapstructure:"weight_cap" validate:"gt=0"`
}

type CollaborativeConfig struct {
	NFactors       int     `mapstructure:"n_factors" validate:"gt=0"`
	NEpochs        int     `mapstructure:"n_epochs" validate:"gt=0"`
	Regularization float64 `mapstructure:"regularization" validate:"gte=0"`
	Alpha          float64 `mapstructure:"alpha" validate:"gt=0"`
	InitStdDev     float64 `mapstructure:"init_std_dev" validate:"gt=0"`
	NeighborWeight float64 `mapstructure:"neighbor_weight" validate:"gte=0"`
	NumNeighbors   int     `mapstructure:"num_neighbors" validate:"gt=0"`
	NumJobs        int     `mapstructure:"num_jobs" validate:"gt=0"`
	RandomSeed     int64   `mapstructure:"random_seed"`
}

type EmbeddingConfig struct {
	Encoder   string `mapstructure:"encoder" validate:"oneof=hash openai"`
	Dimension int    `mapstructure:"dimension" validate:"gt=0"`
	Index     string `mapstructure:"index" validate:"oneof=bruteforce hnsw"`
	// Column is an expression producing the text embedded for an item.
	Column string `mapstructure:"column" validate:"required"`
}

type GraphConfig struct {
	MaxDepth     int     `mapstructure:"max_depth" validate:"gte=1,lte=2"`
	MaxNodes     int     `mapstructure:"max_nodes" validate:"gte=2"`
	SimilarUsers int     `mapstructure:"similar_users" validate:"gte=0"`
	MinSimilar   float64 `mapstructure:"min_similar" validate:"gte=0,lte=1"`
}

type ExplainConfig struct {
	EnableLLM       bool          `mapstructure:"enable_llm"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries      int           `mapstructure:"max_retries" validate:"gte=0"`
	HistoryTopK     int           `mapstructure:"history_top_k" validate:"gt=0"`
	MaxPromptTokens int           `mapstructure:"max_prompt_tokens" validate:"gt=0"`
	CacheSize       int           `mapstructure:"cache_size" validate:"gt=0"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	Prompt          string        `mapstructure:"prompt" validate:"required"`
}

type RefreshConfig struct {
	Period            time.Duration `mapstructure:"period" validate:"gte=0"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	DegradedThreshold int           `mapstructure:"degraded_threshold" validate:"gte=1"`
	Incremental       bool          `mapstructure:"incremental"`
	// Lookback re-reads records this far before the previous cursor.
	Lookback time.Duration `mapstructure:"lookback" validate:"gte=0"`
	// FullReloadEvery forces a full reload after this many incremental refreshes.
	FullReloadEvery int `mapstructure:"full_reload_every" validate:"gte=0"`
}

type OpenAIConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	AuthToken           string `mapstructure:"auth_token"`
	ChatCompletionModel string `mapstructure:"chat_completion_model"`
	EmbeddingModel      string `mapstructure:"embedding_model"`
	ChatCompletionRPM   int    `mapstructure:"chat_completion_rpm" validate:"gte=0"`
	ChatCompletionTPM   int    `mapstructure:"chat_completion_tpm" validate:"gte=0"`
	EmbeddingRPM        int    `mapstructure:"embedding_rpm" validate:"gte=0"`
	EmbeddingTPM        int    `mapstructure:"embedding_tpm" validate:"gte=0"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"gte=0,lte=65535"`
}

const DefaultPrompt = `You help colleagues decide where to have lunch.
In two or three friendly sentences, explain why {{ user }} might enjoy {{ item }}.
{% if history %}Places {{ user }} voted for before:
{% for h in history %}- {{ h }}
{% endfor %}{% endif %}{% if facts %}What colleagues did:
{% for f in facts %}- {{ f }}
{% endfor %}{% endif %}Only use the facts above.`

const DefaultColumn = `item.Name + " " + join(item.Categories, " ") + " " + item.Description + " " + join(comments, " ")`

func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataStore: "sqlite://cofriends.db",
		},
		Recommend: RecommendConfig{
			DefaultN:      10,
			CandidatePool: 100,
			ExcludeVoted:  true,
			Fusion: FusionConfig{
				CFWeight:        0.6,
				EmbeddingWeight: 0.4,
			},
			DataSource: DataSourceConfig{
				PositiveSignals: []expression.SignalExpression{
					expression.MustParseSignalExpression("vote"),
					expression.MustParseSignalExpression("comment"),
					expression.MustParseSignalExpression("rating>=3"),
				},
				SignalWeights: map[string]float64{"vote": 1, "comment": 0.5, "rating": 1},
				WeightCap:     3,
			},
			Collaborative: CollaborativeConfig{
				NFactors:       16,
				NEpochs:        20,
				Regularization: 0.01,
				Alpha:          0.001,
				InitStdDev:     0.01,
				NeighborWeight: 0.5,
				NumNeighbors:   20,
				NumJobs:        1,
			},
			Embedding: EmbeddingConfig{
				Encoder:   "hash",
				Dimension: 256,
				Index:     "bruteforce",
				Column:    DefaultColumn,
			},
			Graph: GraphConfig{
				MaxDepth:     2,
				MaxNodes:     50,
				SimilarUsers: 3,
				MinSimilar:   0.1,
			},
			Explain: ExplainConfig{
				Timeout:         5 * time.Second,
				MaxRetries:      2,
				HistoryTopK:     5,
				MaxPromptTokens: 1024,
				CacheSize:       1024,
				CacheTTL:        24 * time.Hour,
				Prompt:          DefaultPrompt,
			},
			Refresh: RefreshConfig{
				Period:            10 * time.Minute,
				Timeout:           5 * time.Minute,
				DegradedThreshold: 2,
				Incremental:       true,
				Lookback:          time.Hour,
				FullReloadEvery:   6,
			},
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8087,
		},
	}
}

func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.Trace(err)
	}
	if config.Recommend.Fusion.CFWeight+config.Recommend.Fusion.EmbeddingWeight <= 0 {
		return errors.NotValidf("fusion weights %v and %v", config.Recommend.Fusion.CFWeight, config.Recommend.Fusion.EmbeddingWeight)
	}
	if config.Recommend.Embedding.Encoder == "openai" && config.OpenAI.EmbeddingModel == "" {
		return errors.NotValidf("openai encoder without embedding model")
	}
	if config.Recommend.Explain.EnableLLM && config.OpenAI.ChatCompletionModel == "" {
		return errors.NotValidf("llm explanations without chat completion model")
	}
	return nil
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [database]
	v.SetDefault("database.data_store", defaultConfig.Database.DataStore)
	v.SetDefault("database.cache_store", defaultConfig.Database.CacheStore)
	v.SetDefault("database.table_prefix", defaultConfig.Database.TablePrefix)
	// [recommend]
	v.SetDefault("recommend.default_n", defaultConfig.Recommend.DefaultN)
	v.SetDefault("recommend.candidate_pool", defaultConfig.Recommend.CandidatePool)
	v.SetDefault("recommend.exclude_voted", defaultConfig.Recommend.ExcludeVoted)
	// [recommend.fusion]
	v.SetDefault("recommend.fusion.cf_weight", defaultConfig.Recommend.Fusion.CFWeight)
	v.SetDefault("recommend.fusion.embedding_weight", defaultConfig.Recommend.Fusion.EmbeddingWeight)
	// [recommend.data_source]
	v.SetDefault("recommend.data_source.positive_signals", []string{"vote", "comment", "rating>=3"})
	v.SetDefault("recommend.data_source.signal_weights", defaultConfig.Recommend.DataSource.SignalWeights)
	v.SetDefault("recommend.data_source.weight_cap", defaultConfig.Recommend.DataSource.WeightCap)
	// [recommend.collaborative]
	v.SetDefault("recommend.collaborative.n_factors", defaultConfig.Recommend.Collaborative.NFactors)
	v.SetDefault("recommend.collaborative.n_epochs", defaultConfig.Recommend.Collaborative.NEpochs)
	v.SetDefault("recommend.collaborative.regularization", defaultConfig.Recommend.Collaborative.Regularization)
	v.SetDefault("recommend.collaborative.alpha", defaultConfig.Recommend.Collaborative.Alpha)
	v.SetDefault("recommend.collaborative.init_std_dev", defaultConfig.Recommend.Collaborative.InitStdDev)
	v.SetDefault("recommend.collaborative.neighbor_weight", defaultConfig.Recommend.Collaborative.NeighborWeight)
	v.SetDefault("recommend.collaborative.num_neighbors", defaultConfig.Recommend.Collaborative.NumNeighbors)
	v.SetDefault("recommend.collaborative.num_jobs", defaultConfig.Recommend.Collaborative.NumJobs)
	v.SetDefault("recommend.collaborative.random_seed", defaultConfig.Recommend.Collaborative.RandomSeed)
	// [recommend.embedding]
	v.SetDefault("recommend.embedding.encoder", defaultConfig.Recommend.Embedding.Encoder)
	v.SetDefault("recommend.embedding.dimension", defaultConfig.Recommend.Embedding.Dimension)
	v.SetDefault("recommend.embedding.index", defaultConfig.Recommend.Embedding.Index)
	v.SetDefault("recommend.embedding.column", defaultConfig.Recommend.Embedding.Column)
	// [recommend.graph]
	v.SetDefault("recommend.graph.max_depth", defaultConfig.Recommend.Graph.MaxDepth)
	v.SetDefault("recommend.graph.max_nodes", defaultConfig.Recommend.Graph.MaxNodes)
	v.SetDefault("recommend.graph.similar_users", defaultConfig.Recommend.Graph.SimilarUsers)
	v.SetDefault("recommend.graph.min_similar", defaultConfig.Recommend.Graph.MinSimilar)
	// [recommend.explain]
	v.SetDefault("recommend.explain.enable_llm", defaultConfig.Recommend.Explain.EnableLLM)
	v.SetDefault("recommend.explain.timeout", defaultConfig.Recommend.Explain.Timeout)
	v.SetDefault("recommend.explain.max_retries", defaultConfig.Recommend.Explain.MaxRetries)
	v.SetDefault("recommend.explain.history_top_k", defaultConfig.Recommend.Explain.HistoryTopK)
	v.SetDefault("recommend.explain.max_prompt_tokens", defaultConfig.Recommend.Explain.MaxPromptTokens)
	v.SetDefault("recommend.explain.cache_size", defaultConfig.Recommend.Explain.CacheSize)
	v.SetDefault("recommend.explain.cache_ttl", defaultConfig.Recommend.Explain.CacheTTL)
	v.SetDefault("recommend.explain.prompt", defaultConfig.Recommend.Explain.Prompt)
	// [recommend.refresh]
	v.SetDefault("recommend.refresh.period", defaultConfig.Recommend.Refresh.Period)
	v.SetDefault("recommend.refresh.timeout", defaultConfig.Recommend.Refresh.Timeout)
	v.SetDefault("recommend.refresh.degraded_threshold", defaultConfig.Recommend.Refresh.DegradedThreshold)
	v.SetDefault("recommend.refresh.incremental", defaultConfig.Recommend.Refresh.Incremental)
	v.SetDefault("recommend.refresh.lookback", defaultConfig.Recommend.Refresh.Lookback)
	v.SetDefault("recommend.refresh.full_reload_every", defaultConfig.Recommend.Refresh.FullReloadEvery)
	// [openai]
	v.SetDefault("openai.base_url", defaultConfig.OpenAI.BaseURL)
	v.SetDefault("openai.auth_token", defaultConfig.OpenAI.AuthToken)
	v.SetDefault("openai.chat_completion_model", defaultConfig.OpenAI.ChatCompletionModel)
	v.SetDefault("openai.embedding_model", defaultConfig.OpenAI.EmbeddingModel)
	v.SetDefault("openai.chat_completion_rpm", defaultConfig.OpenAI.ChatCompletionRPM)
	v.SetDefault("openai.chat_completion_tpm", defaultConfig.OpenAI.ChatCompletionTPM)
	v.SetDefault("openai.embedding_rpm", defaultConfig.OpenAI.EmbeddingRPM)
	v.SetDefault("openai.embedding_tpm", defaultConfig.OpenAI.EmbeddingTPM)
	// [server]
	v.SetDefault("server.host", defaultConfig.Server.Host)
	v.SetDefault("server.port", defaultConfig.Server.Port)
}

// LoadConfig reads a TOML file, then lets COFRIENDS_* environment variables override
// it. An empty path loads the defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	v.SetEnvPrefix("cofriends")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var config Config
	if err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Annotate(err, "invalid config")
	}
	return &config, nil
}
