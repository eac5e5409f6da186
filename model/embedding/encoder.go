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
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/gorse-io/cofriends/common/floats"
	"github.com/gorse-io/cofriends/common/parallel"
	"github.com/gorse-io/cofriends/config"
	"github.com/juju/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/tiktoken-go/tokenizer"
)

// Encoder turns free text into a vector of a fixed dimension.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// NewEncoder creates the encoder named by the embedding config.
func NewEncoder(cfg config.EmbeddingConfig, openaiConfig config.OpenAIConfig) (Encoder, error) {
	switch cfg.Encoder {
	case "hash":
		return NewHashEncoder(cfg.Dimension), nil
	case "openai":
		return NewOpenAIEncoder(openaiConfig, cfg.Dimension), nil
	default:
		return nil, errors.NotSupportedf("encoder %s", cfg.Encoder)
	}
}

// HashEncoder is a local bag-of-words encoder. Lower-cased tokens and their adjacent
// pairs are hashed into signed buckets.
type HashEncoder struct {
	dimension int
}

func NewHashEncoder(dimension int) *HashEncoder {
	return &HashEncoder{dimension: dimension}
}

func (e *HashEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	vector := make([]float32, e.dimension)
	for i, token := range tokens {
		e.add(vector, token, 1)
		if i > 0 {
			e.add(vector, tokens[i-1]+" "+token, 0.5)
		}
	}
	if !floats.Normalize(vector) {
		return nil, errors.NotValidf("text without tokens")
	}
	return vector, nil
}

func (e *HashEncoder) add(vector []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	if h>>63 == 1 {
		weight = -weight
	}
	vector[h%uint64(e.dimension)] += weight
}

// OpenAIEncoder calls an OpenAI compatible embeddings endpoint.
type OpenAIEncoder struct {
	client     *openai.Client
	model      string
	dimension  int
	rpm        parallel.RateLimiter
	tpm        parallel.RateLimiter
	tokenCodec tokenizer.Codec
}

func NewOpenAIEncoder(cfg config.OpenAIConfig, dimension int) *OpenAIEncoder {
	clientConfig := openai.DefaultConfig(cfg.AuthToken)
	clientConfig.BaseURL = cfg.BaseURL
	codec, _ := tokenizer.Get(tokenizer.Cl100kBase)
	return &OpenAIEncoder{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.EmbeddingModel,
		dimension:  dimension,
		rpm:        parallel.NewRateLimiter(cfg.EmbeddingRPM),
		tpm:        parallel.NewRateLimiter(cfg.EmbeddingTPM),
		tokenCodec: codec,
	}
}

func (e *OpenAIEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	if err := parallel.Wait(ctx, e.rpm, 1); err != nil {
		return nil, errors.Trace(err)
	}
	if err := parallel.Wait(ctx, e.tpm, e.countTokens(text)); err != nil {
		return nil, errors.Trace(err)
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      text,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimension,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("empty embeddings response")
	}
	vector := resp.Data[0].Embedding
	if len(vector) != e.dimension {
		return nil, errors.NotValidf("embedding dimension %d, expected %d", len(vector), e.dimension)
	}
	return vector, nil
}

func (e *OpenAIEncoder) countTokens(text string) int64 {
	if e.tokenCodec == nil {
		return int64(len(text)/4 + 1)
	}
	ids, _, err := e.tokenCodec.Encode(text)
	if err != nil {
		return int64(len(text)/4 + 1)
	}
	return int64(len(ids))
}
