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
	"testing"

	"github.com/gorse-io/cofriends/common/floats"
	"github.com/gorse-io/cofriends/common/mock"
	"github.com/gorse-io/cofriends/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

func TestHashEncoder(t *testing.T) {
	ctx := context.Background()
	e := NewHashEncoder(256)
	a, err := e.Encode(ctx, "Spicy Korean noodles")
	assert.NoError(t, err)
	assert.Len(t, a, 256)
	assert.InDelta(t, 1, floats.Norm(a), 1e-5)
	again, err := e.Encode(ctx, "spicy korean NOODLES!")
	assert.NoError(t, err)
	assert.Equal(t, a, again)

	b, err := e.Encode(ctx, "korean noodles and dumplings")
	assert.NoError(t, err)
	c, err := e.Encode(ctx, "garden salad bowl")
	assert.NoError(t, err)
	assert.Greater(t, floats.Cosine(a, b), floats.Cosine(a, c))

	_, err = e.Encode(ctx, " ,.! ")
	assert.Error(t, err)
}

func TestNewEncoder(t *testing.T) {
	cfg := config.GetDefaultConfig()
	encoder, err := NewEncoder(cfg.Recommend.Embedding, cfg.OpenAI)
	assert.NoError(t, err)
	assert.IsType(t, &HashEncoder{}, encoder)
	cfg.Recommend.Embedding.Encoder = "openai"
	encoder, err = NewEncoder(cfg.Recommend.Embedding, cfg.OpenAI)
	assert.NoError(t, err)
	assert.IsType(t, &OpenAIEncoder{}, encoder)
	cfg.Recommend.Embedding.Encoder = "word2vec"
	_, err = NewEncoder(cfg.Recommend.Embedding, cfg.OpenAI)
	assert.Error(t, err)
}

type OpenAIEncoderTestSuite struct {
	suite.Suite
	server  *mock.OpenAIServer
	encoder *OpenAIEncoder
}

func (suite *OpenAIEncoderTestSuite) SetupSuite() {
	suite.server = mock.NewOpenAIServer()
	go func() {
		_ = suite.server.Start()
	}()
	suite.server.Ready()
	suite.encoder = NewOpenAIEncoder(config.OpenAIConfig{
		BaseURL:        suite.server.BaseURL(),
		AuthToken:      suite.server.AuthToken(),
		EmbeddingModel: "mxbai-embed-large",
	}, 4)
}

func (suite *OpenAIEncoderTestSuite) TearDownSuite() {
	suite.NoError(suite.server.Close())
}

func (suite *OpenAIEncoderTestSuite) SetupTest() {
	suite.server.Fail(false)
}

func (suite *OpenAIEncoderTestSuite) TestEncode() {
	suite.server.Embeddings([]float32{1, 2, 3, 4})
	vector, err := suite.encoder.Encode(context.Background(), "hand pulled noodles")
	suite.NoError(err)
	suite.Equal([]float32{1, 2, 3, 4}, vector)
}

func (suite *OpenAIEncoderTestSuite) TestDimensionMismatch() {
	suite.server.Embeddings([]float32{1, 2})
	_, err := suite.encoder.Encode(context.Background(), "hand pulled noodles")
	suite.Error(err)
}

func (suite *OpenAIEncoderTestSuite) TestFailure() {
	suite.server.Fail(true)
	_, err := suite.encoder.Encode(context.Background(), "hand pulled noodles")
	suite.Error(err)
}

func TestOpenAIEncoder(t *testing.T) {
	suite.Run(t, new(OpenAIEncoderTestSuite))
}
