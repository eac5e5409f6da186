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

package logics

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorse-io/cofriends/base/log"
	"github.com/gorse-io/cofriends/common/parallel"
	"github.com/gorse-io/cofriends/config"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"
	"github.com/tiktoken-go/tokenizer"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"
)

// OpenAIModel completes prompts with an OpenAI compatible chat endpoint.
type OpenAIModel struct {
	client     *openai.Client
	model      string
	maxRetries int
	rpm        parallel.RateLimiter
	tpm        parallel.RateLimiter
	codec      tokenizer.Codec
	// initialInterval of the retry backoff
	initialInterval time.Duration
}

func NewOpenAIModel(cfg config.OpenAIConfig, maxRetries int) *OpenAIModel {
	clientConfig := openai.DefaultConfig(cfg.AuthToken)
	clientConfig.BaseURL = cfg.BaseURL
	codec, _ := tokenizer.Get(tokenizer.Cl100kBase)
	return &OpenAIModel{
		client:          openai.NewClientWithConfig(clientConfig),
		model:           cfg.ChatCompletionModel,
		maxRetries:      max(maxRetries, 0),
		rpm:             parallel.NewRateLimiter(cfg.ChatCompletionRPM),
		tpm:             parallel.NewRateLimiter(cfg.ChatCompletionTPM),
		codec:           codec,
		initialInterval: 200 * time.Millisecond,
	}
}

// Complete sends the prompt as a single user message and returns the reply as plain
// text. Failed requests are retried with exponential backoff until ctx is done.
func (m *OpenAIModel) Complete(ctx context.Context, prompt string) (string, error) {
	tokens := int64(len(prompt)/4 + 1)
	if m.codec != nil {
		if ids, _, err := m.codec.Encode(prompt); err == nil {
			tokens = int64(len(ids))
		}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initialInterval
	return backoff.Retry(ctx, func() (string, error) {
		if err := parallel.Wait(ctx, m.rpm, 1); err != nil {
			return "", backoff.Permanent(err)
		}
		if err := parallel.Wait(ctx, m.tpm, tokens); err != nil {
			return "", backoff.Permanent(err)
		}
		resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: m.model,
			Messages: []openai.ChatCompletionMessage{{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			}},
		})
		if err != nil {
			log.Logger().Debug("chat completion failed", zap.Error(err))
			return "", errors.Trace(err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("no choices in chat completion")
		}
		return plainText(stripThink(resp.Choices[0].Message.Content)), nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(m.maxRetries+1)))
}

// stripThink strips the <think> tag from the message.
func stripThink(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "<think>") {
		return s
	}
	end := strings.Index(s, "</think>")
	if end == -1 {
		return s
	}
	return s[end+8:]
}

// plainText renders markdown as plain text. Code blocks are dropped and blocks are
// separated by newlines.
func plainText(message string) string {
	source := []byte(message)
	root := goldmark.DefaultParser().Parse(text.NewReader(source))
	var buf strings.Builder
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		default:
			if !entering && n.Type() == ast.TypeBlock && buf.Len() > 0 && !strings.HasSuffix(buf.String(), "\n") {
				buf.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	lines := strings.Split(buf.String(), "\n")
	for i := range lines {
		lines[i] = strings.Join(strings.Fields(lines[i]), " ")
	}
	return strings.TrimSpace(strings.Join(lo.Compact(lines), "\n"))
}
