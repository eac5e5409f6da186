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

package mock

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/sashabaranov/go-openai"
)

// OpenAIServer is an in-process stand-in for an OpenAI compatible API. Chat completions
// echo the last message unless a reply is set; embeddings return the configured vector.
type OpenAIServer struct {
	listener   net.Listener
	httpServer *http.Server
	authToken  string
	ready      chan struct{}

	mu             sync.Mutex
	mockEmbeddings []float32
	reply          string
	failure        bool
	delay          time.Duration

	chatRequests      atomic.Int64
	embeddingRequests atomic.Int64
}

func NewOpenAIServer() *OpenAIServer {
	s := &OpenAIServer{}
	ws := new(restful.WebService)
	ws.Path("/v1").
		Consumes(restful.MIME_JSON).
		Produces(restful.MIME_JSON)
	ws.Route(ws.POST("chat/completions").
		Reads(openai.ChatCompletionRequest{}).
		Writes(openai.ChatCompletionResponse{}).
		To(s.chatCompletion))
	ws.Route(ws.POST("embeddings").
		Reads(openai.EmbeddingRequest{}).
		Writes(openai.EmbeddingResponse{}).
		To(s.embeddings))
	container := restful.NewContainer()
	container.Add(ws)
	s.httpServer = &http.Server{Handler: container}
	s.authToken = "ollama"
	s.ready = make(chan struct{})
	return s
}

func (s *OpenAIServer) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	close(s.ready)
	return s.httpServer.Serve(s.listener)
}

func (s *OpenAIServer) BaseURL() string {
	return fmt.Sprintf("http://%s/v1", s.listener.Addr().String())
}

func (s *OpenAIServer) AuthToken() string {
	return s.authToken
}

func (s *OpenAIServer) Ready() {
	<-s.ready
}

func (s *OpenAIServer) Close() error {
	return s.httpServer.Close()
}

func (s *OpenAIServer) Embeddings(embeddings []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mockEmbeddings = embeddings
}

// Reply fixes the content of every chat completion. An empty reply restores echoing.
func (s *OpenAIServer) Reply(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = content
}

// Fail makes every endpoint answer 500 until it is called with false.
func (s *OpenAIServer) Fail(failure bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = failure
}

// Delay holds every response for the given duration.
func (s *OpenAIServer) Delay(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = delay
}

func (s *OpenAIServer) ChatRequests() int64 {
	return s.chatRequests.Load()
}

func (s *OpenAIServer) EmbeddingRequests() int64 {
	return s.embeddingRequests.Load()
}

func (s *OpenAIServer) behavior() (delay time.Duration, failure bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay, s.failure
}

func (s *OpenAIServer) chatCompletion(req *restful.Request, resp *restful.Response) {
	s.chatRequests.Add(1)
	delay, failure := s.behavior()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-req.Request.Context().Done():
			return
		}
	}
	if failure {
		_ = resp.WriteError(http.StatusInternalServerError, fmt.Errorf("mock failure"))
		return
	}
	var r openai.ChatCompletionRequest
	if err := req.ReadEntity(&r); err != nil {
		_ = resp.WriteError(http.StatusBadRequest, err)
		return
	}
	if len(r.Messages) == 0 {
		_ = resp.WriteError(http.StatusBadRequest, fmt.Errorf("no messages"))
		return
	}
	s.mu.Lock()
	content := s.reply
	s.mu.Unlock()
	if content == "" {
		content = r.Messages[len(r.Messages)-1].Content
	}
	_ = resp.WriteEntity(openai.ChatCompletionResponse{
		Model: r.Model,
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			},
			FinishReason: openai.FinishReasonStop,
		}},
	})
}

func (s *OpenAIServer) embeddings(req *restful.Request, resp *restful.Response) {
	s.embeddingRequests.Add(1)
	delay, failure := s.behavior()
	if delay > 0 {
		time.Sleep(delay)
	}
	if failure {
		_ = resp.WriteError(http.StatusInternalServerError, fmt.Errorf("mock failure"))
		return
	}
	var r openai.EmbeddingRequest
	if err := req.ReadEntity(&r); err != nil {
		_ = resp.WriteError(http.StatusBadRequest, err)
		return
	}
	s.mu.Lock()
	embeddings := s.mockEmbeddings
	s.mu.Unlock()
	_ = resp.WriteEntity(openai.EmbeddingResponse{
		Model: r.Model,
		Data: []openai.Embedding{{
			Object:    "embedding",
			Embedding: embeddings,
		}},
	})
}
