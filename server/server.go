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

package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"github.com/gorse-io/cofriends/base/log"
	"github.com/gorse-io/cofriends/config"
	"github.com/gorse-io/cofriends/engine"
	"github.com/gorse-io/cofriends/graph"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const HeaderRequestID = "X-Request-ID"

// Server binds the engine to a REST API.
type Server struct {
	Engine     *engine.Engine
	Config     *config.Config
	WebService *restful.WebService
}

func NewServer(e *engine.Engine, cfg *config.Config) *Server {
	s := &Server{Engine: e, Config: cfg, WebService: new(restful.WebService)}
	s.CreateWebService()
	return s
}

// Handler returns a container serving the API and metrics.
func (s *Server) Handler() *restful.Container {
	container := restful.NewContainer()
	container.Add(s.WebService)
	container.Handle("/metrics", promhttp.Handler())
	return container
}

// Serve listens until ctx is done and then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: s.Handler()}
	errs := make(chan error, 1)
	go func() {
		log.Logger().Info("start http server", zap.String("url", "http://"+addr))
		errs <- httpServer.ListenAndServe()
	}()
	select {
	case err := <-errs:
		return errors.Trace(err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Trace(httpServer.Shutdown(shutdownCtx))
	}
}

// RequestIDFilter propagates or assigns a request id.
func RequestIDFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	requestId := req.HeaderParameter(HeaderRequestID)
	if requestId == "" {
		requestId = uuid.NewString()
	}
	resp.Header().Set(HeaderRequestID, requestId)
	chain.ProcessFilter(req, resp)
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)
	if req.Request.URL.Path != "/api/health" {
		log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
			zap.Int("status_code", resp.StatusCode()),
			zap.Duration("duration", time.Since(start)))
	}
}

// CreateWebService creates web service.
func (s *Server) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(RequestIDFilter)
	ws.Filter(LogFilter)

	ws.Route(ws.GET("/recommend/{user-id}").To(s.getRecommend).
		Doc("Recommend items for a user.").
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Param(ws.QueryParameter("query", "free text blended into the user preference").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Writes([]RankedItem{}))
	ws.Route(ws.GET("/explain/{user-id}/{item-id}").To(s.getExplain).
		Doc("Explain why an item is recommended to a user.").
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Param(ws.PathParameter("item-id", "identifier of the item").DataType("string")))
	ws.Route(ws.POST("/refresh").To(s.refresh).
		Doc("Rebuild the recommendation model.").
		Param(ws.QueryParameter("async", "return before the refresh completes").DataType("boolean")).
		Writes(engine.RefreshResult{}))
	ws.Route(ws.GET("/health").To(s.getHealth).
		Doc("Get the state of the engine.").
		Writes(engine.Health{}))
	ws.Route(ws.GET("/user/{user-id}/neighbors").To(s.getUserNeighbors).
		Doc("Get similar users.").
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned users").DataType("integer")).
		Writes([]engine.Neighbor{}))
	ws.Route(ws.GET("/item/{item-id}/neighbors").To(s.getItemNeighbors).
		Doc("Get similar items.").
		Param(ws.PathParameter("item-id", "identifier of the item").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Writes([]engine.Neighbor{}))
	ws.Route(ws.GET("/stats").To(s.getStats).
		Doc("Get statistics of the current generation.").
		Writes(engine.Stats{}))
	ws.Route(ws.POST("/edges").To(s.insertEdges).
		Doc("Insert relationship graph edges.").
		Reads([]graph.Edge{}).
		Writes(Success{}))
}

// RankedItem is a flat recommendation entry.
type RankedItem struct {
	ItemId     string  `json:"item_id"`
	FusedScore float32 `json:"fused_score"`
	Rank       int     `json:"rank"`
}

type Success struct {
	RowAffected int
}

func ParseInt(request *restful.Request, name string, fallback int) (value int, err error) {
	valueString := request.QueryParameter(name)
	value, err = strconv.Atoi(valueString)
	if err != nil && valueString == "" {
		value = fallback
		err = nil
	}
	return
}

func (s *Server) getRecommend(request *restful.Request, response *restful.Response) {
	userId := request.PathParameter("user-id")
	n, err := ParseInt(request, "n", s.Config.Recommend.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	recommendations, err := s.Engine.Recommend(request.Request.Context(), userId, request.QueryParameter("query"), n)
	if err != nil {
		s.failed(response, err)
		return
	}
	items := make([]RankedItem, len(recommendations))
	for i, candidate := range recommendations {
		items[i] = RankedItem{ItemId: candidate.ItemId, FusedScore: candidate.FusedScore, Rank: candidate.Rank}
	}
	Ok(response, items)
}

func (s *Server) getExplain(request *restful.Request, response *restful.Response) {
	explanation, err := s.Engine.Explain(request.Request.Context(), request.PathParameter("user-id"), request.PathParameter("item-id"))
	if err != nil {
		s.failed(response, err)
		return
	}
	if explanation.Err != nil {
		log.ResponseLogger(response).Warn("explanation degraded to template", zap.Error(explanation.Err))
	}
	Ok(response, explanation)
}

func (s *Server) refresh(request *restful.Request, response *restful.Response) {
	if async, _ := strconv.ParseBool(request.QueryParameter("async")); async {
		s.Engine.RefreshAsync()
		response.Header().Set("Access-Control-Allow-Origin", "*")
		if err := response.WriteHeaderAndJson(http.StatusAccepted, s.Engine.Health(), restful.MIME_JSON); err != nil {
			log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
		}
		return
	}
	result := s.Engine.Refresh(request.Request.Context())
	if result.Err != nil {
		log.ResponseLogger(response).Error("refresh failed", zap.Error(result.Err))
		response.Header().Set("Access-Control-Allow-Origin", "*")
		if err := response.WriteHeaderAndJson(http.StatusInternalServerError, result, restful.MIME_JSON); err != nil {
			log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
		}
		return
	}
	Ok(response, result)
}

func (s *Server) getHealth(_ *restful.Request, response *restful.Response) {
	Ok(response, s.Engine.Health())
}

func (s *Server) getUserNeighbors(request *restful.Request, response *restful.Response) {
	n, err := ParseInt(request, "n", s.Config.Recommend.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	users, err := s.Engine.SimilarUsers(request.PathParameter("user-id"), n)
	if err != nil {
		s.failed(response, err)
		return
	}
	Ok(response, users)
}

func (s *Server) getItemNeighbors(request *restful.Request, response *restful.Response) {
	n, err := ParseInt(request, "n", s.Config.Recommend.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	items, err := s.Engine.SimilarItems(request.PathParameter("item-id"), n)
	if err != nil {
		s.failed(response, err)
		return
	}
	Ok(response, items)
}

func (s *Server) getStats(_ *restful.Request, response *restful.Response) {
	stats, err := s.Engine.Stats()
	if err != nil {
		s.failed(response, err)
		return
	}
	Ok(response, stats)
}

func (s *Server) insertEdges(request *restful.Request, response *restful.Response) {
	var edges []graph.Edge
	if err := request.ReadEntity(&edges); err != nil {
		BadRequest(response, err)
		return
	}
	// a batch with any invalid edge is rejected as a whole
	var invalid []string
	for i, edge := range edges {
		if err := graph.ValidateEdge(edge); err != nil {
			invalid = append(invalid, fmt.Sprintf("edge %d: %v", i, err))
		}
	}
	if len(invalid) > 0 {
		BadRequest(response, errors.New(strings.Join(invalid, "; ")))
		return
	}
	for _, edge := range edges {
		if err := s.Engine.UpsertEdge(edge); err != nil {
			InternalServerError(response, err)
			return
		}
	}
	Ok(response, Success{RowAffected: len(edges)})
}

func (s *Server) failed(response *restful.Response, err error) {
	if errors.Is(err, engine.ErrNotReady) {
		ServiceUnavailable(response, err)
		return
	}
	InternalServerError(response, err)
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("bad request", zap.Error(err))
	if err = response.WriteError(http.StatusBadRequest, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// ServiceUnavailable returns a service unavailable error.
func ServiceUnavailable(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err = response.WriteError(http.StatusServiceUnavailable, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// InternalServerError returns a internal server error.
func InternalServerError(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("internal server error", zap.Error(err))
	if err = response.WriteError(http.StatusInternalServerError, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteAsJson(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}
