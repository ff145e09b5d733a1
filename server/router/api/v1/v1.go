// Package v1 exposes the REST API under /api/v1.
package v1

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/openclaw/cortex/server/auth"
	"github.com/openclaw/cortex/server/internal/errors"
	"github.com/openclaw/cortex/server/retrieval"
	"github.com/openclaw/cortex/server/service/memorysvc"
	"github.com/openclaw/cortex/store"
)

// APIV1Service wires the memory service and retrieval engine to routes.
type APIV1Service struct {
	memoryService *memorysvc.Service
	engine        *retrieval.Engine
	authenticator *auth.Authenticator
	logger        *slog.Logger
}

func NewAPIV1Service(memoryService *memorysvc.Service, engine *retrieval.Engine, authenticator *auth.Authenticator, logger *slog.Logger) *APIV1Service {
	return &APIV1Service{
		memoryService: memoryService,
		engine:        engine,
		authenticator: authenticator,
		logger:        logger,
	}
}

// Register mounts all v1 routes on the echo group.
func (s *APIV1Service) Register(root *echo.Group) {
	group := root.Group("/api/v1", s.authenticator.Middleware())
	group.POST("/memories", s.createMemory)
	group.GET("/memories", s.listMemories)
	group.GET("/memories/:id", s.getMemory)
	group.PATCH("/memories/:id", s.updateMemory)
	group.DELETE("/memories/:id", s.deleteMemory)
	group.POST("/search", s.search)
}

func (s *APIV1Service) createMemory(c echo.Context) error {
	ctx := c.Request().Context()
	var body createMemoryRequest
	if err := c.Bind(&body); err != nil {
		return writeError(c, errors.InvalidArgument("malformed request body"))
	}

	response, err := s.memoryService.CreateMemory(ctx, &memorysvc.CreateMemoryRequest{
		UserID:            auth.UserIDFromContext(ctx),
		Type:              body.Type,
		Title:             body.Title,
		Content:           body.Content,
		Tags:              body.Tags,
		Items:             body.Items,
		ReminderAt:        body.ReminderAt,
		IsPinned:          body.IsPinned,
		GenerateEmbedding: body.GenerateEmbedding,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"memory":          convertMemory(response.Memory),
		"relatedMemories": convertMemories(response.RelatedMemories),
	})
}

func (s *APIV1Service) getMemory(c echo.Context) error {
	ctx := c.Request().Context()
	memory, err := s.memoryService.GetMemory(ctx, c.Param("id"), auth.UserIDFromContext(ctx))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"memory": convertMemory(memory)})
}

func (s *APIV1Service) listMemories(c echo.Context) error {
	ctx := c.Request().Context()
	request := &memorysvc.ListMemoriesRequest{
		UserID: auth.UserIDFromContext(ctx),
		Limit:  intQueryParam(c, "limit", 0),
		Offset: intQueryParam(c, "offset", 0),
	}
	if memoryType := c.QueryParam("type"); memoryType != "" {
		request.Type = &memoryType
	}

	response, err := s.memoryService.ListMemories(ctx, request)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"memories": convertMemories(response.Memories),
		"total":    response.Total,
	})
}

func (s *APIV1Service) updateMemory(c echo.Context) error {
	ctx := c.Request().Context()
	var body updateMemoryRequest
	if err := c.Bind(&body); err != nil {
		return writeError(c, errors.InvalidArgument("malformed request body"))
	}

	memory, err := s.memoryService.UpdateMemory(ctx, &memorysvc.UpdateMemoryRequest{
		ID:         c.Param("id"),
		UserID:     auth.UserIDFromContext(ctx),
		Type:       body.Type,
		Title:      body.Title,
		Content:    body.Content,
		Tags:       body.Tags,
		Items:      body.Items,
		ReminderAt: body.ReminderAt,
		IsPinned:   body.IsPinned,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"memory": convertMemory(memory)})
}

func (s *APIV1Service) deleteMemory(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.memoryService.DeleteMemory(ctx, c.Param("id"), auth.UserIDFromContext(ctx)); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *APIV1Service) search(c echo.Context) error {
	ctx := c.Request().Context()
	var body searchRequest
	if err := c.Bind(&body); err != nil {
		return writeError(c, errors.InvalidArgument("malformed request body"))
	}

	response, err := s.engine.Search(ctx, &retrieval.Request{
		UserID:     auth.UserIDFromContext(ctx),
		Query:      body.Query,
		SearchType: retrieval.SearchType(body.SearchType),
		Limit:      body.Limit,
		Filters:    body.Filters.toFilters(),
	})
	if err != nil {
		return writeError(c, err)
	}

	results := make([]searchResultResponse, 0, len(response.Results))
	for _, result := range response.Results {
		results = append(results, searchResultResponse{
			Memory:    convertMemory(result.Memory),
			Score:     result.Score,
			MatchType: result.MatchType,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"results": results,
		"total":   response.Total,
		"tookMs":  response.TookMs,
	})
}

func intQueryParam(c echo.Context, name string, fallback int) int {
	value := c.QueryParam(name)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func convertMemories(memories []*store.Memory) []*memoryResponse {
	converted := make([]*memoryResponse, 0, len(memories))
	for _, memory := range memories {
		converted = append(converted, convertMemory(memory))
	}
	return converted
}
