package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codemother/codemother/pkg/codegen"
	"github.com/codemother/codemother/pkg/llm"
	"github.com/codemother/codemother/pkg/stores"
	"github.com/codemother/codemother/pkg/workflow"
)

// chatRequest is the query of the SSE endpoint and the first frame of the
// WebSocket endpoint. Over SSE the element arrives as a JSON string.
type chatRequest struct {
	AppID           int64                 `form:"appId" json:"appId" binding:"required,gt=0"`
	Message         string                `form:"message" json:"message" binding:"required"`
	UserID          int64                 `form:"userId" json:"userId"`
	GenerationType  string                `form:"generationType" json:"generationType"`
	DatabaseEnabled bool                  `form:"databaseEnabled" json:"databaseEnabled"`
	DatabaseSchema  string                `form:"databaseSchema" json:"databaseSchema"`
	ElementJSON     string                `form:"elementInfo" json:"-"`
	Element         *workflow.ElementInfo `form:"-" json:"elementInfo"`
}

func (r chatRequest) toRequest() (codegen.Request, error) {
	element := r.Element
	if element == nil && strings.TrimSpace(r.ElementJSON) != "" {
		element = &workflow.ElementInfo{}
		if err := json.Unmarshal([]byte(r.ElementJSON), element); err != nil {
			return codegen.Request{}, fmt.Errorf("invalid elementInfo: %w", err)
		}
	}
	return codegen.Request{
		AppID:           r.AppID,
		Prompt:          r.Message,
		GenerationType:  workflow.GenerationType(r.GenerationType),
		ElementInfo:     element,
		DatabaseEnabled: r.DatabaseEnabled,
		DatabaseSchema:  r.DatabaseSchema,
		Monitor:         &workflow.MonitorContext{UserID: r.UserID, AppID: r.AppID},
	}, nil
}

// streamSSE streams one generation as server-sent events: every chunk is a
// message event carrying {"d": text}, followed by a done event, or by an
// error event when the engine aborted the run.
func (s *Server) streamSSE(c *gin.Context) {
	var body chatRequest
	if err := c.ShouldBindQuery(&body); err != nil {
		c.JSON(http.StatusBadRequest, apiError{Message: err.Error()})
		return
	}
	req, err := body.toRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Message: err.Error()})
		return
	}

	chunks, err := s.opts.Generator.Chat(c.Request.Context(), req)
	if err != nil {
		s.logger.Warn().Err(err).Int64("app_id", req.AppID).Msg("generation rejected")
		c.JSON(http.StatusBadRequest, apiError{Message: err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	failure := ""
	for chunk := range chunks {
		if msg, failed := llm.ErrorChunk(chunk); failed {
			failure = msg
			continue
		}
		c.SSEvent("message", chunk)
		c.Writer.Flush()
	}
	if failure != "" {
		s.logger.Warn().Int64("app_id", req.AppID).Str("error", failure).Msg("generation failed")
		c.SSEvent("error", apiError{Message: failure})
	} else {
		c.SSEvent("done", "")
	}
	c.Writer.Flush()
}

func (s *Server) graph(c *gin.Context) {
	if s.opts.Graph == nil {
		c.JSON(http.StatusNotFound, apiError{Message: "graph not available"})
		return
	}
	switch format := c.DefaultQuery("format", "mermaid"); format {
	case "mermaid":
		c.String(http.StatusOK, s.opts.Graph.Mermaid())
	case "dot":
		c.String(http.StatusOK, s.opts.Graph.DOT())
	default:
		c.JSON(http.StatusBadRequest, apiError{Message: fmt.Sprintf("unknown format %q", format)})
	}
}

func (s *Server) history(c *gin.Context) {
	if s.opts.History == nil {
		c.JSON(http.StatusNotFound, apiError{Message: "chat history not configured"})
		return
	}
	appID, err := strconv.ParseInt(c.Param("appId"), 10, 64)
	if err != nil || appID <= 0 {
		c.JSON(http.StatusBadRequest, apiError{Message: "invalid app id"})
		return
	}
	limit := queryInt(c, "limit", s.opts.HistoryLimit)
	if limit > s.opts.HistoryLimit {
		limit = s.opts.HistoryLimit
	}

	msgs, err := s.opts.History.LoadRecent(c.Request.Context(), appID, limit)
	if err != nil {
		s.logger.Error().Err(err).Int64("app_id", appID).Msg("failed to load chat history")
		c.JSON(http.StatusInternalServerError, apiError{Message: "failed to load chat history"})
		return
	}
	if msgs == nil {
		msgs = []stores.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"appId": appID, "messages": msgs})
}

func (s *Server) listExecutions(c *gin.Context) {
	if s.opts.Executions == nil {
		c.JSON(http.StatusNotFound, apiError{Message: "execution records not configured"})
		return
	}
	appID := int64(queryInt(c, "appId", 0))
	execs, err := s.opts.Executions.ListExecutions(c.Request.Context(), appID, queryInt(c, "limit", 20), queryInt(c, "offset", 0))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list executions")
		c.JSON(http.StatusInternalServerError, apiError{Message: "failed to list executions"})
		return
	}
	if execs == nil {
		execs = []*stores.Execution{}
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs})
}

func (s *Server) getExecution(c *gin.Context) {
	if s.opts.Executions == nil {
		c.JSON(http.StatusNotFound, apiError{Message: "execution records not configured"})
		return
	}
	id := c.Param("id")
	exec, err := s.opts.Executions.GetExecution(c.Request.Context(), id)
	if errors.Is(err, stores.ErrNotFound) {
		c.JSON(http.StatusNotFound, apiError{Message: err.Error()})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("execution_id", id).Msg("failed to get execution")
		c.JSON(http.StatusInternalServerError, apiError{Message: "failed to get execution"})
		return
	}
	events, err := s.opts.Executions.ListNodeEvents(c.Request.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("execution_id", id).Msg("failed to list node events")
		c.JSON(http.StatusInternalServerError, apiError{Message: "failed to list node events"})
		return
	}
	if events == nil {
		events = []*stores.NodeEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"execution": exec, "nodes": events})
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
