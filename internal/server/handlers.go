package server

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	commonerrors "agent-dispatch/internal/common/errors"
	"agent-dispatch/internal/dispatch"
	"agent-dispatch/internal/maps"
	"agent-dispatch/internal/store"
)

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        s.app.Name,
		"version":     s.app.Version,
		"environment": s.app.Environment,
	})
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, commonerrors.NewInvalidInputError(err.Error()))
		return
	}

	result, err := s.ranker.Search(c.Request.Context(), dispatch.Query{
		Text:      req.Query,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type liveSearchRequest struct {
	Address string `json:"address" binding:"required"`
}

func (s *Server) handleSearchLive(c *gin.Context) {
	var req liveSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, commonerrors.NewInvalidInputError(err.Error()))
		return
	}

	result, err := s.ranker.SearchLive(c.Request.Context(), req.Address)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handlePrecalc starts a full pass in the background. The 202 means
// "accepted"; progress is streamed separately. The run gets a fresh context
// so it outlives the request.
func (s *Server) handlePrecalc(c *gin.Context) {
	if s.precalc.Running() {
		s.fail(c, commonerrors.NewJobRunningError())
		return
	}

	go func() {
		if err := s.precalc.Run(context.Background()); err != nil {
			if commonerrors.CodeOf(err) == commonerrors.ErrCodeJobRunning {
				return
			}
			s.logger.Error("precalculation failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (s *Server) handlePrecalcOrigin(c *gin.Context) {
	if err := s.precalc.RunForOrigin(c.Request.Context(), c.Param("code")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "done"})
}

func (s *Server) handlePrecalcAgent(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		s.fail(c, commonerrors.NewInvalidInputError("agent id must be numeric"))
		return
	}
	if err := s.precalc.RunForAgent(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "done"})
}

// handleProgress streams precalculation progress as server-sent events until
// the client disconnects.
func (s *Server) handleProgress(c *gin.Context) {
	ch, unsubscribe := s.precalc.Broadcaster().Subscribe()
	defer unsubscribe()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case p, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("progress", p)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func settingsView(settings store.Settings) gin.H {
	return gin.H{
		"centralAddress":           settings.CentralAddress,
		"centralLat":               settings.CentralLat,
		"centralLng":               settings.CentralLng,
		"centralMaxMinutes":        settings.CentralMaxMinutes,
		"conflictThresholdMinutes": settings.ConflictThresholdMinutes,
		"searchResultsCount":       settings.SearchResultsCount,
		"routeMaxMinutes":          settings.RouteMaxMinutes,
	}
}

func (s *Server) handleGetSettings(c *gin.Context) {
	settings, err := s.settings.Get(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsView(settings))
}

// handleUpdateSettings writes the posted keys and answers with the new
// effective settings. A changed central threshold takes effect before the
// response is sent.
func (s *Server) handleUpdateSettings(c *gin.Context) {
	var changes map[string]string
	if err := c.ShouldBindJSON(&changes); err != nil {
		s.fail(c, commonerrors.NewInvalidInputError(err.Error()))
		return
	}

	settings, err := s.settings.Update(c.Request.Context(), changes)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsView(settings))
}

func (s *Server) handleAutocomplete(c *gin.Context) {
	input := c.Query("input")
	if input == "" {
		s.fail(c, commonerrors.NewInvalidInputError("input parameter required"))
		return
	}
	session := c.Query("session")
	if session == "" {
		session = maps.NewSessionToken()
	}

	suggestions, err := s.places.Autocomplete(c.Request.Context(), input, session)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":     session,
		"suggestions": suggestions,
	})
}

func (s *Server) handlePlaceDetails(c *gin.Context) {
	place, err := s.places.PlaceDetails(c.Request.Context(), c.Param("id"), c.Query("session"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, place)
}
