// Package server exposes the dispatch core over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agent-dispatch/internal/common/config"
	commonerrors "agent-dispatch/internal/common/errors"
	"agent-dispatch/internal/common/logger"
	"agent-dispatch/internal/dispatch"
	"agent-dispatch/internal/maps"
	"agent-dispatch/internal/store"
)

// Searcher is the ranking surface consumed by the handlers.
type Searcher interface {
	Search(ctx context.Context, q dispatch.Query) (*dispatch.Result, error)
	SearchLive(ctx context.Context, address string) (*dispatch.LiveResult, error)
}

// Precalculator is the precalculation surface consumed by the handlers.
type Precalculator interface {
	Run(ctx context.Context) error
	RunForOrigin(ctx context.Context, code string) error
	RunForAgent(ctx context.Context, agentID int) error
	Running() bool
	Broadcaster() *dispatch.Broadcaster
}

// PlacesClient resolves address suggestions for the search box.
type PlacesClient interface {
	Autocomplete(ctx context.Context, input, sessionToken string) ([]maps.Suggestion, error)
	PlaceDetails(ctx context.Context, placeID, sessionToken string) (*maps.PlaceResult, error)
}

// SettingsManager reads and updates the runtime settings bag.
type SettingsManager interface {
	Get(ctx context.Context) (store.Settings, error)
	Update(ctx context.Context, changes map[string]string) (store.Settings, error)
}

// Server wires the HTTP routes to the dispatch core.
type Server struct {
	engine   *gin.Engine
	ranker   Searcher
	precalc  Precalculator
	places   PlacesClient
	settings SettingsManager
	logger   logger.Logger
	app      config.AppConfig
}

func New(app config.AppConfig, ranker Searcher, precalc Precalculator, places PlacesClient, settings SettingsManager, log logger.Logger) *Server {
	if app.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:   gin.New(),
		ranker:   ranker,
		precalc:  precalc,
		places:   places,
		settings: settings,
		logger:   log.WithFields(map[string]interface{}{"component": "http"}),
		app:      app,
	}

	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)

	api.POST("/search", s.handleSearch)
	api.POST("/search/live", s.handleSearchLive)

	api.POST("/precalc", s.handlePrecalc)
	api.GET("/precalc/progress", s.handleProgress)
	api.POST("/origins/:code/precalc", s.handlePrecalcOrigin)
	api.POST("/agents/:id/precalc", s.handlePrecalcAgent)

	api.GET("/settings", s.handleGetSettings)
	api.POST("/settings", s.handleUpdateSettings)

	api.GET("/places/autocomplete", s.handleAutocomplete)
	api.GET("/places/:id", s.handlePlaceDetails)
}

// statusFor maps core error codes to HTTP statuses.
func statusFor(err error) int {
	switch commonerrors.CodeOf(err) {
	case commonerrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case commonerrors.ErrCodeUnknownOrigin:
		return http.StatusNotFound
	case commonerrors.ErrCodeResolutionFailed:
		return http.StatusUnprocessableEntity
	case commonerrors.ErrCodeJobRunning:
		return http.StatusConflict
	case commonerrors.ErrCodePendingData:
		return http.StatusServiceUnavailable
	case commonerrors.ErrCodeProviderUnavailable, commonerrors.ErrCodeProviderLegFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
	}
	if stdErr, ok := err.(*commonerrors.StandardError); ok {
		c.JSON(status, gin.H{"error": stdErr})
		return
	}
	c.JSON(status, gin.H{"error": gin.H{"message": err.Error()}})
}
