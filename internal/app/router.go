package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"detention/internal/handler"
	"detention/internal/metrics"
	"detention/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	DetentionHandler *handler.DetentionHandler
	GeofenceHandler  *handler.GeofenceHandler
	ResponseCache    middleware.ResponseCache
	NewRelicApp      *newrelic.Application
	Logger           *zap.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())

	// New Relic runs before the request logger so logged errors reach the transaction.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}
	router.Use(middleware.RequestLogger(deps.Logger))

	router.Use(middleware.IdempotencyMiddleware(deps.ResponseCache))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// Detention session routes.
		detention := v1.Group("/detention")
		{
			detention.GET("", deps.DetentionHandler.Status)
			detention.POST("/start", deps.DetentionHandler.Start)
			detention.POST("/end", deps.DetentionHandler.End)
			detention.POST("/reset", deps.DetentionHandler.Reset)
			detention.PUT("/notes", deps.DetentionHandler.UpdateNotes)
			detention.POST("/gps", deps.DetentionHandler.LogGpsPoint)
			detention.POST("/photos", deps.DetentionHandler.AddPhoto)
		}
		v1.POST("/sync", deps.DetentionHandler.Sync)

		// Device input routes.
		v1.POST("/location", deps.GeofenceHandler.UpdateLocation)
		v1.POST("/location/permission", deps.GeofenceHandler.SetPermission)
		v1.POST("/app-state", deps.GeofenceHandler.AppState)

		// Geofence routes.
		geofence := v1.Group("/geofence")
		{
			geofence.GET("", deps.GeofenceHandler.State)
			geofence.POST("/start", deps.GeofenceHandler.Start)
			geofence.POST("/stop", deps.GeofenceHandler.Stop)
		}

		// Facility routes.
		facilities := v1.Group("/facilities")
		{
			facilities.GET("/nearby", deps.GeofenceHandler.NearbyFacilities)
			facilities.PUT("/:id", deps.GeofenceHandler.UpsertFacility)
			facilities.DELETE("/:id", deps.GeofenceHandler.RemoveFacility)
		}
	}

	return router
}
