// Package api exposes the dashboard endpoints: recording stats and
// timeline, the video library, timelapse listing and triggering, settings,
// the operational journal and the live preview stream.
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"boxcam/config"
	"boxcam/database"
	"boxcam/preview"
	"boxcam/recording"
	"boxcam/timelapse"
)

type Server struct {
	app    config.AppConfig
	cfg    *config.Manager
	db     database.Database
	sup    *recording.Supervisor
	gen    *timelapse.Generator
	camera *preview.Camera
}

func NewServer(app config.AppConfig, cfg *config.Manager, db database.Database, sup *recording.Supervisor, gen *timelapse.Generator, camera *preview.Camera) *Server {
	return &Server{
		app:    app,
		cfg:    cfg,
		db:     db,
		sup:    sup,
		gen:    gen,
		camera: camera,
	}
}

func (s *Server) Start() {
	r := gin.Default()
	s.setupCORS(r)
	s.setupRoutes(r)
	portAddr := ":" + s.app.ServerPort
	fmt.Printf("Starting API server on %s\n", portAddr)
	r.Run(portAddr)
}

func (s *Server) setupCORS(r *gin.Engine) {
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})
}

func (s *Server) setupRoutes(r *gin.Engine) {
	// Media routes
	r.GET("/video_feed", s.videoFeed)
	r.GET("/play/*filepath", s.playFile)
	r.GET("/thumb/*filepath", s.thumbFile)

	// API routes
	api := r.Group("/api")
	{
		api.GET("/stats", s.getStats)
		api.GET("/library", s.getLibrary)
		api.GET("/timelapses", s.getTimelapses)
		api.POST("/timelapse", s.postTimelapse)
		api.GET("/settings", s.getSettings)
		api.POST("/settings", s.postSettings)
		api.GET("/jobs", s.getJobs)
		api.GET("/events", s.getEvents)
		api.GET("/system_health", s.getSystemHealth)
		api.GET("/logs", s.getLogs)
	}
}
