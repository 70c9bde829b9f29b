package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"packclip/config"
	"packclip/database"
	"packclip/worker"
)

// Server exposes the manual-trigger and health endpoints
type Server struct {
	config config.Config
	db     database.Database
	queue  *worker.JobQueue
}

// NewServer creates the API server
func NewServer(cfg config.Config, db database.Database, queue *worker.JobQueue) *Server {
	return &Server{
		config: cfg,
		db:     db,
		queue:  queue,
	}
}

// Start runs the HTTP server. Blocks.
func (s *Server) Start() error {
	r := gin.Default()
	s.setupRoutes(r)
	portAddr := ":" + s.config.ServerPort
	fmt.Printf("Starting API server on %s\n", portAddr)
	return r.Run(portAddr)
}

func (s *Server) setupRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/trigger", s.triggerProcessing)
		api.GET("/health", s.handleHealthCheck)
	}
}
