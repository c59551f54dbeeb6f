package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pressproof/render-node/internal/browser"
	"github.com/pressproof/render-node/internal/capture"
	"github.com/pressproof/render-node/internal/config"
	"github.com/pressproof/render-node/internal/diagnostics"
	"github.com/pressproof/render-node/internal/resolver"
)

type Server struct {
	router    *gin.Engine
	cfg       *config.Config
	manager   *browser.Manager
	pages     PageOpener
	resolver  *resolver.Resolver
	executor  *capture.Executor
	collector *diagnostics.Collector
	sem       *semaphore.Weighted
	logger    *zap.Logger
}

type ServerConfig struct {
	Config   *config.Config
	Manager  *browser.Manager
	Resolver *resolver.Resolver

	// Pages overrides the page source; defaults to the manager.
	Pages PageOpener

	Executor  *capture.Executor
	Collector *diagnostics.Collector
	Logger    *zap.Logger
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	s := &Server{
		router:    router,
		cfg:       cfg.Config,
		manager:   cfg.Manager,
		pages:     cfg.Pages,
		resolver:  cfg.Resolver,
		executor:  cfg.Executor,
		collector: cfg.Collector,
		logger:    cfg.Logger,
	}
	if s.pages == nil {
		s.pages = managerOpener{manager: cfg.Manager}
	}

	if cfg.Config.MaxConcurrentCaptures > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.Config.MaxConcurrentCaptures))
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthCheck)

	authed := s.router.Group("/", s.requireSecret())
	{
		authed.POST("/pdf", s.renderPDF)
		authed.POST("/grab", s.renderGrab)
		authed.GET("/debug/devtools", s.proxyDevtools)
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() *gin.Engine {
	return s.router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Auth-Secret")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
