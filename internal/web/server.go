package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"livedash/internal/dashboard"
	"livedash/internal/logger"
	"livedash/internal/stream"
	"livedash/internal/types"

	"github.com/gin-gonic/gin"
)

// Server exposes one dashboard session over HTTP.
type Server struct {
	session *dashboard.Session
	engine  *gin.Engine
	httpSrv *http.Server

	// baseCtx outlives individual requests; the session's connection loop
	// is started from it.
	baseCtx context.Context
}

func NewServer(ctx context.Context, addr string, session *dashboard.Session) *Server {
	if !logger.IsDebugEnabled() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		session: session,
		engine:  gin.New(),
		baseCtx: ctx,
	}
	s.engine.Use(gin.Recovery(), requestLogger(), cors())
	s.setupRoutes()

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/", s.getIndex)
	s.engine.GET("/login", s.getLogin)
	s.engine.GET("/chart.svg", s.getChart)

	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/status", s.getStatus)
	api.GET("/points", s.getPoints)
	api.GET("/portfolio", s.getPortfolio)
	api.POST("/activate", s.postActivate)
	api.POST("/deactivate", s.postDeactivate)
	api.POST("/logout", s.postLogout)
	api.POST("/send", s.postSend)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logger.Info(s.baseCtx, "Starting HTTP server", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) getIndex(c *gin.Context) {
	if s.session.Status().State == types.AuthFailed {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":    types.NoticeUnauthenticated,
			"redirect": "/login",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chart":     "/chart.svg",
		"status":    "/api/status",
		"points":    "/api/points",
		"portfolio": "/api/portfolio",
	})
}

func (s *Server) getLogin(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":  "obtain a token with the login command, then activate the dashboard",
		"activate": "/api/activate",
	})
}

func (s *Server) getChart(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/svg+xml", s.session.SVG())
}

func (s *Server) getHealth(c *gin.Context) {
	st := s.session.Status()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"active": s.session.Active(),
		"state":  st.State,
	})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.View())
}

func (s *Server) getPoints(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"points": s.session.Points()})
}

func (s *Server) getPortfolio(c *gin.Context) {
	snapshot, ok := s.session.Portfolio()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"portfolio": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolio": snapshot})
}

func (s *Server) postActivate(c *gin.Context) {
	err := s.session.Activate(s.baseCtx)
	switch {
	case errors.Is(err, stream.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": types.NoticeUnauthenticated, "redirect": "/login"})
	case err != nil:
		logger.ErrorWithErr(c.Request.Context(), "Activation failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, s.session.View())
	}
}

func (s *Server) postDeactivate(c *gin.Context) {
	s.session.Deactivate(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (s *Server) postLogout(c *gin.Context) {
	if err := s.session.Logout(c.Request.Context()); err != nil {
		logger.ErrorWithErr(c.Request.Context(), "Logout failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) postSend(c *gin.Context) {
	var body any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.session.Send(c.Request.Context(), body)
	switch {
	case errors.Is(err, dashboard.ErrNotActive), errors.Is(err, stream.ErrNotConnected):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.Status(http.StatusAccepted)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// cors allows local development front-ends to call the API.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
