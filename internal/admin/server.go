// Package admin serves the HTTP control surface over the running fleet.
package admin

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/codecctl/internal/auth"
	"github.com/danmuck/codecctl/internal/codec/device"
	"github.com/danmuck/codecctl/internal/fleet"
	"github.com/danmuck/codecctl/internal/observability"
)

const version = "0.1.0"

// Fleet is the part of the runtime the API reads and drives.
type Fleet interface {
	List() []fleet.Status
	Status(id string) (fleet.Status, error)
	Codec(id string) (device.Codec, error)
}

type Config struct {
	ID          string
	CorsOrigins []string
	// Auth guards every route except /health and /metrics. nil leaves the
	// API open.
	Auth auth.Validator
}

type Server struct {
	cfg      Config
	fleet    Fleet
	router   *gin.Engine
	appeared time.Time
}

func New(cfg Config, f Fleet) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminAccess(log.Logger, cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{cfg: cfg, fleet: f, router: r, appeared: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.cfg.ID,
			"version": version,
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/")
	if s.cfg.Auth != nil {
		api.Use(requireToken(s.cfg.Auth))
	}
	api.GET("/codecs", s.listCodecs)
	api.GET("/codecs/:id", s.codecStatus)
	api.GET("/codecs/:id/state", s.codecState)
	api.GET("/codecs/:id/directory", s.directoryTree)
	api.GET("/codecs/:id/directory/folders/:folder", s.directoryFolder)
	api.POST("/codecs/:id/directory/clear", s.directoryClear)
	api.POST("/codecs/:id/commands", s.sendCommand)
}

func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok || v.Validate(token) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

func (s *Server) listCodecs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"codecs": s.fleet.List()})
}

func (s *Server) codecStatus(c *gin.Context) {
	st, err := s.fleet.Status(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) codecState(c *gin.Context) {
	codec, ok := s.codec(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         codec.ID(),
		"vendor":     codec.Vendor(),
		"components": codec.Snapshot(),
	})
}

func (s *Server) directoryTree(c *gin.Context) {
	codec, ok := s.codec(c)
	if !ok {
		return
	}
	dir := codec.Directory()
	c.JSON(http.StatusOK, gin.H{"stats": dir.Stats(), "tree": dir.Snapshot()})
}

func (s *Server) directoryFolder(c *gin.Context) {
	codec, ok := s.codec(c)
	if !ok {
		return
	}
	id := strings.TrimSpace(c.Param("folder"))
	dir := codec.Directory()
	folder, found := dir.Folder(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "folder not found"})
		return
	}
	folders, contacts, _ := dir.Contents(id)
	c.JSON(http.StatusOK, gin.H{"folder": folder, "folders": folders, "contacts": contacts})
}

func (s *Server) directoryClear(c *gin.Context) {
	codec, ok := s.codec(c)
	if !ok {
		return
	}
	codec.Directory().Clear()
	log.Info().Str("codec", codec.ID()).Msg("admin: directory cleared")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *Server) sendCommand(c *gin.Context) {
	codec, ok := s.codec(c)
	if !ok {
		return
	}
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}
	if err := codec.Send(req.Command); err != nil {
		log.Error().Str("codec", codec.ID()).Err(err).Msg("admin: command failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("codec", codec.ID()).Str("command", req.Command).Msg("admin: command sent")
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

func (s *Server) codec(c *gin.Context) (device.Codec, bool) {
	codec, err := s.fleet.Codec(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return codec, true
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fleet.ErrUnknownCodec):
		status = http.StatusNotFound
	case errors.Is(err, fleet.ErrNotConnected):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
