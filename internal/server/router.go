package server

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chamelio/chamelio/internal/fingerprint"
	"github.com/chamelio/chamelio/internal/hub"
	"github.com/chamelio/chamelio/internal/metrics"
	"github.com/chamelio/chamelio/internal/registry"
	"github.com/chamelio/chamelio/internal/supervisor"
)

// Router serves the profile API plus the two websocket endpoints:
//
//	GET    /api/profiles            list
//	POST   /api/profiles            create
//	PATCH  /api/profiles/:id        update name/proxy
//	DELETE /api/profiles/:id        delete (stops worker, removes directory)
//	POST   /api/profiles/:id/start  launch worker
//	POST   /api/profiles/:id/stop   stop worker
//	GET    /ingest                  worker heartbeat channel
//	GET    /ws                      observer push channel
//	GET    /metrics                 prometheus
type Router struct {
	store     registry.Store
	sup       *supervisor.Supervisor
	hub       *hub.Hub
	log       *slog.Logger
	staticDir string
}

func NewRouter(store registry.Store, sup *supervisor.Supervisor, h *hub.Hub, staticDir string, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{store: store, sup: sup, hub: h, log: log, staticDir: staticDir}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, okResp{OK: true}) })
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	if r.staticDir != "" {
		g.StaticFile("/", filepath.Join(r.staticDir, "index.html"))
		g.Static("/static", r.staticDir)
	}

	api := g.Group("/api")
	api.GET("/profiles", r.handleList)
	api.POST("/profiles", r.handleCreate)
	api.PATCH("/profiles/:id", r.handleUpdate)
	api.DELETE("/profiles/:id", r.handleDelete)
	api.POST("/profiles/:id/start", r.handleStart)
	api.POST("/profiles/:id/stop", r.handleStop)

	g.GET("/ingest", r.handleIngest)
	g.GET("/ws", r.handleObserver)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type createReq struct {
	Name  string `json:"name" binding:"required"`
	Proxy string `json:"proxy"`
}

type updateReq struct {
	Name  *string `json:"name"`
	Proxy *string `json:"proxy"`
}

func (r *Router) handleList(c *gin.Context) {
	profiles, err := r.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, profiles)
}

func (r *Router) handleCreate(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	p, err := r.store.Create(c.Request.Context(), req.Name, req.Proxy)
	if err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": p.ID})
}

func (r *Router) handleUpdate(c *gin.Context) {
	var req updateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	n, err := r.store.Update(c.Request.Context(), c.Param("id"), registry.Update{
		Name:  req.Name,
		Proxy: req.Proxy,
	})
	if err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (r *Router) handleDelete(c *gin.Context) {
	if err := r.sup.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (r *Router) handleStart(c *gin.Context) {
	res, err := r.sup.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) handleStop(c *gin.Context) {
	res, err := r.sup.Stop(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, registry.ErrInvalidName),
		errors.Is(err, fingerprint.ErrInvalidProxy):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrLaunchFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
