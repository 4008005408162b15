package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mindfulchat/internal/auth"
	"mindfulchat/internal/chat"
	"mindfulchat/internal/config"
)

const defaultHeartbeat = 25 * time.Second

// Options configures optional routes and limits.
type Options struct {
	RateLimit config.RateLimitConfig
	Metrics   http.Handler
	Heartbeat time.Duration
}

// Handler wires HTTP routes to the per-client session managers.
type Handler struct {
	registry  *chat.Registry
	auth      *auth.Service
	limiter   *limiterPool
	metrics   http.Handler
	heartbeat time.Duration
}

// NewHandler constructs a Handler instance.
func NewHandler(registry *chat.Registry, authService *auth.Service, opts Options) *Handler {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	return &Handler{
		registry:  registry,
		auth:      authService,
		limiter:   newLimiterPool(opts.RateLimit.PerSecond, opts.RateLimit.Burst),
		metrics:   opts.Metrics,
		heartbeat: opts.Heartbeat,
	}
}

// Recovery is the top-level fault boundary: a panic answers 500 and tells the
// UI to reset to a safe screen.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Printf("panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error", "reset": true})
	})
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := router.Group("/api")
	api.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	api.GET("/state", h.getState)
	api.GET("/events", h.streamEvents)
	api.POST("/sessions", h.createSession)
	api.PUT("/sessions/:id/active", h.selectSession)
	api.DELETE("/sessions/:id", h.deleteSession)
	api.POST("/sessions/:id/messages", h.rateLimit(), h.submitToSession)
	api.POST("/sessions/:id/messages/:messageId/follow-ups/:index", h.rateLimit(), h.submitFollowUp)
	api.POST("/messages", h.rateLimit(), h.submitToActive)
	api.POST("/cancel", h.cancel)
}

func (h *Handler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, _ := auth.ClientIDFromContext(c)
		if !h.limiter.Allow(clientID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many messages, slow down"})
			return
		}
		c.Next()
	}
}

// manager resolves the caller's session manager, writing the error response on failure.
func (h *Handler) manager(c *gin.Context) (*chat.Manager, bool) {
	clientID, ok := auth.ClientIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "client identity required"})
		return nil, false
	}
	m, err := h.registry.Get(c.Request.Context(), clientID)
	if err != nil {
		log.Printf("load sessions for client %s: %v", clientID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sessions unavailable, please retry"})
		return nil, false
	}
	return m, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, chat.ErrNoFollowUp):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrEmptyInput), errors.Is(err, chat.ErrNoActiveSession):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "waiting for the previous reply"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) getState(c *gin.Context) {
	m, ok := h.manager(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, m.State())
}

func (h *Handler) createSession(c *gin.Context) {
	m, ok := h.manager(c)
	if !ok {
		return
	}
	id := m.CreateSession()
	c.JSON(http.StatusCreated, gin.H{"id": id, "state": m.State()})
}

func (h *Handler) selectSession(c *gin.Context) {
	m, ok := h.manager(c)
	if !ok {
		return
	}
	if err := m.SelectSession(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m.State())
}

func (h *Handler) deleteSession(c *gin.Context) {
	m, ok := h.manager(c)
	if !ok {
		return
	}
	if err := m.DeleteSession(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m.State())
}

type messageRequest struct {
	Text string `json:"text"`
}

func (h *Handler) submitToSession(c *gin.Context) {
	h.submit(c, c.Param("id"))
}

func (h *Handler) submitToActive(c *gin.Context) {
	h.submit(c, "")
}

func (h *Handler) submit(c *gin.Context, sessionID string) {
	m, ok := h.manager(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(c, chat.ErrEmptyInput)
		return
	}
	if sessionID == "" {
		sessionID = m.ActiveSessionID()
	}
	if err := m.Submit(sessionID, req.Text); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sessionId": sessionID, "state": m.State()})
}

func (h *Handler) submitFollowUp(c *gin.Context) {
	m, ok := h.manager(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid follow-up index"})
		return
	}
	sessionID := c.Param("id")
	if err := m.SubmitFollowUp(sessionID, c.Param("messageId"), index); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sessionId": sessionID, "state": m.State()})
}

func (h *Handler) cancel(c *gin.Context) {
	m, ok := h.manager(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": m.Cancel()})
}
