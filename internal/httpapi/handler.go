// Package httpapi exposes the fleet scheduling service over HTTP with gin.
package httpapi

import (
	"errors"
	"expvar"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetcore/internal/core"
	"fleetcore/internal/entity"
	"fleetcore/pkg/domain"
)

// Handler serves the equipment, schedule, history and summary endpoints.
type Handler struct {
	svc      *core.Service
	log      *slog.Logger
	gatherer prometheus.Gatherer
}

// NewHandler creates a handler over svc. A nil logger discards request logs;
// a nil gatherer leaves /metrics unregistered.
func NewHandler(svc *core.Service, log *slog.Logger, gatherer prometheus.Gatherer) *Handler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{svc: svc, log: log, gatherer: gatherer}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(h.log))
	r.GET("/healthz", h.Health)
	r.GET("/debug/vars", gin.WrapH(expvar.Handler()))
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
	h.RegisterRoutes(r.Group("/api"))
	r.NoRoute(func(c *gin.Context) {
		failure(c, http.StatusNotFound, CodeNotFound, "route not found")
	})
	return r
}

// RegisterRoutes registers the API routes on rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	equipment := rg.Group("/equipment")
	{
		equipment.GET("", h.ListEquipment)
		equipment.POST("", h.CreateEquipment)
		equipment.GET("/:id", h.GetEquipment)
		equipment.DELETE("/:id", h.DeleteEquipment)
		equipment.PATCH("/:id/hours", h.UpdateHours)
		equipment.PATCH("/:id/status", h.SetStatus)
		equipment.POST("/:id/log", h.AddLog)
		equipment.POST("/:id/tasks", h.AddTask)
		equipment.PUT("/:id/image", h.PutImage)
		equipment.GET("/:id/image", h.GetImage)
		equipment.GET("/:id/image/url", h.ImageURL)
	}
	rg.GET("/schedule", h.Schedule)
	rg.GET("/history", h.History)
	rg.GET("/fleet/summary", h.Summary)
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	success(c, http.StatusOK, gin.H{"status": "ok"})
}

// ListEquipment returns one page of machines. The static seed set is
// installed on first use.
func (h *Handler) ListEquipment(c *gin.Context) {
	opts := entity.ListOptions{Cursor: c.Query("cursor")}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "limit must be an integer")
			return
		}
		opts.Limit = n
	}
	ctx := c.Request.Context()
	if err := h.svc.EnsureSeed(ctx); err != nil {
		fail(c, err)
		return
	}
	page, err := h.svc.List(ctx, opts)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, page)
}

// CreateEquipment adds a machine.
func (h *Handler) CreateEquipment(c *gin.Context) {
	var in core.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	eq, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusCreated, eq)
}

// GetEquipment returns one machine.
func (h *Handler) GetEquipment(c *gin.Context) {
	eq, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, eq)
}

// DeleteEquipment removes a machine. Deleting an absent machine succeeds
// with deleted=false.
func (h *Handler) DeleteEquipment(c *gin.Context) {
	deleted, err := h.svc.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"deleted": deleted})
}

type hoursRequest struct {
	Hours *float64 `json:"hours"`
}

// UpdateHours records a new engine-hours reading.
func (h *Handler) UpdateHours(c *gin.Context) {
	var req hoursRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Hours == nil {
		badRequest(c, "hours must be a number")
		return
	}
	eq, err := h.svc.UpdateHours(c.Request.Context(), c.Param("id"), *req.Hours)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, eq)
}

type statusRequest struct {
	Status domain.EquipmentStatus `json:"status"`
}

// SetStatus changes the operational status of a machine.
func (h *Handler) SetStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	eq, err := h.svc.SetStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, eq)
}

// AddLog records a completed service.
func (h *Handler) AddLog(c *gin.Context) {
	var in core.LogInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	eq, err := h.svc.AddLog(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusCreated, eq)
}

// AddTask attaches a custom maintenance task.
func (h *Handler) AddTask(c *gin.Context) {
	var in core.TaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	eq, err := h.svc.AddTask(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusCreated, eq)
}

// PutImage stores the raw request body as the machine image.
func (h *Handler) PutImage(c *gin.Context) {
	eq, err := h.svc.PutImage(c.Request.Context(), c.Param("id"), c.Request.Body)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, eq)
}

// GetImage streams the stored machine image.
func (h *Handler) GetImage(c *gin.Context) {
	info, body, err := h.svc.GetImage(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	defer func() { _ = body.Close() }()
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Status(http.StatusOK)
	c.Header("Content-Type", contentType)
	if info.Size > 0 {
		c.Header("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if _, err := io.Copy(c.Writer, body); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		_ = c.Error(err)
	}
}

// ImageURL hands out a signed link to the stored image. The optional expires
// query takes a Go duration such as 90s or 10m.
func (h *Handler) ImageURL(c *gin.Context) {
	var expiry time.Duration
	if raw := c.Query("expires"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			badRequest(c, "expires must be a positive duration")
			return
		}
		expiry = d
	}
	url, err := h.svc.ImageURL(c.Request.Context(), c.Param("id"), expiry)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"url": url})
}

// Schedule lists every task across the fleet, most urgent first.
func (h *Handler) Schedule(c *gin.Context) {
	items, err := h.svc.Schedule(c.Request.Context(), c.Query("q"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, items)
}

// History lists service logs newest first with the total spend.
func (h *Handler) History(c *gin.Context) {
	hist, err := h.svc.History(c.Request.Context(), c.Query("q"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, hist)
}

// Summary returns fleet-wide status counts.
func (h *Handler) Summary(c *gin.Context) {
	sum, err := h.svc.Summary(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, sum)
}
