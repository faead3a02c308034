package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"streamvault/internal/capture"
	"streamvault/internal/eventbus"
	"streamvault/internal/evaluator"
	"streamvault/internal/job"
	"streamvault/internal/schedule"
	"streamvault/internal/status"
	logx "streamvault/pkg/logx"
)

// Handlers binds the API surface to the engine's components.
type Handlers struct {
	store *schedule.Store
	reg   *job.Registry
	caps  *capture.Service
	eval  *evaluator.Service
	rep   *status.Reporter
	bus   eventbus.Bus
	log   logx.Logger

	// runErr surfaces the first fatal supervisor error in /healthz.
	runErr func() error
}

func NewHandlers(store *schedule.Store, reg *job.Registry, caps *capture.Service, eval *evaluator.Service, rep *status.Reporter, bus eventbus.Bus, runErr func() error, log logx.Logger) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handlers{
		store:  store,
		reg:    reg,
		caps:   caps,
		eval:   eval,
		rep:    rep,
		bus:    bus,
		log:    log,
		runErr: runErr,
	}
}

func (h *Handlers) Health(c *gin.Context) {
	if h.runErr != nil {
		if err := h.runErr(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// scheduleRequest is the create/update payload. Enabled defaults to true when
// omitted, which is what callers mean almost every time.
type scheduleRequest struct {
	TargetURL  string                 `json:"target_url"`
	NamePrefix string                 `json:"name_prefix"`
	Window     schedule.Window        `json:"window"`
	Recurrence schedule.Recurrence    `json:"recurrence"`
	Capture    schedule.CaptureParams `json:"capture"`
	Enabled    *bool                  `json:"enabled"`
}

func (h *Handlers) ListSchedules(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.List())
}

func (h *Handlers) CreateSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sch := schedule.Schedule{
		ID:         uuid.NewString(),
		TargetURL:  strings.TrimSpace(req.TargetURL),
		NamePrefix: strings.TrimSpace(req.NamePrefix),
		Window:     req.Window,
		Recurrence: req.Recurrence,
		Capture:    req.Capture,
		Enabled:    req.Enabled == nil || *req.Enabled,
	}
	created, err := h.store.Add(c.Request.Context(), sch)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handlers) UpdateSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.store.Update(c.Request.Context(), c.Param("id"), func(s *schedule.Schedule) {
		s.TargetURL = strings.TrimSpace(req.TargetURL)
		s.NamePrefix = strings.TrimSpace(req.NamePrefix)
		s.Window = req.Window
		s.Recurrence = req.Recurrence
		s.Capture = req.Capture
		s.Enabled = req.Enabled == nil || *req.Enabled
	})
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, updated)
	}
}

func (h *Handlers) DeleteSchedule(c *gin.Context) {
	err := h.store.Remove(c.Request.Context(), c.Param("id"))
	if errors.Is(err, schedule.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	// Jobs already recording for this schedule keep running until they finish
	// or are stopped explicitly.
	c.Status(http.StatusNoContent)
}

func (h *Handlers) RefreshSchedules(c *gin.Context) {
	h.eval.Refresh()
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}

type downloadRequest struct {
	TargetURL  string                 `json:"target_url"`
	NamePrefix string                 `json:"name_prefix"`
	Capture    schedule.CaptureParams `json:"capture"`
}

// StartDownload creates a direct (unscheduled) job and launches supervision.
func (h *Handlers) StartDownload(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.TargetURL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_url is required"})
		return
	}

	j := h.reg.Create(c.Request.Context(), job.Spec{
		TargetURL:  strings.TrimSpace(req.TargetURL),
		NamePrefix: strings.TrimSpace(req.NamePrefix),
		Capture:    req.Capture.WithDefaults(),
	})
	h.caps.Launch(j)
	c.JSON(http.StatusCreated, j)
}

func (h *Handlers) ListDownloads(c *gin.Context) {
	c.JSON(http.StatusOK, h.reg.ListAll())
}

func (h *Handlers) GetDownload(c *gin.Context) {
	j, err := h.reg.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, j)
}

// StopDownload requests a manual stop. Stopping an already-terminal job
// returns 200 with the unchanged record.
func (h *Handlers) StopDownload(c *gin.Context) {
	j, err := h.caps.Stop(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, job.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, j)
	}
}

func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.rep.Snapshot())
}

// Events streams bus events as server-sent events until the client leaves.
func (h *Handlers) Events(c *gin.Context) {
	events, unsub := h.bus.Subscribe(32)
	defer unsub()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev.Data)
			return true
		}
	})
}
