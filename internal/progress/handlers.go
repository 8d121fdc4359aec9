package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lmnhd/keyvex-sub008/internal/logging"
	"github.com/lmnhd/keyvex-sub008/internal/middleware"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

// Handler serves progress over WebSocket, polling and SSE.
type Handler struct {
	hub       *Hub
	history   *Fallback
	jobs      tcc.Store
	heartbeat time.Duration
}

// NewHandler creates progress handlers. hub may be nil to disable sockets.
func NewHandler(hub *Hub, history *Fallback, jobs tcc.Store) *Handler {
	return &Handler{hub: hub, history: history, jobs: jobs, heartbeat: 15 * time.Second}
}

// RegisterRoutes mounts the progress routes behind requireAuth.
func (h *Handler) RegisterRoutes(r gin.IRouter, requireAuth gin.HandlerFunc) {
	r.GET("/ws/progress/:jobId", requireAuth, h.HandleWebSocket)
	r.GET("/api/progress/:jobId", requireAuth, h.Poll)
	r.GET("/api/progress/:jobId/stream", requireAuth, h.Stream)
}

// authorize resolves the job and checks that the caller owns it.
func (h *Handler) authorize(c *gin.Context) (jobID, userID string, ok bool) {
	jobID = c.Param("jobId")
	userID, _ = middleware.GetUserID(c)

	job, err := h.jobs.Get(c.Request.Context(), jobID)
	switch {
	case errors.Is(err, tcc.ErrNotFound):
		middleware.AbortWithError(c, http.StatusNotFound, middleware.CodeNotFound, "job not found")
		return "", "", false
	case err != nil:
		logging.ForJob(jobID).Error("load job for progress", zap.Error(err))
		middleware.AbortWithError(c, http.StatusInternalServerError, middleware.CodeInternal, "failed to load job")
		return "", "", false
	case job.UserID != userID:
		middleware.AbortWithError(c, http.StatusForbidden, middleware.CodeForbidden, "not authorized for this job")
		return "", "", false
	}
	return jobID, userID, true
}

func sinceParam(c *gin.Context) (int64, bool) {
	raw := c.Query("since")
	if raw == "" {
		raw = c.GetHeader("Last-Event-ID")
	}
	if raw == "" {
		return 0, true
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		middleware.AbortWithError(c, http.StatusBadRequest, middleware.CodeBadRequest, "since must be a non-negative integer")
		return 0, false
	}
	return since, true
}

// HandleWebSocket upgrades to a socket that replays history then streams
// live events.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	if h.hub == nil {
		middleware.AbortWithError(c, http.StatusServiceUnavailable, middleware.CodeUnavailable, "websocket progress is disabled")
		return
	}
	jobID, userID, ok := h.authorize(c)
	if !ok {
		return
	}
	since, ok := sinceParam(c)
	if !ok {
		return
	}

	replay := func(s int64) []Event { return h.history.Since(jobID, s) }
	if err := h.hub.Serve(c.Writer, c.Request, jobID, userID, replay(since), replay); err != nil {
		// the upgrader has already written the HTTP error
		logging.ForJob(jobID).Warn("progress websocket upgrade failed", zap.Error(err))
	}
}

// Poll returns the events after ?since=.
func (h *Handler) Poll(c *gin.Context) {
	jobID, _, ok := h.authorize(c)
	if !ok {
		return
	}
	since, ok := sinceParam(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"jobId":   jobID,
		"events":  h.history.Since(jobID, since),
		"lastSeq": h.history.LastSeq(jobID),
		"done":    h.history.Done(jobID),
	})
}

// Stream serves events as server-sent events until the job finishes or the
// client goes away.
func (h *Handler) Stream(c *gin.Context) {
	jobID, _, ok := h.authorize(c)
	if !ok {
		return
	}
	since, ok := sinceParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// subscribe before reading the backlog so nothing falls in between
	live := h.history.Subscribe(ctx, jobID)
	backlog := h.history.Since(jobID, since)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	last := since
	for _, ev := range backlog {
		writeSSE(c.Writer, ev)
		last = ev.Seq
	}
	c.Writer.Flush()
	if n := len(backlog); n > 0 && backlog[n-1].Type.Terminal() {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.Seq <= last {
				continue
			}
			writeSSE(c.Writer, ev)
			c.Writer.Flush()
			last = ev.Seq
			if ev.Type.Terminal() {
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func writeSSE(w gin.ResponseWriter, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\n", ev.Seq)
	fmt.Fprintf(w, "event: %s\n", ev.Type)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
