// Package httpapi binds the command surface in internal/control to Echo
// routes, translating between JSON request/response bodies and the
// transport-agnostic Service calls, and mapping apperr.Kind to HTTP
// status codes the way the teacher's handlers map repository errors.
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"airwaves/internal/apperr"
	"airwaves/internal/control"
)

// liveContentType is fixed because the ingest pipeline always transcodes
// to mp3 (internal/ingest.Supervisor is constructed with captureExt
// "mp3" throughout this module).
const liveContentType = "audio/mpeg"

// errorStatus maps an apperr.Kind to the HTTP status a caller should see.
func errorStatus(err error) int {
	switch apperr.KindOf(err) {
	case apperr.InputInvalid:
		return http.StatusBadRequest
	case apperr.StateConflict:
		return http.StatusConflict
	case apperr.ExternalUnavailable:
		return http.StatusBadGateway
	case apperr.ExternalRejected:
		return http.StatusBadGateway
	case apperr.ResourceExhausted:
		return http.StatusServiceUnavailable
	case apperr.Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c echo.Context, err error) error {
	return c.JSON(errorStatus(err), map[string]string{"error": err.Error()})
}

// RegisterRoutes binds every command in the abstract command surface to
// an Echo route under svc.
func RegisterRoutes(e *echo.Echo, svc *control.Service) {
	stream := &StreamHandler{svc: svc}
	e.POST("/api/stream/start", stream.Start)
	e.POST("/api/stream/stop", stream.Stop)
	e.GET("/api/stream/status", stream.Status)
	e.GET("/api/stream/live", stream.Live)
	e.GET("/api/capture-ready/:id", stream.CaptureReady)

	queue := &QueueHandler{svc: svc}
	e.POST("/api/queue", queue.Enqueue)
	e.GET("/api/queue", queue.List)
	e.DELETE("/api/queue/:entry_id", queue.Remove)
	e.PUT("/api/queue/reorder", queue.Reorder)
	e.POST("/api/queue/next", queue.Next)
	e.DELETE("/api/queue", queue.Clear)

	history := &HistoryHandler{svc: svc}
	e.GET("/api/history", history.List)
	e.DELETE("/api/history", history.Clear)

	jobs := &JobHandler{svc: svc}
	e.GET("/api/jobs/:id", jobs.Status)
}

// StreamHandler exposes start_stream, stop_stream, status, and
// capture_ready.
type StreamHandler struct {
	svc *control.Service
}

type startStreamRequest struct {
	Identifier         string `json:"identifier"`
	SkipPostProcessing bool   `json:"skip_post_processing"`
}

// Start implements start_stream.
// POST /api/stream/start
func (h *StreamHandler) Start(c echo.Context) error {
	var req startStreamRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	title, err := h.svc.StartStream(c.Request().Context(), req.Identifier, req.SkipPostProcessing)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"title": title})
}

// Stop implements stop_stream.
// POST /api/stream/stop
func (h *StreamHandler) Stop(c echo.Context) error {
	h.svc.StopStream()
	return c.JSON(http.StatusOK, map[string]string{"status": "idle"})
}

type statusResponse struct {
	Status     string `json:"status"`
	Identifier string `json:"identifier,omitempty"`
	Title      string `json:"title,omitempty"`
}

// Status implements status.
// GET /api/stream/status
func (h *StreamHandler) Status(c echo.Context) error {
	st := h.svc.Status()
	if !st.Streaming {
		return c.JSON(http.StatusOK, statusResponse{Status: "idle"})
	}
	return c.JSON(http.StatusOK, statusResponse{Status: "streaming", Identifier: st.Identifier, Title: st.Title})
}

// CaptureReady implements capture_ready.
// GET /api/capture-ready/:id
func (h *StreamHandler) CaptureReady(c echo.Context) error {
	ready := h.svc.CaptureReady(c.Param("id"))
	return c.JSON(http.StatusOK, map[string]bool{"ready": ready})
}

// Live streams the active broadcast's raw chunks to the caller as they
// are published, replaying the retained buffer first so a client that
// joins mid-stream is not left waiting for the next chunk. Returns 409
// when nothing is currently streaming.
// GET /api/stream/live
func (h *StreamHandler) Live(c echo.Context) error {
	sub, unsubscribe, ok := h.svc.Subscribe()
	if !ok {
		return c.JSON(http.StatusConflict, map[string]string{"error": "not streaming"})
	}
	defer unsubscribe()

	c.Response().Header().Set(echo.HeaderContentType, liveContentType)
	c.Response().WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	for {
		chunk, open := sub.Next()
		if !open {
			return nil
		}
		if _, err := c.Response().Write(chunk); err != nil {
			return nil
		}
		c.Response().Flush()
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// QueueHandler exposes enqueue_item, list_queue, remove_entry,
// reorder_queue, next, and clear_queue.
type QueueHandler struct {
	svc *control.Service
}

type enqueueRequest struct {
	Identifier         string `json:"identifier"`
	SkipPostProcessing bool   `json:"skip_post_processing"`
}

// Enqueue implements enqueue_item.
// POST /api/queue
func (h *QueueHandler) Enqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	added, title, err := h.svc.EnqueueItem(c.Request().Context(), req.Identifier, req.SkipPostProcessing)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"added": added, "title": title})
}

// List implements list_queue.
// GET /api/queue
func (h *QueueHandler) List(c echo.Context) error {
	entries, err := h.svc.ListQueue(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"queue": entries})
}

// Remove implements remove_entry.
// DELETE /api/queue/:entry_id
func (h *QueueHandler) Remove(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("entry_id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid entry id"})
	}
	if err := h.svc.RemoveEntry(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type reorderRequest struct {
	EntryIDs []int64 `json:"entry_ids"`
}

// Reorder implements reorder_queue.
// PUT /api/queue/reorder
func (h *QueueHandler) Reorder(c echo.Context) error {
	var req reorderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := h.svc.ReorderQueue(c.Request().Context(), req.EntryIDs); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Next implements next.
// POST /api/queue/next
func (h *QueueHandler) Next(c echo.Context) error {
	started, identifier, err := h.svc.Next(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	if !started {
		return c.JSON(http.StatusOK, map[string]string{"status": "queue_empty"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "started", "identifier": identifier})
}

// Clear implements clear_queue.
// DELETE /api/queue
func (h *QueueHandler) Clear(c echo.Context) error {
	if err := h.svc.ClearQueue(c.Request().Context()); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HistoryHandler exposes list_history and clear_history.
type HistoryHandler struct {
	svc *control.Service
}

// List implements list_history.
// GET /api/history?limit=N
func (h *HistoryHandler) List(c echo.Context) error {
	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	entries, err := h.svc.ListHistory(c.Request().Context(), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"history": entries})
}

// Clear implements clear_history.
// DELETE /api/history
func (h *HistoryHandler) Clear(c echo.Context) error {
	if err := h.svc.ClearHistory(c.Request().Context()); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// JobHandler exposes job_status.
type JobHandler struct {
	svc *control.Service
}

// Status implements job_status.
// GET /api/jobs/:id
func (h *JobHandler) Status(c echo.Context) error {
	job, ok := h.svc.JobStatus(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not_found"})
	}
	return c.JSON(http.StatusOK, job)
}
