// Package handler exposes the relay agent over the local control API.
package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/edirooss/coop-relay/internal/backend"
	"github.com/edirooss/coop-relay/internal/domain/relay"
	"github.com/edirooss/coop-relay/internal/service"
	"github.com/edirooss/coop-relay/pkg/jsonx"
)

// Agent is the part of *service.Agent the control API drives.
type Agent interface {
	View() service.View
	TriggerCapture(rtspURL string) error
	ResetPairing(ctx context.Context) error
	RequestPairingCode(ctx context.Context) error
	SetRTSPOverride(ctx context.Context, rtspURL string) error
	RefreshStatus(ctx context.Context) (relay.Status, error)
	UpdateConfig(ctx context.Context, interval, rtspURL string) (relay.Config, error)
	Snapshots(ctx context.Context, limit int) ([]backend.Snapshot, error)
	ProcessLogs(job string, n int) ([]string, bool)
}

// RelayHandler serves the control API:
//   - GET  /api/relay                    → agent view
//   - POST /api/relay/capture            → start a manual capture
//   - POST /api/relay/pairing/reset      → re-enter pairing
//   - POST /api/relay/pairing/request    → retry the pairing code request
//   - PUT  /api/relay/rtsp-override      → set or clear the local stream address
//   - GET  /api/relay/status             → fresh backend status
//   - PUT  /api/relay/config             → update interval and stream address
//   - GET  /api/relay/snapshots          → recent snapshots
//   - GET  /api/relay/logs               → recent executor output
type RelayHandler struct {
	log   *zap.Logger
	agent Agent
}

// NewRelayHandler constructs a RelayHandler.
func NewRelayHandler(log *zap.Logger, agent Agent) *RelayHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RelayHandler{log: log.Named("relay"), agent: agent}
}

// Register mounts every route on r.
func (h *RelayHandler) Register(r gin.IRouter) {
	r.GET("/api/relay", h.GetRelay)
	r.POST("/api/relay/capture", h.Capture)
	r.POST("/api/relay/pairing/reset", h.ResetPairing)
	r.POST("/api/relay/pairing/request", h.RequestPairingCode)
	r.PUT("/api/relay/rtsp-override", h.SetRTSPOverride)
	r.GET("/api/relay/status", h.GetStatus)
	r.PUT("/api/relay/config", h.UpdateConfig)
	r.GET("/api/relay/snapshots", h.GetSnapshots)
	r.GET("/api/relay/logs", h.GetLogs)
}

// GetRelay handles GET /api/relay.
//
// Status Codes:
//   - 200 OK → agent view
func (h *RelayHandler) GetRelay(c *gin.Context) {
	c.JSON(http.StatusOK, h.agent.View())
}

type captureRequest struct {
	RTSPURL string `json:"rtsp_url"`
}

// Capture handles POST /api/relay/capture.
//
// Behavior:
//   - The body is optional; a non-empty rtsp_url wins over the configured address.
//   - The cycle runs in the background; progress shows up in GET /api/relay.
//
// Status Codes:
//   - 202 Accepted
//   - 400 Bad Request → invalid JSON or stream url
//   - 503 Service Unavailable → agent shutting down
func (h *RelayHandler) Capture(c *gin.Context) {
	var req captureRequest
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil && !errors.Is(err, jsonx.ErrEmptyBody) {
		h.fail(c, http.StatusBadRequest, err)
		return
	}
	if req.RTSPURL != "" {
		if err := service.ValidateStreamURL(req.RTSPURL); err != nil {
			h.fail(c, http.StatusBadRequest, err)
			return
		}
	}

	if err := h.agent.TriggerCapture(req.RTSPURL); err != nil {
		h.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "capture started"})
}

// ResetPairing handles POST /api/relay/pairing/reset.
//
// Status Codes:
//   - 200 OK → agent view with the new pairing code
//   - 409 Conflict → the relay has no relay id yet
//   - 502 Bad Gateway → backend request failed
func (h *RelayHandler) ResetPairing(c *gin.Context) {
	if err := h.agent.ResetPairing(c.Request.Context()); err != nil {
		h.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, h.agent.View())
}

// RequestPairingCode handles POST /api/relay/pairing/request.
//
// Status Codes:
//   - 200 OK → agent view with the new pairing code
//   - 409 Conflict → already paired
//   - 502 Bad Gateway → backend request failed
func (h *RelayHandler) RequestPairingCode(c *gin.Context) {
	if err := h.agent.RequestPairingCode(c.Request.Context()); err != nil {
		h.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, h.agent.View())
}

type rtspOverrideRequest struct {
	RTSPURL jsonx.Field[string] `json:"rtsp_url"`
}

// SetRTSPOverride handles PUT /api/relay/rtsp-override.
//
// Behavior:
//   - rtsp_url is required; "" or null clears the override.
//
// Status Codes:
//   - 200 OK → agent view
//   - 400 Bad Request → invalid JSON, missing field or invalid url
//   - 500 Internal Server Error → identity store failure
func (h *RelayHandler) SetRTSPOverride(c *gin.Context) {
	var req rtspOverrideRequest
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}
	if !req.RTSPURL.IsSet() {
		h.fail(c, http.StatusBadRequest, errors.New("rtsp_url is required"))
		return
	}

	if err := h.agent.SetRTSPOverride(c.Request.Context(), req.RTSPURL.ValueOr("")); err != nil {
		h.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, h.agent.View())
}

// GetStatus handles GET /api/relay/status.
//
// Status Codes:
//   - 200 OK → relay status
//   - 409 Conflict → the relay has no relay id yet
//   - 502 Bad Gateway → backend request failed
func (h *RelayHandler) GetStatus(c *gin.Context) {
	st, err := h.agent.RefreshStatus(c.Request.Context())
	if err != nil {
		h.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type updateConfigRequest struct {
	Interval string `json:"interval"`
	RTSPURL  string `json:"rtsp_url"`
}

// UpdateConfig handles PUT /api/relay/config.
//
// Status Codes:
//   - 200 OK → config now in effect
//   - 400 Bad Request → invalid JSON, interval or url
//   - 409 Conflict → not paired
//   - 502 Bad Gateway → backend request failed
func (h *RelayHandler) UpdateConfig(c *gin.Context) {
	var req updateConfigRequest
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	cfg, err := h.agent.UpdateConfig(c.Request.Context(), req.Interval, req.RTSPURL)
	if err != nil {
		h.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// GetSnapshots handles GET /api/relay/snapshots?limit=N.
//
// Status Codes:
//   - 200 OK → snapshot list, newest first
//   - 400 Bad Request → invalid limit
//   - 409 Conflict → the relay has no relay id yet
//   - 502 Bad Gateway → backend request failed
func (h *RelayHandler) GetSnapshots(c *gin.Context) {
	limit := 10
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 100 {
			h.fail(c, http.StatusBadRequest, errors.New("limit must be an integer in 1..100"))
			return
		}
		limit = n
	}

	snaps, err := h.agent.Snapshots(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, statusFor(err), err)
		return
	}
	c.Header("X-Total-Count", strconv.Itoa(len(snaps)))
	c.JSON(http.StatusOK, snaps)
}

// GetLogs handles GET /api/relay/logs?job=capture|upload&lines=N.
//
// Status Codes:
//   - 200 OK → lines, newest first
//   - 400 Bad Request → unknown job or invalid lines
//   - 404 Not Found → the job has not run yet
func (h *RelayHandler) GetLogs(c *gin.Context) {
	job := c.DefaultQuery("job", service.JobCapture)
	if job != service.JobCapture && job != service.JobUpload {
		h.fail(c, http.StatusBadRequest, errors.New("job must be capture or upload"))
		return
	}

	n := 100
	if s := c.Query("lines"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			h.fail(c, http.StatusBadRequest, errors.New("lines must be a positive integer"))
			return
		}
		n = v
	}

	lines, ok := h.agent.ProcessLogs(job, n)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "no output for job " + job})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job, "lines": lines})
}

// fail records err for the access log and writes {"message": ...}. Backend
// HTTP failures also carry the backend's status as "upstream_status".
func (h *RelayHandler) fail(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	body := gin.H{"message": err.Error()}
	if code := backend.StatusCode(err); code != 0 {
		body["upstream_status"] = code
	}
	c.JSON(status, body)
}

// statusFor maps agent errors to HTTP status codes.
func statusFor(err error) int {
	var apiErr *backend.APIError
	var urlErr *url.Error
	switch {
	case errors.Is(err, service.ErrInvalidURL), errors.Is(err, service.ErrInvalidInterval):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNoRelayID), errors.Is(err, service.ErrNotPaired), errors.Is(err, service.ErrAlreadyPaired):
		return http.StatusConflict
	case errors.Is(err, service.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr), errors.As(err, &urlErr), errors.Is(err, backend.ErrInvalidResponse):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
