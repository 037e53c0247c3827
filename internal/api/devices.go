package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rmcgann/agentlink-core/internal/audit"
	"github.com/rmcgann/agentlink-core/internal/automation"
	"github.com/rmcgann/agentlink-core/internal/dispatch"
	"github.com/rmcgann/agentlink-core/internal/registry"
	"github.com/rmcgann/agentlink-core/internal/transport"
)

// maxInlineWait bounds the wait_ms option on queue-task so a slow
// agent cannot pin an HTTP worker indefinitely.
const maxInlineWait = 60 * time.Second

// handleGeneratePairingCode issues a short-lived pairing code bound to
// the calling user.
func (s *Server) handleGeneratePairingCode(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	code, err := s.registry.GeneratePairingCode(r.Context(), userID)
	if err != nil {
		s.logger.Error("failed to generate pairing code", "error", err)
		writeInternalError(w, "failed to generate pairing code")
		return
	}

	s.auditLog.Record(r.Context(), audit.Entry{
		Action:     audit.ActionPairingCode,
		UserID:     userID,
		Status:     audit.StatusOK,
		RemoteAddr: r.RemoteAddr,
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"code":       code.Code,
		"expires_at": code.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// queueTaskRequest is the request body for POST /agent/queue-task.
type queueTaskRequest struct {
	DeviceID string         `json:"device_id"`
	Command  string         `json:"command"`
	Params   map[string]any `json:"params,omitempty"`
	WaitMS   int            `json:"wait_ms,omitempty"`
}

// queueTaskResponse is the response body for POST /agent/queue-task.
// Result is only present when the caller asked to wait and the device
// reported within the window.
type queueTaskResponse struct {
	Task     *dispatch.Task       `json:"task"`
	Result   *dispatch.TaskResult `json:"result,omitempty"`
	TimedOut bool                 `json:"timed_out,omitempty"`
}

// handleQueueTask dispatches a command to a device owned by the caller.
//
// Loopback callers may bypass the ownership check with an explicit
// X-Internal-Override: 1 header; every use is audited.
func (s *Server) handleQueueTask(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	var req queueTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" || req.Command == "" {
		writeBadRequest(w, "device_id and command are required")
		return
	}

	override := r.Header.Get("X-Internal-Override") == "1" && isLoopback(r)
	if override {
		s.auditLog.Record(r.Context(), audit.Entry{
			Action:     audit.ActionOverride,
			UserID:     userID,
			DeviceID:   req.DeviceID,
			Command:    req.Command,
			Status:     audit.StatusOK,
			Detail:     "ownership check bypassed from loopback",
			RemoteAddr: r.RemoteAddr,
		})
	} else {
		if _, err := s.registry.VerifyOwnership(r.Context(), userID, req.DeviceID); err != nil {
			switch {
			case errors.Is(err, registry.ErrDeviceNotFound):
				writeNotFound(w, "device not found")
			case errors.Is(err, registry.ErrNotOwner):
				s.auditLog.Record(r.Context(), audit.Entry{
					Action:     audit.ActionDispatch,
					UserID:     userID,
					DeviceID:   req.DeviceID,
					Command:    req.Command,
					Status:     audit.StatusDenied,
					Detail:     "not device owner",
					RemoteAddr: r.RemoteAddr,
				})
				writeForbidden(w, "device belongs to another user")
			default:
				writeInternalError(w, "ownership check failed")
			}
			return
		}
	}

	task, err := s.dispatcher.Dispatch(r.Context(), req.DeviceID, userID, req.Command, req.Params)
	if err != nil {
		switch {
		case errors.Is(err, transport.ErrQueueFull):
			writeError(w, http.StatusConflict, ErrCodeQueueFull, "device queue is full")
		case errors.Is(err, dispatch.ErrInvalidCommand):
			writeBadRequest(w, err.Error())
		default:
			writeInternalError(w, "dispatch failed")
		}
		return
	}

	resp := queueTaskResponse{Task: task}

	if req.WaitMS > 0 {
		wait := time.Duration(req.WaitMS) * time.Millisecond
		if wait > maxInlineWait {
			wait = maxInlineWait
		}
		result, err := s.dispatcher.AwaitResult(r.Context(), task.ID, wait)
		switch {
		case err == nil:
			resp.Result = result
		case errors.Is(err, dispatch.ErrAwaitTimeout):
			resp.TimedOut = true
		default:
			s.logger.Warn("await after dispatch failed", "task_id", task.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// automationRequest is the request body for POST /agent/automation.
type automationRequest struct {
	Text       string            `json:"text"`
	DeviceID   string            `json:"device_id,omitempty"`
	Confidence float64           `json:"confidence"`
	Steps      []automation.Step `json:"steps"`
	Fallback   string            `json:"fallback,omitempty"`
}

// handleAutomation runs a multi-step goal through the automation router.
func (s *Server) handleAutomation(w http.ResponseWriter, r *http.Request) {
	if s.autoRouter == nil {
		writeInternalError(w, "automation router not configured")
		return
	}

	userID := userIDFromContext(r.Context())

	var req automationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	goal := automation.Goal{
		Text:       req.Text,
		DeviceID:   req.DeviceID,
		UserID:     userID,
		Confidence: req.Confidence,
		Steps:      req.Steps,
		Fallback:   req.Fallback,
	}

	report, err := s.autoRouter.Run(r.Context(), goal)
	if err != nil {
		switch {
		case errors.Is(err, automation.ErrNoSteps):
			writeBadRequest(w, "goal has no steps")
		case errors.Is(err, automation.ErrNoDevice):
			writeError(w, http.StatusConflict, ErrCodeConflict, "no online device available")
		default:
			writeInternalError(w, "automation run failed")
		}
		return
	}

	status := audit.StatusOK
	if report.Status != automation.StatusCompleted {
		status = audit.StatusFailed
	}
	s.auditLog.Record(r.Context(), audit.Entry{
		Action:     audit.ActionAutomation,
		UserID:     userID,
		DeviceID:   report.DeviceID,
		Command:    report.FailedCommand,
		Status:     status,
		Detail:     report.Status,
		RemoteAddr: r.RemoteAddr,
	})

	writeJSON(w, http.StatusOK, report)
}

// deviceView is a device enriched with computed presence.
type deviceView struct {
	registry.Device
	IsOnline bool `json:"is_online"`
}

// handleListDevices returns the caller's devices with live presence.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	devices, err := s.registry.ListByUser(r.Context(), userID)
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, deviceView{
			Device:   d,
			IsOnline: s.presence.Online(d.ID),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// handleListAudit returns recent audit entries, filtered by query params.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		DeviceID: q.Get("device_id"),
		UserID:   q.Get("user_id"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditLog.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
