package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rmcgann/agentlink-core/internal/audit"
	"github.com/rmcgann/agentlink-core/internal/dispatch"
	"github.com/rmcgann/agentlink-core/internal/registry"
)

// registerRequest is the request body for POST /agent/register.
type registerRequest struct {
	PairingCode string `json:"pairing_code"`
	DeviceName  string `json:"device_name"`
	Platform    string `json:"platform"`
}

// registerResponse is the response body for POST /agent/register.
// The auth token appears here once and is never returned again.
type registerResponse struct {
	DeviceID  string `json:"device_id"`
	AuthToken string `json:"auth_token"`
	UserID    string `json:"user_id"`
}

// handleRegister exchanges a pairing code for device credentials.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.registry.Register(r.Context(), req.PairingCode, req.DeviceName, req.Platform)
	if err != nil {
		s.auditLog.Record(r.Context(), audit.Entry{
			Action:     audit.ActionRegister,
			Status:     audit.StatusFailed,
			Detail:     err.Error(),
			RemoteAddr: r.RemoteAddr,
		})
		switch {
		case errors.Is(err, registry.ErrInvalidDevice):
			writeBadRequest(w, err.Error())
		case errors.Is(err, registry.ErrCodeNotFound),
			errors.Is(err, registry.ErrCodeExpired),
			errors.Is(err, registry.ErrCodeUsed):
			writeUnauthorized(w, err.Error())
		default:
			writeInternalError(w, "registration failed")
		}
		return
	}

	device := result.Device
	s.presence.Seed(device.ID, device.UserID, time.Time{})

	s.auditLog.Record(r.Context(), audit.Entry{
		Action:     audit.ActionRegister,
		UserID:     device.UserID,
		DeviceID:   device.ID,
		Status:     audit.StatusOK,
		RemoteAddr: r.RemoteAddr,
	})

	writeJSON(w, http.StatusCreated, registerResponse{
		DeviceID:  device.ID,
		AuthToken: result.Token,
		UserID:    device.UserID,
	})
}

// handlePoll hands the device its oldest queued task, if any.
// Polling counts as liveness, the same as a heartbeat.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	device := deviceFromContext(r.Context())

	s.touchDevice(r.Context(), device)

	task, ok := s.hub.PollOne(device.ID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"task": nil})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

// reportRequest is the request body for POST /agent/report.
type reportRequest struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleReport accepts a task result from the executing device.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	device := deviceFromContext(r.Context())

	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.TaskID == "" {
		writeBadRequest(w, "task_id is required")
		return
	}
	if req.Status != dispatch.StatusSuccess && req.Status != dispatch.StatusFailure {
		writeBadRequest(w, "status must be success or failure")
		return
	}

	s.touchDevice(r.Context(), device)

	err := s.dispatcher.ReportResult(r.Context(), device.ID, dispatch.TaskResult{
		TaskID: req.TaskID,
		Status: req.Status,
		Output: req.Output,
		Error:  req.Error,
	})
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrUnknownTask):
			writeNotFound(w, "unknown task")
		case errors.Is(err, dispatch.ErrNotTaskOwner):
			writeForbidden(w, "task belongs to another device")
		default:
			writeInternalError(w, "failed to record result")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

// handleHeartbeat records device liveness and returns the server time
// so agents can detect clock skew.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	device := deviceFromContext(r.Context())

	s.touchDevice(r.Context(), device)

	if s.telemetry != nil {
		s.telemetry.WriteHeartbeat(device.ID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"server_time": time.Now().UTC().Format(time.RFC3339),
	})
}

// touchDevice updates both the persisted last_seen and the in-memory
// presence tracker. Persistence failures are logged, not surfaced;
// liveness must not fail the calling request.
func (s *Server) touchDevice(ctx context.Context, device *registry.Device) {
	s.presence.Touch(device.ID, device.UserID)
	if err := s.registry.TouchDevice(ctx, device.ID); err != nil {
		s.logger.Warn("failed to persist device last_seen", "device_id", device.ID, "error", err)
	}
}
