package api

import (
	"encoding/json"
	"net/http"

	"github.com/rmcgann/agentlink-core/internal/audit"
	"github.com/rmcgann/agentlink-core/internal/auth"
)

// defaultTokenTTLMinutes is used when no TTL is configured.
const defaultTokenTTLMinutes = 60

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleLogin authenticates a user and returns a JWT access token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	user, err := s.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		s.auditLog.Record(r.Context(), audit.Entry{
			Action:     audit.ActionAuth,
			Status:     audit.StatusFailed,
			Detail:     "unknown username",
			RemoteAddr: r.RemoteAddr,
		})
		writeUnauthorized(w, "invalid credentials")
		return
	}

	ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		s.auditLog.Record(r.Context(), audit.Entry{
			Action:     audit.ActionAuth,
			UserID:     user.ID,
			Status:     audit.StatusFailed,
			Detail:     "password mismatch",
			RemoteAddr: r.RemoteAddr,
		})
		writeUnauthorized(w, "invalid credentials")
		return
	}

	ttl := s.secCfg.JWT.AccessTokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTLMinutes
	}

	signed, err := auth.GenerateAccessToken(user, s.secCfg.JWT.Secret, ttl)
	if err != nil {
		s.logger.Error("failed to sign access token", "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	s.auditLog.Record(r.Context(), audit.Entry{
		Action:     audit.ActionAuth,
		UserID:     user.ID,
		Status:     audit.StatusOK,
		RemoteAddr: r.RemoteAddr,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   ttl * 60,
	})
}
