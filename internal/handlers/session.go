package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/pointid/mission-gateway/internal/models"
	"github.com/pointid/mission-gateway/internal/session"
	"go.uber.org/zap"
)

// SessionDropper forgets the stores of an ended session
type SessionDropper interface {
	Drop(sessionID string)
}

// CookieConfig describes the session cookie
type CookieConfig struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

// SessionHandler opens and closes browser sessions
type SessionHandler struct {
	manager *session.Manager
	stores  SessionDropper
	cookie  CookieConfig
	logger  *zap.SugaredLogger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(manager *session.Manager, stores SessionDropper, cookie CookieConfig, logger *zap.SugaredLogger) *SessionHandler {
	return &SessionHandler{manager: manager, stores: stores, cookie: cookie, logger: logger}
}

type loginRequest struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Company string `json:"company"`
	} `json:"user"`
}

type sessionView struct {
	Authenticated bool        `json:"authenticated"`
	Kind          string      `json:"kind"`
	AccountID     string      `json:"accountId,omitempty"`
	Role          models.Role `json:"role,omitempty"`
	Name          string      `json:"name,omitempty"`
	Email         string      `json:"email,omitempty"`
	Company       string      `json:"company,omitempty"`
}

func viewOf(s session.Session) sessionView {
	switch v := s.(type) {
	case session.Professional:
		return sessionView{true, "professional", v.Account.ID, v.Account.Role, v.Account.Name, v.Account.Email, v.Account.Company}
	case session.Claimant:
		return sessionView{true, "claimant", v.Account.ID, models.RoleSocietaire, v.Account.Name, v.Account.Email, ""}
	}
	return sessionView{Kind: "anonymous"}
}

// Login handles POST /api/session
// Takes the tokens issued by the auth service and opens a session.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil || req.AccessToken == "" {
		respondError(w, http.StatusBadRequest, "Missing required field: accessToken")
		return
	}

	id, s, err := h.manager.Create(r.Context(),
		session.Tokens{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken, ExpiresAt: req.ExpiresAt},
		session.Account{Name: req.User.Name, Email: req.User.Email, Company: req.User.Company},
	)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			respondError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		h.logger.Errorw("Failed to open session", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to open session")
		return
	}
	if !s.Authenticated() {
		_ = h.manager.Destroy(r.Context(), id)
		respondError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    id,
		Path:     "/",
		MaxAge:   int(h.cookie.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusCreated, viewOf(s))
}

// Me handles GET /api/session
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, viewOf(session.FromContext(r.Context())))
}

// Logout handles DELETE /api/session
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if id := session.IDFromContext(r.Context()); id != "" {
		if err := h.manager.Destroy(r.Context(), id); err != nil {
			h.logger.Errorw("Failed to destroy session", "error", err)
		}
		h.stores.Drop(id)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
