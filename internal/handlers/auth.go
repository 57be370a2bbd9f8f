package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"

	"github.com/lacolombe/portal-notify/internal/authz"
	"github.com/lacolombe/portal-notify/internal/repository"
)

const tokenTTL = 24 * time.Hour

type AuthHandler struct {
	parents repository.ParentRepository
	secret  []byte
	logger  zerolog.Logger
}

func NewAuthHandler(parents repository.ParentRepository, secret string, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		parents: parents,
		secret:  []byte(secret),
		logger:  logger.With().Str("handler", "auth").Logger(),
	}
}

type loginRequest struct {
	ParentID   string `json:"parentId"`
	AccessCode string `json:"accessCode"`
}

// Login exchanges a parent matricule and access code for a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ParentID == "" || req.AccessCode == "" {
		writeError(w, http.StatusBadRequest, "parentId and accessCode are required")
		return
	}

	parent, err := h.parents.Authenticate(r.Context(), req.ParentID, req.AccessCode)
	if err != nil {
		h.logger.Warn().Str("parent_id", req.ParentID).Msg("login rejected")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	claims := jwt.RegisteredClaims{
		Subject:   parent.ID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		h.logger.Error().Err(err).Msg("sign token")
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"token":    token,
		"parentId": parent.ID,
		"fullName": parent.FullName,
	})
}

// JWTMiddleware authenticates bearer tokens and stores the parent id on
// the request context.
func (h *AuthHandler) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return h.secret, nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(authz.WithParent(r.Context(), claims.Subject)))
	})
}
