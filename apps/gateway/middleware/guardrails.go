package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pitabwire/util"
)

const (
	guardrailAuthHeaderParts = 2
	guardrailBearerScheme    = "bearer"
)

// Guardrails applies the boundary HTTP surface's static request checks: an
// optional bearer token, a content-type check on mutating methods, and an
// origin check on browser-originating requests. None of these require a
// round trip to an identity provider — unlike the OIDC security.Authenticator
// this replaces, a guardrail failure never needs network I/O to evaluate.
type Guardrails struct {
	bearerToken   string
	allowedOrigin string
}

// NewGuardrails builds a Guardrails middleware. An empty bearerToken
// disables the bearer check; an empty allowedOrigin disables the origin
// check.
func NewGuardrails(bearerToken, allowedOrigin string) *Guardrails {
	return &Guardrails{bearerToken: bearerToken, allowedOrigin: allowedOrigin}
}

// Middleware runs every guardrail in order, rejecting the request at the
// first failure.
func (g *Guardrails) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := util.Log(r.Context())

		if !g.checkBearer(r) {
			log.Debug("guardrails: rejected missing or invalid bearer token")
			writeGuardrailError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}

		if !g.checkOrigin(r) {
			log.WithField("origin", r.Header.Get("Origin")).Debug("guardrails: rejected disallowed origin")
			writeGuardrailError(w, http.StatusForbidden, "forbidden", "origin not allowed")
			return
		}

		if !g.checkContentType(r) {
			log.WithField("content_type", r.Header.Get("Content-Type")).Debug("guardrails: rejected content type")
			writeGuardrailError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "unexpected content type")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *Guardrails) checkBearer(r *http.Request) bool {
	if g.bearerToken == "" {
		return true
	}
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", guardrailAuthHeaderParts)
	if len(parts) != guardrailAuthHeaderParts || !strings.EqualFold(parts[0], guardrailBearerScheme) {
		return false
	}
	return parts[1] == g.bearerToken
}

func (g *Guardrails) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || g.allowedOrigin == "" {
		return true
	}
	return origin == g.allowedOrigin
}

func isMutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func (g *Guardrails) checkContentType(r *http.Request) bool {
	if !isMutatingMethod(r.Method) {
		return true
	}
	contentType := r.Header.Get("Content-Type")
	return strings.HasPrefix(contentType, "application/json") || strings.HasPrefix(contentType, "multipart/form-data")
}

func writeGuardrailError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
