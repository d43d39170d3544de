package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"riskguard/pkg/crypto"
)

// TokenVerifier проверяет операторский токен
type TokenVerifier interface {
	Verify(token string) bool
}

var _ TokenVerifier = (*crypto.TokenVerifier)(nil)

// Auth - middleware проверки операторского токена
//
// Токен передается в заголовке Authorization: Bearer <token>. Для WebSocket,
// где браузер не умеет ставить заголовки, допускается query-параметр token.
// Токен сверяется с bcrypt-хешем из конфигурации (API_TOKEN_HASH).
//
// nil verifier отключает проверку (локальная разработка).
func Auth(verifier TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="riskguard"`)
				writeError(w, http.StatusUnauthorized, "missing API token")
				return
			}
			if !verifier.Verify(token) {
				logger.Warn("rejected API token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("request_id", RequestIDFromContext(r.Context())))
				w.Header().Set("WWW-Authenticate", `Bearer realm="riskguard", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, "invalid API token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// writeError пишет JSON ошибку в формате handlers.ErrorResponse
func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
