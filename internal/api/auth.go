/**
 * @description
 * Access policies for the operator-facing routes (dashboard, summary, metrics).
 */
package api

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/transfa/supporter-service/internal/config"
)

const dashboardRealm = `Basic realm="Subscriber Dashboard"`

// DashboardAuth returns the middleware for the configured DASHBOARD_AUTH policy.
func DashboardAuth(cfg config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	switch cfg.DashboardAuth {
	case config.AuthNone, "":
		return func(next http.Handler) http.Handler { return next }, nil
	case config.AuthBasic:
		return BasicAuthMiddleware(cfg.DashboardUsername, cfg.DashboardPassword, cfg.DashboardPasswordHash, logger), nil
	case config.AuthJWT:
		return JWTAuthMiddleware(cfg.DashboardJWTSecret, logger), nil
	default:
		return nil, errors.New("unknown dashboard auth policy " + cfg.DashboardAuth)
	}
}

// BasicAuthMiddleware challenges for HTTP Basic credentials. An empty username
// accepts any user name. passwordHash, when set, is a bcrypt hash and takes
// precedence over password.
func BasicAuthMiddleware(username, password, passwordHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !basicCredentialsMatch(user, pass, username, password, passwordHash) {
				if ok {
					logger.Warn("dashboard basic auth rejected", "remote_addr", r.RemoteAddr)
				}
				w.Header().Set("WWW-Authenticate", dashboardRealm)
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func basicCredentialsMatch(user, pass, wantUser, wantPass, wantHash string) bool {
	if wantUser != "" && subtle.ConstantTimeCompare([]byte(user), []byte(wantUser)) != 1 {
		return false
	}
	if wantHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(wantHash), []byte(pass)) == nil
	}
	if wantPass == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(wantPass)) == 1
}

// JWTAuthMiddleware requires an HS256 bearer token signed with secret.
func JWTAuthMiddleware(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
	)
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if tokenString == "" || tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				return key, nil
			})
			if err != nil || !token.Valid {
				logger.Warn("dashboard token rejected", "error", err, "remote_addr", r.RemoteAddr)
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
