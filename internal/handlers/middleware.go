package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/1sub-io/vendor-api/internal/services"
	"github.com/1sub-io/vendor-api/pkg/ratelimit"
)

type contextKey string

const (
	UserContextKey contextKey = "user_id"
	ToolContextKey contextKey = "tool_id"
)

type Claims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	IsVendor bool   `json:"is_vendor"`
	jwt.RegisteredClaims
}

func jwtSecret() string {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		// Fallback for development if not set, but should log warning
		fmt.Println("WARNING: JWT_SECRET not set, using default insecure secret")
		secret = "default-insecure-secret-change-me"
	}
	return secret
}

func parseSessionToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret()), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(time.Now()) {
		return nil, fmt.Errorf("token expired")
	}
	return claims, nil
}

// AuthMiddleware validates the session JWT and sets the user context
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized: No token provided", http.StatusUnauthorized)
			return
		}

		bearerToken := strings.Split(authHeader, " ")
		if len(bearerToken) != 2 || bearerToken[0] != "Bearer" {
			http.Error(w, "Unauthorized: Invalid token format", http.StatusUnauthorized)
			return
		}

		claims, err := parseSessionToken(bearerToken[1])
		if err != nil {
			http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			http.Error(w, "Unauthorized: Invalid token subject", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIDFromContext helper to retrieve the authenticated user ID
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserContextKey).(uuid.UUID)
	return userID, ok
}

// GetToolIDFromContext helper to retrieve the authenticated tool ID
func GetToolIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	toolID, ok := ctx.Value(ToolContextKey).(uuid.UUID)
	return toolID, ok
}

// ToolAuthMiddleware authenticates platform API requests by API key and
// sets the tool context. Expects "Authorization: Bearer sk-tool-...".
func ToolAuthMiddleware(keys *services.KeyService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Missing API key")
				return
			}

			bearerToken := strings.Split(authHeader, " ")
			if len(bearerToken) != 2 || bearerToken[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid Authorization header format")
				return
			}

			toolID, err := keys.Authenticate(r.Context(), bearerToken[1])
			if err != nil {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid or revoked API key")
				return
			}

			ctx := context.WithValue(r.Context(), ToolContextKey, toolID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware enforces the per-key request limit on the platform
// API. Runs after ToolAuthMiddleware so the tool ID is the limiter key.
func RateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			toolID, ok := GetToolIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), toolID.String())
			if err != nil {
				log.Error().Err(err).Msg("Rate limiter failure")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				retryAfter := int(result.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				log.Warn().
					Str("tool_id", toolID.String()).
					Int("limit", result.Limit).
					Msg("Platform API rate limit exceeded")

				writeErrorDetails(w, http.StatusTooManyRequests, CodeRateLimitExceeded, "Rate limit exceeded", map[string]interface{}{
					"retry_after": retryAfter,
					"limit":       result.Limit,
					"remaining":   result.Remaining,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
