package middleware

import (
	"context"
	"net/http"
	"strings"

	"collabdraft-server/pkg/response"
	"collabdraft-server/pkg/token"
)

type contextKey string

const (
	ParticipantIDKey   contextKey = "participantID"
	ParticipantNameKey contextKey = "participantName"
)

func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			claims, err := token.Validate(parts[1], jwtSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ParticipantIDKey, claims.ParticipantID)
			ctx = context.WithValue(ctx, ParticipantNameKey, claims.Name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetParticipantID(r *http.Request) string {
	id, ok := r.Context().Value(ParticipantIDKey).(string)
	if !ok {
		return ""
	}
	return id
}

func GetParticipantName(r *http.Request) string {
	name, ok := r.Context().Value(ParticipantNameKey).(string)
	if !ok {
		return ""
	}
	return name
}
