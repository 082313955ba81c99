package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/happypulse/pulse-backend/internal/eventlog"
	"github.com/happypulse/pulse-backend/internal/projection"
	"github.com/happypulse/pulse-backend/internal/realtime"
	"github.com/happypulse/pulse-backend/internal/services"
)

// Shared handler dependencies, wired once from main.
var (
	feedLog    *eventlog.Log
	projector  *projection.Projector
	registry   *realtime.Registry
	presence   *realtime.Presence
	dispatcher *realtime.Dispatcher
)

// Init wires the realtime core into the handlers package. Must be called
// before the router starts serving.
func Init(
	l *eventlog.Log,
	proj *projection.Projector,
	reg *realtime.Registry,
	pres *realtime.Presence,
	disp *realtime.Dispatcher,
) {
	feedLog = l
	projector = proj
	registry = reg
	presence = pres
	dispatcher = disp
}

// extractBearerToken pulls the token out of "Authorization: Bearer <token>".
func extractBearerToken(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

// authenticatedUser resolves the request's auth token to a user ID.
// Writes a 401 and returns false when the token is missing or invalid.
func authenticatedUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		http.Error(w, "missing auth token", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	userID, ok, err := services.ValidateAuthToken(token)
	if err != nil || !ok {
		http.Error(w, "invalid auth token", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return userID, true
}
