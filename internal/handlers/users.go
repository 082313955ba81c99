package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/happypulse/pulse-backend/internal/models"
	"github.com/happypulse/pulse-backend/internal/realtime"
	"github.com/happypulse/pulse-backend/internal/services"
)

// ListUsers returns every active profile with derived presence. Presence is
// computed from the live session set at read time, never read from storage.
func ListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := authenticatedUser(w, r); !ok {
		return
	}

	users, err := services.ListUsers()
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	out := make([]models.UserWithPresence, 0, len(users))
	for _, u := range users {
		st := presence.Status(u.ID)
		entry := models.UserWithPresence{
			User:   u,
			Online: st.Status == realtime.StatusOnline,
		}
		if !st.LastSeenAt.IsZero() {
			ls := st.LastSeenAt
			entry.LastSeen = &ls
		}
		out = append(out, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"users":   out,
	})
}

// GetPresence returns the derived presence snapshot for every known user.
func GetPresence(w http.ResponseWriter, r *http.Request) {
	if _, ok := authenticatedUser(w, r); !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"presence": presence.Snapshot(),
	})
}
