package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/happypulse/pulse-backend/internal/services"
)

// MarkReadRequest acknowledges one notification.
type MarkReadRequest struct {
	NotificationID string `json:"notification_id"`
}

// ListNotifications returns the caller's notifications (newest first) plus
// the unread count.
func ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(w, r)
	if !ok {
		return
	}

	limit := int64(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}

	notifs, err := services.LoadNotifications(r.Context(), userID.String(), limit)
	if err != nil {
		http.Error(w, "Failed to load notifications", http.StatusInternalServerError)
		return
	}

	unread, err := services.CountUnreadNotifications(r.Context(), userID.String())
	if err != nil {
		http.Error(w, "Failed to count notifications", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":       true,
		"notifications": notifs,
		"unread_count":  unread,
	})
}

// MarkNotificationRead acknowledges one notification. The store filters by
// recipient, so a user cannot acknowledge someone else's notification.
func MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(w, r)
	if !ok {
		return
	}

	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NotificationID == "" {
		http.Error(w, "notification_id is required", http.StatusBadRequest)
		return
	}

	if err := services.MarkNotificationRead(r.Context(), userID.String(), req.NotificationID); err != nil {
		http.Error(w, "Failed to mark notification read", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Notification marked read",
	})
}

// MarkAllNotificationsRead acknowledges everything for the caller.
func MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(w, r)
	if !ok {
		return
	}

	if err := services.MarkAllNotificationsRead(r.Context(), userID.String()); err != nil {
		http.Error(w, "Failed to mark notifications read", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "All notifications marked read",
	})
}
