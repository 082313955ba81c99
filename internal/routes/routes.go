package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/happypulse/pulse-backend/internal/handlers"
)

func SetupRoutes(r *chi.Mux) {
	// Auth routes
	r.Post("/api/auth/signup", handlers.Signup)
	r.Post("/api/auth/signin", handlers.Signin)
	r.Post("/api/auth/signout", handlers.Signout)
	r.Get("/api/auth/me", handlers.GetMe)
	r.Post("/api/auth/check-username", handlers.CheckUsernameAvailability)

	// User directory with derived presence
	r.Get("/api/users", handlers.ListUsers)
	r.Get("/api/presence", handlers.GetPresence)

	// Feed routes (MongoDB projections + Redis recent cache)
	r.Post("/api/posts", handlers.CreatePost)
	r.Get("/api/posts", handlers.ListPosts)
	r.Get("/api/posts/one", handlers.GetPost)
	r.Post("/api/posts/like", handlers.LikePost)
	r.Post("/api/posts/reply", handlers.ReplyToPost)

	// Notification routes
	r.Get("/api/notifications", handlers.ListNotifications)
	r.Post("/api/notifications/read", handlers.MarkNotificationRead)
	r.Post("/api/notifications/read-all", handlers.MarkAllNotificationsRead)

	// Avatar upload
	r.Post("/api/upload/avatar", handlers.UploadAvatar)

	// WebSocket gateway for sessions, presence, and live feed delivery
	r.Get("/ws/pulse", handlers.PulseWebSocket)
}
