package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/happypulse/pulse-backend/internal/eventlog"
	"github.com/happypulse/pulse-backend/internal/services"
)

// CreatePostRequest carries a new post body.
type CreatePostRequest struct {
	Text string `json:"text"`
}

// LikePostRequest toggles the caller's like on a post.
type LikePostRequest struct {
	PostID string `json:"post_id"`
}

// ReplyRequest adds a reply to a post.
type ReplyRequest struct {
	PostID string `json:"post_id"`
	Text   string `json:"text"`
}

var errPostNotFound = errors.New("post not found")

// appendPostCreated stamps the author from the authenticated identity and
// appends the event. The sequence in the response is the durable ack.
func appendPostCreated(ctx context.Context, userID uuid.UUID, text string) (string, uint64, error) {
	username, _ := services.GetUsernameByID(userID.String())
	postID := uuid.New().String()
	seq, err := feedLog.Append(ctx, &eventlog.Event{
		Kind:     eventlog.KindPostCreated,
		AuthorID: userID.String(),
		TargetID: postID,
		Payload: eventlog.Payload{
			Text:     strings.TrimSpace(text),
			Username: username,
		},
	})
	if err != nil {
		return "", 0, err
	}
	return postID, seq, nil
}

// appendLikeToggled rejects likes on unknown posts before they reach the log.
func appendLikeToggled(ctx context.Context, userID uuid.UUID, postID string) (uint64, error) {
	if _, ok := projector.Post(postID); !ok {
		return 0, errPostNotFound
	}
	username, _ := services.GetUsernameByID(userID.String())
	return feedLog.Append(ctx, &eventlog.Event{
		Kind:     eventlog.KindLikeToggled,
		AuthorID: userID.String(),
		TargetID: postID,
		Payload: eventlog.Payload{
			Username: username,
		},
	})
}

func appendReplyAdded(ctx context.Context, userID uuid.UUID, postID, text string) (string, uint64, error) {
	if _, ok := projector.Post(postID); !ok {
		return "", 0, errPostNotFound
	}
	username, _ := services.GetUsernameByID(userID.String())
	replyID := uuid.New().String()
	seq, err := feedLog.Append(ctx, &eventlog.Event{
		Kind:     eventlog.KindReplyAdded,
		AuthorID: userID.String(),
		TargetID: postID,
		Payload: eventlog.Payload{
			Text:     strings.TrimSpace(text),
			Username: username,
			ReplyID:  replyID,
		},
	})
	if err != nil {
		return "", 0, err
	}
	return replyID, seq, nil
}

// writeAppendError maps validation failures to 400 and everything else to 500.
func writeAppendError(w http.ResponseWriter, err error) {
	var vErr *eventlog.ValidationError
	if errors.As(err, &vErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"message": vErr.Message,
			"field":   vErr.Field,
		})
		return
	}
	if errors.Is(err, errPostNotFound) {
		http.Error(w, "Post not found", http.StatusNotFound)
		return
	}
	http.Error(w, "Failed to record event", http.StatusInternalServerError)
}

// CreatePost appends a post_created event for the authenticated user.
func CreatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(w, r)
	if !ok {
		return
	}

	var req CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	postID, seq, err := appendPostCreated(r.Context(), userID, req.Text)
	if err != nil {
		writeAppendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"post_id": postID,
		"seq":     seq,
	})
}

// ListPosts returns paginated feed history, newest first. Pagination is
// timestamp-based: pass ?before=<RFC3339> to page backwards.
func ListPosts(w http.ResponseWriter, r *http.Request) {
	var before *time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "Invalid before timestamp, expected RFC3339", http.StatusBadRequest)
			return
		}
		before = &t
	}

	limit := int64(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}

	posts, hasMore, err := services.LoadPostsWithCache(r.Context(), before, limit)
	if err != nil {
		http.Error(w, "Failed to load posts", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"posts":    posts,
		"has_more": hasMore,
	})
}

// GetPost returns one materialized post from the in-memory projection.
func GetPost(w http.ResponseWriter, r *http.Request) {
	postID := r.URL.Query().Get("id")
	if postID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	post, ok := projector.Post(postID)
	if !ok {
		http.Error(w, "Post not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"post":    post,
	})
}

// LikePost appends a like_toggled event. The event is the toggle: liking an
// already-liked post removes the like.
func LikePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(w, r)
	if !ok {
		return
	}

	var req LikePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PostID == "" {
		http.Error(w, "post_id is required", http.StatusBadRequest)
		return
	}

	seq, err := appendLikeToggled(r.Context(), userID, req.PostID)
	if err != nil {
		writeAppendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"seq":     seq,
	})
}

// ReplyToPost appends a reply_added event.
func ReplyToPost(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(w, r)
	if !ok {
		return
	}

	var req ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PostID == "" {
		http.Error(w, "post_id is required", http.StatusBadRequest)
		return
	}

	replyID, seq, err := appendReplyAdded(r.Context(), userID, req.PostID, req.Text)
	if err != nil {
		writeAppendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"reply_id": replyID,
		"seq":      seq,
	})
}
