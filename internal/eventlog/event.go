package eventlog

import (
	"time"
)

// Kind identifies the type of a feed event.
type Kind string

const (
	KindPostCreated        Kind = "post_created"
	KindLikeToggled        Kind = "like_toggled"
	KindReplyAdded         Kind = "reply_added"
	KindNotificationIssued Kind = "notification_issued"
)

// MaxTextLength caps post and reply bodies.
const MaxTextLength = 500

// Payload carries the kind-specific fields of an event.
type Payload struct {
	Text     string `json:"text,omitempty"`
	Username string `json:"username,omitempty"`
	ReplyID  string `json:"reply_id,omitempty"`
	PostID   string `json:"post_id,omitempty"`
	// NotifKind is "like" or "reply" on notification_issued events.
	NotifKind string `json:"notif_kind,omitempty"`
}

// Event is a single immutable entry in the feed log. Seq is assigned by the
// log on append and totally orders all events. Corrections are modeled as new
// compensating events (e.g. a second like_toggled), never as edits.
type Event struct {
	Seq       uint64    `json:"seq"`
	Kind      Kind      `json:"kind"`
	AuthorID  string    `json:"author_id"`
	TargetID  string    `json:"target_id,omitempty"` // post id, or recipient user id for notifications
	Payload   Payload   `json:"payload,omitempty"`
	CausedBy  uint64    `json:"caused_by,omitempty"` // seq of the event this one is derived from
	CreatedAt time.Time `json:"created_at"`
}

// ValidationError reports the first field that failed event validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Validate checks the per-kind required fields. Malformed events are rejected
// before they reach the append point.
func (e *Event) Validate() error {
	if e.AuthorID == "" {
		return &ValidationError{Field: "author_id", Message: "author_id is required"}
	}
	switch e.Kind {
	case KindPostCreated:
		if e.TargetID == "" {
			return &ValidationError{Field: "target_id", Message: "post id is required"}
		}
		if e.Payload.Text == "" {
			return &ValidationError{Field: "payload.text", Message: "post text is required"}
		}
		if len(e.Payload.Text) > MaxTextLength {
			return &ValidationError{Field: "payload.text", Message: "post text exceeds 500 characters"}
		}
	case KindLikeToggled:
		if e.TargetID == "" {
			return &ValidationError{Field: "target_id", Message: "post id is required"}
		}
	case KindReplyAdded:
		if e.TargetID == "" {
			return &ValidationError{Field: "target_id", Message: "post id is required"}
		}
		if e.Payload.Text == "" {
			return &ValidationError{Field: "payload.text", Message: "reply text is required"}
		}
		if len(e.Payload.Text) > MaxTextLength {
			return &ValidationError{Field: "payload.text", Message: "reply text exceeds 500 characters"}
		}
	case KindNotificationIssued:
		if e.TargetID == "" {
			return &ValidationError{Field: "target_id", Message: "recipient user id is required"}
		}
		if e.CausedBy == 0 {
			return &ValidationError{Field: "caused_by", Message: "source event seq is required"}
		}
		if e.Payload.NotifKind == "" {
			return &ValidationError{Field: "payload.notif_kind", Message: "notification kind is required"}
		}
	default:
		return &ValidationError{Field: "kind", Message: "unknown event kind"}
	}
	return nil
}
