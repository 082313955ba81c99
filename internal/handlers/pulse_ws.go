package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/happypulse/pulse-backend/internal/eventlog"
	"github.com/happypulse/pulse-backend/internal/realtime"
	"github.com/happypulse/pulse-backend/internal/services"
)

var pulseUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS for WebSocket is handled at the HTTP layer already.
		// Here we allow all origins; you can tighten this by checking r.Header["Origin"].
		return true
	},
}

// GatewayClientMessage represents messages coming from the frontend over WebSocket.
type GatewayClientMessage struct {
	Type   string `json:"type"` // "heartbeat", "subscribe", "post", "like", "reply"
	Cursor uint64 `json:"cursor,omitempty"`
	Text   string `json:"text,omitempty"`
	PostID string `json:"post_id,omitempty"`
}

// GatewayServerMessage is everything the gateway pushes to a client.
type GatewayServerMessage struct {
	Type     string               `json:"type"` // "event", "presence", "overflowed", "ack", "error"
	Event    *eventlog.Event      `json:"event,omitempty"`
	Presence *realtime.Transition `json:"presence,omitempty"`
	Seq      uint64               `json:"seq,omitempty"`
	PostID   string               `json:"post_id,omitempty"`
	ReplyID  string               `json:"reply_id,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// PulseWebSocket is the realtime gateway. One connection is one session:
// connecting opens it, heartbeats keep it alive, and closing (or missing
// heartbeats past the TTL) ends it. Subscribing starts ordered feed delivery;
// after an overflow the client resubscribes with its last consumed seq + 1
// and the gap is replayed from the log.
func PulseWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via the auth token (Authorization: Bearer <token>)
	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		// Fallback: allow token via query parameter for browser WebSocket clients
		token = r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing auth token", http.StatusUnauthorized)
			return
		}
	}

	userID, ok, err := services.ValidateAuthToken(token)
	if err != nil || !ok {
		http.Error(w, "invalid auth token", http.StatusUnauthorized)
		return
	}

	conn, err := pulseUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// gorilla/websocket allows one concurrent writer; the subscription pump
	// and the reader's acks share this connection.
	var writeMu sync.Mutex
	send := func(msg GatewayServerMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}

	sess := registry.Connect(userID.String())
	defer registry.Disconnect(sess.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reader setup: heartbeats (messages or pongs) refresh the session TTL.
	conn.SetReadLimit(64 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_ = registry.Heartbeat(sess.ID)
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// On disconnect the deferred Disconnect ends the session.
			return
		}

		var msg GatewayClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "heartbeat":
			_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
			if err := registry.Heartbeat(sess.ID); err != nil {
				// Session already expired; the client must reconnect.
				_ = send(GatewayServerMessage{Type: "error", Error: "session expired, reconnect"})
				return
			}
		case "subscribe":
			sub := dispatcher.Subscribe(sess.ID, userID.String(), msg.Cursor)
			go pumpSubscription(sub, send)
		case "post":
			postID, seq, err := appendPostCreated(ctx, userID, msg.Text)
			if err != nil {
				_ = send(gatewayAppendError(err))
				continue
			}
			_ = send(GatewayServerMessage{Type: "ack", Seq: seq, PostID: postID})
		case "like":
			seq, err := appendLikeToggled(ctx, userID, msg.PostID)
			if err != nil {
				_ = send(gatewayAppendError(err))
				continue
			}
			_ = send(GatewayServerMessage{Type: "ack", Seq: seq, PostID: msg.PostID})
		case "reply":
			replyID, seq, err := appendReplyAdded(ctx, userID, msg.PostID, msg.Text)
			if err != nil {
				_ = send(gatewayAppendError(err))
				continue
			}
			_ = send(GatewayServerMessage{Type: "ack", Seq: seq, PostID: msg.PostID, ReplyID: replyID})
		default:
			// Ignore unknown types
		}
	}
}

// pumpSubscription forwards feed events and presence transitions to the
// client until the subscription ends. An overflow is surfaced explicitly so
// the client knows to resubscribe with a cursor.
func pumpSubscription(sub *realtime.Subscription, send func(GatewayServerMessage) error) {
	for p := range sub.C() {
		var msg GatewayServerMessage
		switch {
		case p.Event != nil:
			msg = GatewayServerMessage{Type: "event", Event: p.Event, Seq: p.Event.Seq}
		case p.Presence != nil:
			msg = GatewayServerMessage{Type: "presence", Presence: p.Presence}
		default:
			continue
		}
		if err := send(msg); err != nil {
			sub.Close()
			return
		}
	}

	if sub.State() == realtime.StateOverflowed {
		_ = send(GatewayServerMessage{Type: "overflowed", Error: "delivery queue overflowed, resubscribe with cursor"})
	}
}

func gatewayAppendError(err error) GatewayServerMessage {
	var vErr *eventlog.ValidationError
	if errors.As(err, &vErr) {
		return GatewayServerMessage{Type: "error", Error: vErr.Error()}
	}
	if errors.Is(err, errPostNotFound) {
		return GatewayServerMessage{Type: "error", Error: "post not found"}
	}
	return GatewayServerMessage{Type: "error", Error: "failed to record event"}
}
