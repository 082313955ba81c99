package services

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/happypulse/pulse-backend/internal/database"
	"github.com/happypulse/pulse-backend/internal/projection"
)

const (
	postsCollection         = "posts"
	notificationsCollection = "notifications"
)

// FeedStore persists the event-log projections to MongoDB. It implements
// projection.Sink; all writes are idempotent so log replay converges.
type FeedStore struct{}

// EnsureFeedIndexes configures indexes for the posts and notifications
// collections. Called on startup from main after Mongo has connected.
func EnsureFeedIndexes(ctx context.Context) error {
	posts := database.DB.Collection(postsCollection)
	if _, err := posts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "created_at", Value: -1}},
		Options: options.Index().SetName("idx_posts_created_at"),
	}); err != nil {
		return err
	}

	notifs := database.DB.Collection(notificationsCollection)
	_, err := notifs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "recipient_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("idx_notifications_recipient_created"),
	})
	return err
}

// SavePost upserts the full materialized post. Posts carry no client-mutable
// fields, so replacing the document is safe during replay.
func (s *FeedStore) SavePost(ctx context.Context, post *projection.Post) error {
	col := database.DB.Collection(postsCollection)
	opts := options.Replace().SetUpsert(true)
	if _, err := col.ReplaceOne(ctx, bson.M{"_id": post.ID}, post, opts); err != nil {
		return err
	}

	// Write-through cache: fresh posts go straight to the recent page;
	// like/reply changes just drop it so the next read refills.
	if len(post.Likes) == 0 && len(post.Replies) == 0 {
		PushPostToRecentCache(post)
	} else {
		InvalidateRecentPostsCache()
	}
	return nil
}

// SaveNotification inserts the notification if it does not exist yet.
// $setOnInsert keeps the client-owned read flag intact across replays.
func (s *FeedStore) SaveNotification(ctx context.Context, n *projection.Notification) error {
	col := database.DB.Collection(notificationsCollection)
	opts := options.Update().SetUpsert(true)
	_, err := col.UpdateOne(ctx, bson.M{"_id": n.ID}, bson.M{"$setOnInsert": n}, opts)
	return err
}

// LoadPosts returns paginated feed history, oldest-first within the page.
// Pagination is timestamp-based like the history endpoints elsewhere.
func LoadPosts(ctx context.Context, before *time.Time, limit int64) ([]projection.Post, bool, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	col := database.DB.Collection(postsCollection)

	filter := bson.M{}
	if before != nil {
		filter["created_at"] = bson.M{"$lt": before.UTC()}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit + 1)

	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, false, err
	}
	defer cur.Close(ctx)

	var posts []projection.Post
	for cur.Next(ctx) {
		var p projection.Post
		if err := cur.Decode(&p); err != nil {
			continue
		}
		posts = append(posts, p)
	}
	if err := cur.Err(); err != nil {
		return nil, false, err
	}

	hasMore := int64(len(posts)) > limit
	if hasMore {
		posts = posts[:len(posts)-1]
	}
	return posts, hasMore, nil
}

// LoadNotifications returns a recipient's notifications, newest first.
func LoadNotifications(ctx context.Context, recipientID string, limit int64) ([]projection.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	col := database.DB.Collection(notificationsCollection)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cur, err := col.Find(ctx, bson.M{"recipient_id": recipientID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var notifs []projection.Notification
	for cur.Next(ctx) {
		var n projection.Notification
		if err := cur.Decode(&n); err != nil {
			continue
		}
		notifs = append(notifs, n)
	}
	return notifs, cur.Err()
}

// CountUnreadNotifications returns the recipient's unread count.
func CountUnreadNotifications(ctx context.Context, recipientID string) (int64, error) {
	col := database.DB.Collection(notificationsCollection)
	return col.CountDocuments(ctx, bson.M{"recipient_id": recipientID, "read": false})
}

// MarkNotificationRead acknowledges one notification. The recipient filter
// keeps users from acknowledging someone else's notification.
func MarkNotificationRead(ctx context.Context, recipientID, notificationID string) error {
	col := database.DB.Collection(notificationsCollection)
	_, err := col.UpdateOne(ctx,
		bson.M{"_id": notificationID, "recipient_id": recipientID},
		bson.M{"$set": bson.M{"read": true}},
	)
	return err
}

// MarkAllNotificationsRead acknowledges everything for the recipient.
func MarkAllNotificationsRead(ctx context.Context, recipientID string) error {
	col := database.DB.Collection(notificationsCollection)
	_, err := col.UpdateMany(ctx,
		bson.M{"recipient_id": recipientID, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	return err
}
