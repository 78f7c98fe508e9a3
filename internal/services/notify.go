package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// Notification kinds pushed on mission state transitions.
const (
	NotifyMissionApproved     = "mission_approved"
	NotifyApplicationRejected = "application_rejected"
	NotifyMissionCompleted    = "mission_completed"
	NotifyMissionReopened     = "mission_reopened"
	NotifyPostCancelled       = "post_cancelled"
	NotifyWithdrawalSettled   = "withdrawal_settled"
)

// NotificationSink receives fire-and-forget state-transition messages for
// the external notification dispatcher. Delivery failures are logged and
// never propagate; they must not roll back a committed transition.
type NotificationSink interface {
	Notify(ctx context.Context, userID, title, message, kind string)
}

const notificationQueue = "notifications:queue"

type redisNotificationSink struct {
	redis *redis.Client
}

type logNotificationSink struct{}

// NewNotificationSink returns a Redis-queue-backed sink when Redis is
// available, otherwise a log-only sink.
func NewNotificationSink(redisClient *redis.Client) NotificationSink {
	if redisClient == nil {
		return &logNotificationSink{}
	}
	return &redisNotificationSink{redis: redisClient}
}

func (s *redisNotificationSink) Notify(ctx context.Context, userID, title, message, kind string) {
	payload, err := json.Marshal(map[string]any{
		"user_id":    userID,
		"title":      title,
		"message":    message,
		"kind":       kind,
		"created_at": time.Now().Unix(),
	})
	if err != nil {
		log.Printf("[NOTIFY] Failed to encode notification for %s: %v", userID, err)
		return
	}

	if err := s.redis.LPush(ctx, notificationQueue, payload).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to queue notification for %s: %v", userID, err)
	}
}

func (s *logNotificationSink) Notify(_ context.Context, userID, title, _, kind string) {
	log.Printf("[NOTIFY] %s -> %s: %s", kind, userID, title)
}
