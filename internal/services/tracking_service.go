package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/liggeey/backend/internal/metrics"
	"github.com/liggeey/backend/internal/models"
)

// LocationSource is an injected capability yielding a provider device's
// position stream. Readings carry their own error so a GPS failure
// (permission denied, timeout, position unavailable) reaches the caller
// as data instead of corrupting the session.
type LocationSource interface {
	Positions(ctx context.Context) (<-chan PositionReading, error)
}

// PositionReading is one sample from a LocationSource.
type PositionReading struct {
	Latitude  float64
	Longitude float64
	Err       error
}

// trackingEvent is the wire format published to subscribers. A "closed"
// event ends every subscription for the post.
type trackingEvent struct {
	Type     string          `json:"type"` // "position" or "closed"
	Position models.Position `json:"position,omitempty"`
}

// TrackingService manages the live location channel bound 1:1 to an
// in-progress mission. The session row in Postgres is the durable state;
// fan-out to observers goes through Redis pub/sub when available and an
// in-process hub otherwise, never both, so a position is delivered once.
type TrackingService struct {
	db    *sql.DB
	redis *redis.Client
	hub   *trackingHub
}

func NewTrackingService(db *sql.DB, redisClient *redis.Client) *TrackingService {
	return &TrackingService{
		db:    db,
		redis: redisClient,
		hub:   newTrackingHub(),
	}
}

// StartSession creates (or re-creates after reconnect) the session for a
// taken post. Only the accepted provider may start it.
func (s *TrackingService) StartSession(ctx context.Context, postID, providerID string, lat, lng float64) error {
	// The WHERE clause on posts makes authorization and liveness part of
	// the same statement: no separate check step, no TOCTOU window.
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tracking_sessions (post_id, provider_id, latitude, longitude, last_updated)
		SELECT p.id, $2, $3, $4, $5
		FROM posts p
		WHERE p.id = $1 AND p.status = $6 AND p.accepted_by = $2
		ON CONFLICT (post_id) DO UPDATE
		SET latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, last_updated = EXCLUDED.last_updated`,
		postID, providerID, lat, lng, time.Now(), models.PostStatusTaken)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return s.classifyWriteRefusal(ctx, postID)
	}

	s.publish(ctx, trackingEvent{Type: "position", Position: models.Position{
		PostID: postID, Latitude: lat, Longitude: lng, UpdatedAt: time.Now(),
	}})
	metrics.TrackingUpdates.Inc()
	return nil
}

// UpdateLocation overwrites the session position, last writer wins. It
// refuses writers other than the accepted provider and fails with
// NotFoundError once the session is stopped.
func (s *TrackingService) UpdateLocation(ctx context.Context, postID, providerID string, lat, lng float64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tracking_sessions ts
		SET latitude = $3, longitude = $4, last_updated = $5
		FROM posts p
		WHERE ts.post_id = $1 AND p.id = ts.post_id AND p.status = $6 AND p.accepted_by = $2`,
		postID, providerID, lat, lng, time.Now(), models.PostStatusTaken)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		if err := s.sessionExists(ctx, postID); err != nil {
			return err
		}
		return &AuthorizationError{Message: "Only the accepted provider may publish locations"}
	}

	s.publish(ctx, trackingEvent{Type: "position", Position: models.Position{
		PostID: postID, Latitude: lat, Longitude: lng, UpdatedAt: time.Now(),
	}})
	metrics.TrackingUpdates.Inc()
	return nil
}

// CurrentPosition returns the last stored position for the post.
func (s *TrackingService) CurrentPosition(ctx context.Context, postID string) (*models.TrackingSession, error) {
	var session models.TrackingSession
	err := s.db.QueryRowContext(ctx, `
		SELECT post_id, provider_id, latitude, longitude, last_updated
		FROM tracking_sessions
		WHERE post_id = $1`, postID).
		Scan(&session.PostID, &session.ProviderID, &session.Latitude, &session.Longitude, &session.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "tracking session", ID: postID}
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// StopSession removes the session row and ends every subscription.
func (s *TrackingService) StopSession(ctx context.Context, postID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tracking_sessions WHERE post_id = $1`, postID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return &NotFoundError{Resource: "tracking session", ID: postID}
	}

	s.Teardown(ctx, postID)
	return nil
}

// Teardown ends subscriptions for a post whose session row is already
// gone (cascade delete on cancel/complete). Safe to call when no session
// ever existed.
func (s *TrackingService) Teardown(ctx context.Context, postID string) {
	s.publish(ctx, trackingEvent{Type: "closed", Position: models.Position{PostID: postID}})
	s.hub.closePost(postID)
}

// Subscribe streams position updates for a post until the session is torn
// down or ctx is cancelled. Any observer may subscribe; a dropped client
// simply subscribes again.
func (s *TrackingService) Subscribe(ctx context.Context, postID string) (<-chan models.Position, error) {
	if s.redis != nil {
		return s.subscribeRedis(ctx, postID)
	}
	return s.hub.subscribe(ctx, postID), nil
}

// RunPublisher pumps a LocationSource into the post's session until the
// source ends, ctx is cancelled, or a write is refused. The first call
// establishes the session.
func (s *TrackingService) RunPublisher(ctx context.Context, postID, providerID string, src LocationSource) error {
	readings, err := src.Positions(ctx)
	if err != nil {
		return err
	}

	started := false
	for reading := range readings {
		if reading.Err != nil {
			// Device-side GPS failure; nothing was written.
			log.Printf("[TRACKING] Position source error on %s: %v", postID, reading.Err)
			return reading.Err
		}

		if !started {
			if err := s.StartSession(ctx, postID, providerID, reading.Latitude, reading.Longitude); err != nil {
				return err
			}
			started = true
			continue
		}

		if err := s.UpdateLocation(ctx, postID, providerID, reading.Latitude, reading.Longitude); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func trackingChannel(postID string) string {
	return fmt.Sprintf("tracking:%s", postID)
}

func (s *TrackingService) publish(ctx context.Context, event trackingEvent) {
	if s.redis != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("[TRACKING] Failed to encode event for %s: %v", event.Position.PostID, err)
			return
		}
		if err := s.redis.Publish(ctx, trackingChannel(event.Position.PostID), payload).Err(); err != nil {
			log.Printf("[TRACKING] Failed to publish on %s: %v", event.Position.PostID, err)
		}
		return
	}

	s.hub.publish(event)
}

func (s *TrackingService) subscribeRedis(ctx context.Context, postID string) (<-chan models.Position, error) {
	pubsub := s.redis.Subscribe(ctx, trackingChannel(postID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan models.Position, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				var event trackingEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("[TRACKING] Malformed event on %s: %v", postID, err)
					continue
				}
				if event.Type == "closed" {
					return
				}
				select {
				case out <- event.Position:
				default: // slow subscriber, drop rather than block the stream
				}
			}
		}
	}()
	return out, nil
}

// classifyWriteRefusal explains a zero-row session insert: either the
// post is gone, or the caller is not the accepted provider of a taken
// post.
func (s *TrackingService) classifyWriteRefusal(ctx context.Context, postID string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, postID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return &NotFoundError{Resource: "post", ID: postID}
	}
	return &AuthorizationError{Message: "Only the accepted provider of a mission in progress may publish locations"}
}

func (s *TrackingService) sessionExists(ctx context.Context, postID string) error {
	var providerID string
	err := s.db.QueryRowContext(ctx, `SELECT provider_id FROM tracking_sessions WHERE post_id = $1`, postID).
		Scan(&providerID)
	if err == sql.ErrNoRows {
		return &NotFoundError{Resource: "tracking session", ID: postID}
	}
	return err
}

// trackingHub is the in-process fallback broadcaster used when Redis is
// unavailable (single-instance deployments, tests).
type trackingHub struct {
	mu   sync.Mutex
	subs map[string]map[chan models.Position]struct{}
}

func newTrackingHub() *trackingHub {
	return &trackingHub{subs: make(map[string]map[chan models.Position]struct{})}
}

func (h *trackingHub) subscribe(ctx context.Context, postID string) <-chan models.Position {
	ch := make(chan models.Position, 16)

	h.mu.Lock()
	if h.subs[postID] == nil {
		h.subs[postID] = make(map[chan models.Position]struct{})
	}
	h.subs[postID][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.unsubscribe(postID, ch)
	}()

	return ch
}

func (h *trackingHub) unsubscribe(postID string, ch chan models.Position) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[postID]; ok {
		if _, subscribed := set[ch]; subscribed {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(h.subs, postID)
		}
	}
}

func (h *trackingHub) publish(event trackingEvent) {
	if event.Type == "closed" {
		h.closePost(event.Position.PostID)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[event.Position.PostID] {
		select {
		case ch <- event.Position:
		default: // slow subscriber, drop rather than block the stream
		}
	}
}

func (h *trackingHub) closePost(postID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[postID] {
		close(ch)
	}
	delete(h.subs, postID)
}
