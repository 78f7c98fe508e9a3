package services

import (
	"context"
	"database/sql"
	"log"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/liggeey/backend/internal/config"
	"github.com/liggeey/backend/internal/metrics"
	"github.com/liggeey/backend/internal/models"
)

// PostService owns service-request records and is the source of truth for
// availability. Status transitions themselves belong to MissionService.
type PostService struct {
	db        *sql.DB
	config    *config.MarketplaceConfig
	tracking  *TrackingService
	notifier  NotificationSink
	validator *ValidationHelper
}

func NewPostService(db *sql.DB, cfg *config.MarketplaceConfig, tracking *TrackingService, notifier NotificationSink) *PostService {
	return &PostService{
		db:        db,
		config:    cfg,
		tracking:  tracking,
		notifier:  notifier,
		validator: NewValidationHelper(),
	}
}

// CreatePostInput carries the client-supplied fields of a new post.
// Latitude and longitude are pointers so that absent coordinates are
// distinguishable from zero values: posts without exact coordinates must
// never be creatable.
type CreatePostInput struct {
	Title       string   `json:"title" validate:"required,max=120"`
	Category    string   `json:"category" validate:"required,max=60"`
	Description string   `json:"description" validate:"max=2000"`
	Budget      *int64   `json:"budget" validate:"omitempty,gt=0"`
	Phone       string   `json:"phone" validate:"required,e164"`
	Latitude    *float64 `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude   *float64 `json:"longitude" validate:"required,min=-180,max=180"`
}

// CreatePost inserts a new available post owned by the caller.
func (s *PostService) CreatePost(ctx context.Context, ownerID string, input CreatePostInput) (*models.Post, error) {
	if input.Latitude == nil || input.Longitude == nil {
		return nil, &ValidationError{Message: "Geolocation is required to create a post"}
	}

	post := &models.Post{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Title:       input.Title,
		Category:    input.Category,
		Description: input.Description,
		Budget:      input.Budget,
		Phone:       input.Phone,
		Latitude:    *input.Latitude,
		Longitude:   *input.Longitude,
		Status:      models.PostStatusAvailable,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, owner_id, title, category, description, budget, phone, latitude, longitude, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		post.ID, post.OwnerID, post.Title, post.Category, post.Description, post.Budget,
		post.Phone, post.Latitude, post.Longitude, post.Status, post.CreatedAt, post.UpdatedAt)
	if err != nil {
		return nil, err
	}

	metrics.PostsCreated.Inc()
	return post, nil
}

// GetPost fetches a single post by id.
func (s *PostService) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	var post models.Post
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, category, description, budget, phone, latitude, longitude, status, accepted_by, created_at, updated_at
		FROM posts
		WHERE id = $1`, postID).Scan(
		&post.ID, &post.OwnerID, &post.Title, &post.Category, &post.Description, &post.Budget,
		&post.Phone, &post.Latitude, &post.Longitude, &post.Status, &post.AcceptedBy,
		&post.CreatedAt, &post.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "post", ID: postID}
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// ListAvailableNear returns available posts within radiusKm of the origin,
// annotated with great-circle distance and sorted closest first. It is a
// pure query and can be re-run freely.
func (s *PostService) ListAvailableNear(ctx context.Context, lat, lng, radiusKm float64) ([]models.NearbyPost, error) {
	if radiusKm <= 0 || radiusKm > s.config.MaxSearchRadiusKm {
		radiusKm = s.config.MaxSearchRadiusKm
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, category, description, budget, phone, latitude, longitude, status, created_at, updated_at
		FROM posts
		WHERE status = $1`, models.PostStatusAvailable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nearby := []models.NearbyPost{}
	for rows.Next() {
		var post models.Post
		if err := rows.Scan(&post.ID, &post.OwnerID, &post.Title, &post.Category, &post.Description,
			&post.Budget, &post.Phone, &post.Latitude, &post.Longitude, &post.Status,
			&post.CreatedAt, &post.UpdatedAt); err != nil {
			return nil, err
		}

		distance := haversineKm(lat, lng, post.Latitude, post.Longitude)
		if distance <= radiusKm {
			nearby = append(nearby, models.NearbyPost{Post: post, DistanceKm: distance})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(nearby, func(i, j int) bool {
		return nearby[i].DistanceKm < nearby[j].DistanceKm
	})
	return nearby, nil
}

// ListMine returns all posts owned by the caller, newest first.
func (s *PostService) ListMine(ctx context.Context, ownerID string) ([]models.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, category, description, budget, phone, latitude, longitude, status, accepted_by, created_at, updated_at
		FROM posts
		WHERE owner_id = $1
		ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		var post models.Post
		if err := rows.Scan(&post.ID, &post.OwnerID, &post.Title, &post.Category, &post.Description,
			&post.Budget, &post.Phone, &post.Latitude, &post.Longitude, &post.Status,
			&post.AcceptedBy, &post.CreatedAt, &post.UpdatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// CancelPost deletes the caller's post. Applications and any tracking
// session row cascade away with it; live subscribers are then told the
// stream is over.
func (s *PostService) CancelPost(ctx context.Context, postID, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var dbOwnerID string
	err = tx.QueryRow(`SELECT owner_id FROM posts WHERE id = $1 FOR UPDATE`, postID).Scan(&dbOwnerID)
	if err == sql.ErrNoRows {
		return &NotFoundError{Resource: "post", ID: postID}
	}
	if err != nil {
		return err
	}

	if dbOwnerID != ownerID {
		return &AuthorizationError{Message: "Only the post owner may cancel it"}
	}

	pendingProviders, err := pendingProviderIDs(tx, postID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM posts WHERE id = $1`, postID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.tracking.Teardown(ctx, postID)

	for _, providerID := range pendingProviders {
		go s.notifier.Notify(context.Background(), providerID, "Annonce annulée",
			"L'annonce à laquelle vous aviez postulé a été annulée", NotifyPostCancelled)
	}

	return nil
}

// UpdatePrice changes the budget of an available post. Taken posts keep
// the budget the mission was approved under.
func (s *PostService) UpdatePrice(ctx context.Context, postID, ownerID string, newPrice int64) error {
	if newPrice <= 0 {
		return &ValidationError{Message: "Price must be positive"}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET budget = $1, updated_at = $2
		WHERE id = $3 AND owner_id = $4 AND status = $5`,
		newPrice, time.Now(), postID, ownerID, models.PostStatusAvailable)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected > 0 {
		return nil
	}

	// No row matched; find out which precondition failed.
	post, err := s.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.OwnerID != ownerID {
		return &AuthorizationError{Message: "Only the post owner may change its price"}
	}
	return &ConflictError{Message: "Price can only be changed while the post is available"}
}

func pendingProviderIDs(tx *sql.Tx, postID string) ([]string, error) {
	rows, err := tx.Query(`SELECT provider_id FROM applications WHERE post_id = $1 AND status = $2`,
		postID, models.ApplicationStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// haversineKm computes the great-circle distance between two coordinates
// in kilometers.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371.0

	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// Create handles POST /posts
// @Summary Create a service post
// @Tags posts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreatePostInput true "Post data"
// @Success 201 {object} models.Post
// @Failure 400 {object} ErrorResponse
// @Router /posts [post]
func (s *PostService) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var input CreatePostInput
	if err := DecodeJSONBody(w, r, &input); err != nil {
		WriteError(w, err)
		return
	}

	if err := s.validator.ValidateStruct(&input); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	post, err := s.CreatePost(r.Context(), userID, input)
	if err != nil {
		log.Printf("[POST] Failed to create post for %s: %v", userID, err)
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusCreated, post)
}

// Nearby handles GET /posts/nearby?lat=&lng=&radius_km=
// @Summary List available posts near a location
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param lat query number true "Latitude"
// @Param lng query number true "Longitude"
// @Param radius_km query number false "Search radius in km"
// @Success 200 {object} object{posts=[]models.NearbyPost,count=int}
// @Router /posts/nearby [get]
func (s *PostService) Nearby(w http.ResponseWriter, r *http.Request) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		SendErrorResponse(w, "lat and lng query parameters are required", http.StatusBadRequest, nil)
		return
	}

	radiusKm, _ := strconv.ParseFloat(r.URL.Query().Get("radius_km"), 64)

	posts, err := s.ListAvailableNear(r.Context(), lat, lng, radiusKm)
	if err != nil {
		log.Printf("[POST] Nearby search failed: %v", err)
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"posts": posts,
		"count": len(posts),
	})
}

// Mine handles GET /posts/mine
func (s *PostService) Mine(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	posts, err := s.ListMine(r.Context(), userID)
	if err != nil {
		log.Printf("[POST] Failed to list posts for %s: %v", userID, err)
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"posts": posts,
		"count": len(posts),
	})
}

// Get handles GET /posts/{postID}
func (s *PostService) Get(w http.ResponseWriter, r *http.Request) {
	post, err := s.GetPost(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, post)
}

// Cancel handles DELETE /posts/{postID}
// @Summary Cancel a post
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param postID path string true "Post ID"
// @Success 200 {object} object{success=bool}
// @Router /posts/{postID} [delete]
func (s *PostService) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	postID := chi.URLParam(r, "postID")
	if err := s.CancelPost(r.Context(), postID, userID); err != nil {
		log.Printf("[POST] Cancel %s by %s failed: %v", postID, userID, err)
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ChangePrice handles PUT /posts/{postID}/price
func (s *PostService) ChangePrice(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Price int64 `json:"price" validate:"required,gt=0"`
	}

	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	postID := chi.URLParam(r, "postID")
	if err := s.UpdatePrice(r.Context(), postID, userID, req.Price); err != nil {
		log.Printf("[POST] Price update on %s by %s failed: %v", postID, userID, err)
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{"success": true})
}
