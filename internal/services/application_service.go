package services

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/liggeey/backend/internal/models"
)

// ApplicationService owns candidate applications per post. Accepting an
// application is MissionService's job; this registry only creates, lists
// and rejects candidates.
type ApplicationService struct {
	db       *sql.DB
	notifier NotificationSink
}

func NewApplicationService(db *sql.DB, notifier NotificationSink) *ApplicationService {
	return &ApplicationService{
		db:       db,
		notifier: notifier,
	}
}

// Apply records a provider's bid on an available post. It is idempotent
// per (post, provider): a repeat call returns the existing application
// instead of creating a duplicate.
func (s *ApplicationService) Apply(ctx context.Context, postID, providerID string) (*models.Application, error) {
	// The SELECT on posts makes availability and not-own-post part of the
	// insert itself: a concurrent cancel or approve simply inserts zero
	// rows, never a FK violation. ON CONFLICT DO NOTHING keeps the call
	// idempotent under concurrent duplicate submissions.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO applications (id, post_id, provider_id, status, submitted_at)
		SELECT $1, p.id, $3, $4, $5
		FROM posts p
		WHERE p.id = $2 AND p.status = $6 AND p.owner_id != $3
		ON CONFLICT (post_id, provider_id) DO NOTHING`,
		uuid.NewString(), postID, providerID, models.ApplicationStatusPending, time.Now(),
		models.PostStatusAvailable)
	if err != nil {
		return nil, err
	}

	var app models.Application
	err = s.db.QueryRowContext(ctx, `
		SELECT id, post_id, provider_id, status, submitted_at
		FROM applications
		WHERE post_id = $1 AND provider_id = $2`, postID, providerID).
		Scan(&app.ID, &app.PostID, &app.ProviderID, &app.Status, &app.SubmittedAt)
	if err == sql.ErrNoRows {
		return nil, s.classifyApplyRefusal(ctx, postID, providerID)
	}
	if err != nil {
		return nil, err
	}

	if app.Status == models.ApplicationStatusRejected {
		return nil, &ConflictError{Message: "Your application to this post was rejected"}
	}
	return &app, nil
}

// classifyApplyRefusal explains why the conditional insert wrote nothing
// and no prior application exists. Diagnostic only: the guard itself is
// the insert's WHERE clause.
func (s *ApplicationService) classifyApplyRefusal(ctx context.Context, postID, providerID string) error {
	var ownerID, status string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id, status FROM posts WHERE id = $1`, postID).
		Scan(&ownerID, &status)
	if err == sql.ErrNoRows {
		return &NotFoundError{Resource: "post", ID: postID}
	}
	if err != nil {
		return err
	}
	if ownerID == providerID {
		return &ConflictError{Message: "You cannot apply to your own post"}
	}
	return &ConflictError{Message: "Post is no longer available"}
}

// ListCandidates returns the pending applications on the caller's post,
// each joined with the provider's public profile.
func (s *ApplicationService) ListCandidates(ctx context.Context, postID, ownerID string) ([]models.Candidate, error) {
	var dbOwnerID string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM posts WHERE id = $1`, postID).Scan(&dbOwnerID)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "post", ID: postID}
	}
	if err != nil {
		return nil, err
	}
	if dbOwnerID != ownerID {
		return nil, &AuthorizationError{Message: "Only the post owner may review candidates"}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.post_id, a.provider_id, a.status, a.submitted_at, u.full_name, u.phone, u.profession
		FROM applications a
		JOIN users u ON u.id = a.provider_id
		WHERE a.post_id = $1 AND a.status = $2
		ORDER BY a.submitted_at`, postID, models.ApplicationStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := []models.Candidate{}
	for rows.Next() {
		var c models.Candidate
		if err := rows.Scan(&c.ID, &c.PostID, &c.ProviderID, &c.Status, &c.SubmittedAt,
			&c.ProviderName, &c.ProviderPhone, &c.ProviderProfession); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// Reject marks a pending application rejected. No balances move.
func (s *ApplicationService) Reject(ctx context.Context, postID, ownerID, applicationID string) error {
	var dbOwnerID string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM posts WHERE id = $1`, postID).Scan(&dbOwnerID)
	if err == sql.ErrNoRows {
		return &NotFoundError{Resource: "post", ID: postID}
	}
	if err != nil {
		return err
	}
	if dbOwnerID != ownerID {
		return &AuthorizationError{Message: "Only the post owner may reject candidates"}
	}

	var providerID string
	err = s.db.QueryRowContext(ctx, `
		UPDATE applications
		SET status = $1
		WHERE id = $2 AND post_id = $3 AND status = $4
		RETURNING provider_id`,
		models.ApplicationStatusRejected, applicationID, postID, models.ApplicationStatusPending).
		Scan(&providerID)
	if err == sql.ErrNoRows {
		return &NotFoundError{Resource: "pending application", ID: applicationID}
	}
	if err != nil {
		return err
	}

	go s.notifier.Notify(context.Background(), providerID, "Candidature refusée",
		"Votre candidature n'a pas été retenue", NotifyApplicationRejected)
	return nil
}

// Create handles POST /posts/{postID}/applications
// @Summary Apply to a post
// @Tags applications
// @Produce json
// @Security BearerAuth
// @Param postID path string true "Post ID"
// @Success 201 {object} models.Application
// @Failure 409 {object} ErrorResponse
// @Router /posts/{postID}/applications [post]
func (s *ApplicationService) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	postID := chi.URLParam(r, "postID")
	app, err := s.Apply(r.Context(), postID, userID)
	if err != nil {
		log.Printf("[APPLICATION] Apply to %s by %s failed: %v", postID, userID, err)
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusCreated, app)
}

// List handles GET /posts/{postID}/applications
func (s *ApplicationService) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	postID := chi.URLParam(r, "postID")
	candidates, err := s.ListCandidates(r.Context(), postID, userID)
	if err != nil {
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"candidates": candidates,
		"count":      len(candidates),
	})
}

// RejectCandidate handles PUT /posts/{postID}/applications/{applicationID}/reject
func (s *ApplicationService) RejectCandidate(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	postID := chi.URLParam(r, "postID")
	applicationID := chi.URLParam(r, "applicationID")
	if err := s.Reject(r.Context(), postID, userID, applicationID); err != nil {
		log.Printf("[APPLICATION] Reject %s on %s failed: %v", applicationID, postID, err)
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{"success": true})
}
