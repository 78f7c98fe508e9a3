package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/liggeey/backend/internal/config"
	"github.com/liggeey/backend/internal/metrics"
	"github.com/liggeey/backend/internal/models"
)

// MissionService is the state machine tying posts, applications and the
// ledger together. It is the only mutator of Post.status and of
// application accept/reject transitions, and every transition is a single
// database transaction: a taken post always has its commission row, and
// exactly one application ever wins a post.
type MissionService struct {
	db        *sql.DB
	ledger    *LedgerService
	tracking  *TrackingService
	config    *config.MarketplaceConfig
	notifier  NotificationSink
	validator *ValidationHelper
}

func NewMissionService(db *sql.DB, ledger *LedgerService, tracking *TrackingService, cfg *config.MarketplaceConfig, notifier NotificationSink) *MissionService {
	return &MissionService{
		db:        db,
		ledger:    ledger,
		tracking:  tracking,
		config:    cfg,
		notifier:  notifier,
		validator: NewValidationHelper(),
	}
}

// ApprovalResult reports a successful approval.
type ApprovalResult struct {
	PostID        string `json:"post_id"`
	ProviderID    string `json:"provider_id"`
	Fee           int64  `json:"fee"`
	TransactionID string `json:"transaction_id"`
}

// Approve selects the winning application for a post: the commission is
// debited from the approved provider's wallet, the chosen application is
// accepted, its siblings are rejected and the post becomes taken — all or
// nothing. The FOR UPDATE read plus the conditional status flip serialize
// concurrent approvals and cancellations on the same post.
func (s *MissionService) Approve(ctx context.Context, postID, ownerID, applicationID string, fee int64) (*ApprovalResult, error) {
	if fee < 0 {
		return nil, &ValidationError{Message: "Fee cannot be negative"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var dbOwnerID, status string
	err = tx.QueryRow(`SELECT owner_id, status FROM posts WHERE id = $1 FOR UPDATE`, postID).
		Scan(&dbOwnerID, &status)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "post", ID: postID}
	}
	if err != nil {
		return nil, err
	}

	if dbOwnerID != ownerID {
		return nil, &AuthorizationError{Message: "Only the post owner may approve a candidate"}
	}
	if status != models.PostStatusAvailable {
		// Already taken (or completed): refuse before any ledger work so a
		// lost race never double-debits.
		return nil, &ConflictError{Message: "Post is no longer available"}
	}

	var providerID, appStatus string
	err = tx.QueryRow(`SELECT provider_id, status FROM applications WHERE id = $1 AND post_id = $2 FOR UPDATE`,
		applicationID, postID).Scan(&providerID, &appStatus)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "application", ID: applicationID}
	}
	if err != nil {
		return nil, err
	}
	if appStatus != models.ApplicationStatusPending {
		return nil, &ConflictError{Message: "Application is no longer pending"}
	}

	// Commission is charged to the provider being approved, not the client.
	txID, err := s.ledger.AdjustTx(tx, providerID, -fee,
		fmt.Sprintf("Commission mission %s", postID), models.TransactionTypeCommission)
	if err != nil {
		return nil, err
	}

	result, err := tx.Exec(`
		UPDATE posts
		SET status = $1, accepted_by = $2, updated_at = $3
		WHERE id = $4 AND status = $5`,
		models.PostStatusTaken, providerID, time.Now(), postID, models.PostStatusAvailable)
	if err != nil {
		return nil, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, &ConflictError{Message: "Post is no longer available"}
	}

	if _, err := tx.Exec(`UPDATE applications SET status = $1 WHERE id = $2`,
		models.ApplicationStatusAccepted, applicationID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`UPDATE applications SET status = $1 WHERE post_id = $2 AND status = $3 AND id != $4`,
		models.ApplicationStatusRejected, postID, models.ApplicationStatusPending, applicationID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	metrics.MissionsApproved.Inc()
	metrics.LedgerTransactions.WithLabelValues(models.TransactionTypeCommission).Inc()

	go s.notifier.Notify(context.Background(), providerID, "Mission attribuée",
		"Votre candidature a été acceptée, la mission peut commencer", NotifyMissionApproved)

	return &ApprovalResult{
		PostID:        postID,
		ProviderID:    providerID,
		Fee:           fee,
		TransactionID: txID,
	}, nil
}

// Complete finalizes a taken mission: the rating is recorded against the
// accepted provider, the tracking session ends, and the post either gets
// the terminal completed status or is deleted, per configuration. A
// second call finds no taken post and fails with NotFoundError.
func (s *MissionService) Complete(ctx context.Context, postID, ownerID string, score int, comment string) error {
	if score < 1 || score > 5 {
		return &ValidationError{Message: "Rating score must be between 1 and 5"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var dbOwnerID, status string
	var acceptedBy sql.NullString
	err = tx.QueryRow(`SELECT owner_id, status, accepted_by FROM posts WHERE id = $1 FOR UPDATE`, postID).
		Scan(&dbOwnerID, &status, &acceptedBy)
	if err == sql.ErrNoRows {
		return &NotFoundError{Resource: "post", ID: postID}
	}
	if err != nil {
		return err
	}

	if dbOwnerID != ownerID {
		return &AuthorizationError{Message: "Only the post owner may confirm completion"}
	}
	if status != models.PostStatusTaken || !acceptedBy.Valid {
		return &ConflictError{Message: "Post has no mission in progress"}
	}

	if _, err := tx.Exec(`
		INSERT INTO ratings (id, target_id, created_by, score, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), acceptedBy.String, ownerID, score, comment, time.Now()); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM tracking_sessions WHERE post_id = $1`, postID); err != nil {
		return err
	}

	if s.config.RetainCompletedPosts {
		if _, err := tx.Exec(`UPDATE posts SET status = $1, updated_at = $2 WHERE id = $3`,
			models.PostStatusCompleted, time.Now(), postID); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(`DELETE FROM posts WHERE id = $1`, postID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.tracking.Teardown(ctx, postID)
	metrics.MissionsCompleted.Inc()

	go s.notifier.Notify(context.Background(), acceptedBy.String, "Mission terminée",
		fmt.Sprintf("Le client a confirmé la mission et vous a noté %d/5", score), NotifyMissionCompleted)

	return nil
}

// Reopen returns a taken post to the pool after a dispute. Either party
// of the mission may trigger it; the commission is not refunded.
func (s *MissionService) Reopen(ctx context.Context, postID, actorID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var ownerID, status string
	var acceptedBy sql.NullString
	err = tx.QueryRow(`SELECT owner_id, status, accepted_by FROM posts WHERE id = $1 FOR UPDATE`, postID).
		Scan(&ownerID, &status, &acceptedBy)
	if err == sql.ErrNoRows {
		return &NotFoundError{Resource: "post", ID: postID}
	}
	if err != nil {
		return err
	}

	if status != models.PostStatusTaken || !acceptedBy.Valid {
		return &ConflictError{Message: "Post has no mission in progress"}
	}
	if actorID != ownerID && actorID != acceptedBy.String {
		return &AuthorizationError{Message: "Only a party of the mission may reopen it"}
	}

	if _, err := tx.Exec(`UPDATE posts SET status = $1, accepted_by = NULL, updated_at = $2 WHERE id = $3`,
		models.PostStatusAvailable, time.Now(), postID); err != nil {
		return err
	}

	if _, err := tx.Exec(`UPDATE applications SET status = $1 WHERE post_id = $2 AND status = $3`,
		models.ApplicationStatusRejected, postID, models.ApplicationStatusAccepted); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM tracking_sessions WHERE post_id = $1`, postID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.tracking.Teardown(ctx, postID)

	go s.notifier.Notify(context.Background(), ownerID, "Mission rouverte",
		"L'annonce est de nouveau visible par les prestataires", NotifyMissionReopened)
	if acceptedBy.String != actorID {
		go s.notifier.Notify(context.Background(), acceptedBy.String, "Mission rouverte",
			"La mission vous a été retirée suite à un litige", NotifyMissionReopened)
	}

	return nil
}

// ApproveCandidate handles POST /posts/{postID}/approve
// @Summary Approve a candidate for a post
// @Tags missions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param postID path string true "Post ID"
// @Param request body object{application_id=string,fee=int64} true "Approval request"
// @Success 200 {object} ApprovalResult
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /posts/{postID}/approve [post]
func (s *MissionService) ApproveCandidate(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		ApplicationID string `json:"application_id" validate:"required,uuid4"`
		Fee           int64  `json:"fee" validate:"required,gt=0"`
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
	result, err := s.Approve(r.Context(), postID, userID, req.ApplicationID, req.Fee)
	if err != nil {
		log.Printf("[MISSION] Approve on %s by %s failed: %v", postID, userID, err)
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, result)
}

// CompleteMission handles POST /posts/{postID}/complete
// @Summary Confirm mission completion and rate the provider
// @Tags missions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param postID path string true "Post ID"
// @Param request body object{score=int,comment=string} true "Rating"
// @Success 200 {object} object{success=bool}
// @Failure 404 {object} ErrorResponse
// @Router /posts/{postID}/complete [post]
func (s *MissionService) CompleteMission(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Score   int    `json:"score" validate:"required,min=1,max=5"`
		Comment string `json:"comment" validate:"max=500"`
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
	if err := s.Complete(r.Context(), postID, userID, req.Score, req.Comment); err != nil {
		log.Printf("[MISSION] Complete on %s by %s failed: %v", postID, userID, err)
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ReopenMission handles POST /posts/{postID}/reopen
func (s *MissionService) ReopenMission(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	postID := chi.URLParam(r, "postID")
	if err := s.Reopen(r.Context(), postID, userID); err != nil {
		log.Printf("[MISSION] Reopen on %s by %s failed: %v", postID, userID, err)
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{"success": true})
}
