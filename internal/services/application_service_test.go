package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/liggeey/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestApplicationService_Apply(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewApplicationService(db, &recordingSink{})

	appColumns := []string{"id", "post_id", "provider_id", "status", "submitted_at"}

	expectApplyInsert := func(postID, providerID string, inserted int64) {
		mock.ExpectExec("INSERT INTO applications").
			WithArgs(sqlmock.AnyArg(), postID, providerID, models.ApplicationStatusPending,
				sqlmock.AnyArg(), models.PostStatusAvailable).
			WillReturnResult(sqlmock.NewResult(0, inserted))
	}

	t.Run("first application is created pending", func(t *testing.T) {
		expectApplyInsert("post1", "provider-a", 1)
		mock.ExpectQuery("SELECT id, post_id, provider_id, status, submitted_at FROM applications WHERE post_id = \\$1 AND provider_id = \\$2").
			WithArgs("post1", "provider-a").
			WillReturnRows(sqlmock.NewRows(appColumns).
				AddRow("app-a", "post1", "provider-a", models.ApplicationStatusPending, time.Now()))

		app, err := service.Apply(context.Background(), "post1", "provider-a")
		assert.NoError(t, err)
		assert.Equal(t, models.ApplicationStatusPending, app.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeat application returns the existing row", func(t *testing.T) {
		// ON CONFLICT DO NOTHING: zero rows inserted.
		expectApplyInsert("post1", "provider-a", 0)
		mock.ExpectQuery("SELECT id, post_id, provider_id, status, submitted_at FROM applications WHERE post_id = \\$1 AND provider_id = \\$2").
			WithArgs("post1", "provider-a").
			WillReturnRows(sqlmock.NewRows(appColumns).
				AddRow("app-a", "post1", "provider-a", models.ApplicationStatusPending, time.Now()))

		app, err := service.Apply(context.Background(), "post1", "provider-a")
		assert.NoError(t, err)
		assert.Equal(t, "app-a", app.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("taken post refuses applications", func(t *testing.T) {
		expectApplyInsert("post1", "provider-a", 0)
		mock.ExpectQuery("SELECT id, post_id, provider_id, status, submitted_at FROM applications WHERE post_id = \\$1 AND provider_id = \\$2").
			WithArgs("post1", "provider-a").
			WillReturnRows(sqlmock.NewRows(appColumns))
		mock.ExpectQuery("SELECT owner_id, status FROM posts WHERE id = \\$1").
			WithArgs("post1").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id", "status"}).
				AddRow("client1", models.PostStatusTaken))

		_, err := service.Apply(context.Background(), "post1", "provider-a")
		var conflictErr *ConflictError
		assert.ErrorAs(t, err, &conflictErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("owner cannot apply to own post", func(t *testing.T) {
		expectApplyInsert("post1", "client1", 0)
		mock.ExpectQuery("SELECT id, post_id, provider_id, status, submitted_at FROM applications WHERE post_id = \\$1 AND provider_id = \\$2").
			WithArgs("post1", "client1").
			WillReturnRows(sqlmock.NewRows(appColumns))
		mock.ExpectQuery("SELECT owner_id, status FROM posts WHERE id = \\$1").
			WithArgs("post1").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id", "status"}).
				AddRow("client1", models.PostStatusAvailable))

		_, err := service.Apply(context.Background(), "post1", "client1")
		var conflictErr *ConflictError
		assert.ErrorAs(t, err, &conflictErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("post cancelled concurrently maps to not found", func(t *testing.T) {
		// The post row vanishes between the conditional insert (zero rows,
		// no FK violation) and the classification read.
		expectApplyInsert("ghost", "provider-a", 0)
		mock.ExpectQuery("SELECT id, post_id, provider_id, status, submitted_at FROM applications WHERE post_id = \\$1 AND provider_id = \\$2").
			WithArgs("ghost", "provider-a").
			WillReturnRows(sqlmock.NewRows(appColumns))
		mock.ExpectQuery("SELECT owner_id, status FROM posts WHERE id = \\$1").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id", "status"}))

		_, err := service.Apply(context.Background(), "ghost", "provider-a")
		var notFoundErr *NotFoundError
		assert.ErrorAs(t, err, &notFoundErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestApplicationService_ListCandidates(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewApplicationService(db, &recordingSink{})

	t.Run("only the owner may review", func(t *testing.T) {
		mock.ExpectQuery("SELECT owner_id FROM posts WHERE id = \\$1").
			WithArgs("post1").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("client1"))

		_, err := service.ListCandidates(context.Background(), "post1", "intruder")
		var authErr *AuthorizationError
		assert.ErrorAs(t, err, &authErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pending candidates joined with profiles", func(t *testing.T) {
		mock.ExpectQuery("SELECT owner_id FROM posts WHERE id = \\$1").
			WithArgs("post1").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("client1"))
		mock.ExpectQuery("SELECT (.+) FROM applications a JOIN users u").
			WithArgs("post1", models.ApplicationStatusPending).
			WillReturnRows(sqlmock.NewRows([]string{"id", "post_id", "provider_id", "status", "submitted_at",
				"full_name", "phone", "profession"}).
				AddRow("app-a", "post1", "provider-a", models.ApplicationStatusPending, time.Now(),
					"Moussa Ndiaye", "+221770000010", "plombier"))

		candidates, err := service.ListCandidates(context.Background(), "post1", "client1")
		assert.NoError(t, err)
		assert.Len(t, candidates, 1)
		assert.Equal(t, "Moussa Ndiaye", candidates[0].ProviderName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestApplicationService_Reject(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	sink := &recordingSink{}
	service := NewApplicationService(db, sink)

	t.Run("pending application is rejected", func(t *testing.T) {
		mock.ExpectQuery("SELECT owner_id FROM posts WHERE id = \\$1").
			WithArgs("post1").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("client1"))
		mock.ExpectQuery("UPDATE applications SET status = \\$1 WHERE id = \\$2 AND post_id = \\$3 AND status = \\$4 RETURNING provider_id").
			WithArgs(models.ApplicationStatusRejected, "app-a", "post1", models.ApplicationStatusPending).
			WillReturnRows(sqlmock.NewRows([]string{"provider_id"}).AddRow("provider-a"))

		err := service.Reject(context.Background(), "post1", "client1", "app-a")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already decided application", func(t *testing.T) {
		mock.ExpectQuery("SELECT owner_id FROM posts WHERE id = \\$1").
			WithArgs("post1").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("client1"))
		mock.ExpectQuery("UPDATE applications SET status = \\$1 WHERE id = \\$2 AND post_id = \\$3 AND status = \\$4 RETURNING provider_id").
			WithArgs(models.ApplicationStatusRejected, "app-a", "post1", models.ApplicationStatusPending).
			WillReturnRows(sqlmock.NewRows([]string{"provider_id"}))

		err := service.Reject(context.Background(), "post1", "client1", "app-a")
		var notFoundErr *NotFoundError
		assert.ErrorAs(t, err, &notFoundErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
