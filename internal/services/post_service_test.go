package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/liggeey/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func floatPtr(f float64) *float64 { return &f }

func int64Ptr(i int64) *int64 { return &i }

func TestPostService_CreatePost(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewPostService(db, testConfig(), NewTrackingService(db, nil), &recordingSink{})

	t.Run("missing geolocation is refused", func(t *testing.T) {
		_, err := service.CreatePost(context.Background(), "client1", CreatePostInput{
			Title:    "Réparation climatiseur",
			Category: "froid",
			Phone:    "+221770000000",
		})
		var validationErr *ValidationError
		assert.ErrorAs(t, err, &validationErr)
		assert.Contains(t, validationErr.Message, "Geolocation")
	})

	t.Run("valid post starts available", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO posts").
			WithArgs(sqlmock.AnyArg(), "client1", "Réparation climatiseur", "froid", "Clim en panne",
				int64(5000), "+221770000000", 14.70, -17.45, models.PostStatusAvailable,
				sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		post, err := service.CreatePost(context.Background(), "client1", CreatePostInput{
			Title:       "Réparation climatiseur",
			Category:    "froid",
			Description: "Clim en panne",
			Budget:      int64Ptr(5000),
			Phone:       "+221770000000",
			Latitude:    floatPtr(14.70),
			Longitude:   floatPtr(-17.45),
		})
		assert.NoError(t, err)
		assert.Equal(t, models.PostStatusAvailable, post.Status)
		assert.Nil(t, post.AcceptedBy)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostService_ListAvailableNear(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewPostService(db, testConfig(), NewTrackingService(db, nil), &recordingSink{})

	columns := []string{"id", "owner_id", "title", "category", "description", "budget", "phone",
		"latitude", "longitude", "status", "created_at", "updated_at"}

	t.Run("sorted closest first within radius", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM posts WHERE status = \\$1").
			WithArgs(models.PostStatusAvailable).
			WillReturnRows(sqlmock.NewRows(columns).
				// Rufisque, ~25 km from central Dakar.
				AddRow("far", "c1", "Peinture", "batiment", "", nil, "+221770000001", 14.7167, -17.2667, models.PostStatusAvailable, now, now).
				// Central Dakar, effectively at the origin.
				AddRow("near", "c2", "Plomberie", "plomberie", "", nil, "+221770000002", 14.71, -17.44, models.PostStatusAvailable, now, now).
				// Saint-Louis, ~180 km away, outside any default radius.
				AddRow("out", "c3", "Jardinage", "jardin", "", nil, "+221770000003", 16.0326, -16.4818, models.PostStatusAvailable, now, now))

		posts, err := service.ListAvailableNear(context.Background(), 14.70, -17.45, 50)
		assert.NoError(t, err)
		assert.Len(t, posts, 2)
		assert.Equal(t, "near", posts[0].ID)
		assert.Equal(t, "far", posts[1].ID)
		assert.Less(t, posts[0].DistanceKm, posts[1].DistanceKm)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostService_CancelPost(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	sink := &recordingSink{}
	service := NewPostService(db, testConfig(), NewTrackingService(db, nil), sink)

	t.Run("owner cancels, applications are voided by cascade", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT owner_id FROM posts WHERE id = \\$1 FOR UPDATE").
			WithArgs("post1").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("client1"))
		mock.ExpectQuery("SELECT provider_id FROM applications WHERE post_id = \\$1 AND status = \\$2").
			WithArgs("post1", models.ApplicationStatusPending).
			WillReturnRows(sqlmock.NewRows([]string{"provider_id"}).AddRow("provider-a").AddRow("provider-b"))
		mock.ExpectExec("DELETE FROM posts WHERE id = \\$1").
			WithArgs("post1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := service.CancelPost(context.Background(), "post1", "client1")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-owner is refused", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT owner_id FROM posts WHERE id = \\$1 FOR UPDATE").
			WithArgs("post1").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("client1"))
		mock.ExpectRollback()

		err := service.CancelPost(context.Background(), "post1", "intruder")
		var authErr *AuthorizationError
		assert.ErrorAs(t, err, &authErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing post", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT owner_id FROM posts WHERE id = \\$1 FOR UPDATE").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}))
		mock.ExpectRollback()

		err := service.CancelPost(context.Background(), "ghost", "client1")
		var notFoundErr *NotFoundError
		assert.ErrorAs(t, err, &notFoundErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostService_UpdatePrice(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewPostService(db, testConfig(), NewTrackingService(db, nil), &recordingSink{})

	t.Run("available post accepts a new price", func(t *testing.T) {
		mock.ExpectExec("UPDATE posts SET budget = \\$1, updated_at = \\$2 WHERE id = \\$3 AND owner_id = \\$4 AND status = \\$5").
			WithArgs(int64(7500), sqlmock.AnyArg(), "post1", "client1", models.PostStatusAvailable).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.UpdatePrice(context.Background(), "post1", "client1", 7500)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("taken post refuses price changes", func(t *testing.T) {
		mock.ExpectExec("UPDATE posts SET budget").
			WithArgs(int64(7500), sqlmock.AnyArg(), "post1", "client1", models.PostStatusAvailable).
			WillReturnResult(sqlmock.NewResult(1, 0))
		mock.ExpectQuery("SELECT (.+) FROM posts WHERE id = \\$1").
			WithArgs("post1").
			WillReturnRows(postRow("post1", "client1", models.PostStatusTaken, "provider-a"))

		err := service.UpdatePrice(context.Background(), "post1", "client1", 7500)
		var conflictErr *ConflictError
		assert.ErrorAs(t, err, &conflictErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func postRow(id, ownerID, status string, acceptedBy any) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "owner_id", "title", "category", "description", "budget",
		"phone", "latitude", "longitude", "status", "accepted_by", "created_at", "updated_at"}).
		AddRow(id, ownerID, "Titre", "divers", "", nil, "+221770000000", 14.70, -17.45, status, acceptedBy, now, now)
}

func TestHaversineKm(t *testing.T) {
	t.Run("zero distance", func(t *testing.T) {
		assert.InDelta(t, 0, haversineKm(14.70, -17.45, 14.70, -17.45), 0.001)
	})

	t.Run("dakar to saint-louis", func(t *testing.T) {
		// Known reference distance, roughly 185 km.
		d := haversineKm(14.7167, -17.4677, 16.0326, -16.4818)
		assert.InDelta(t, 180, d, 10)
	})
}
