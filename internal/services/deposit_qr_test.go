package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/liggeey/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestLedgerService_GenerateDepositQR(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewLedgerService(db, redisClient, testConfig(), &recordingSink{})

	t.Run("caches the code with a TTL and returns a PNG", func(t *testing.T) {
		redisMock.Regexp().ExpectSet(`deposit_qr:.+`, `.+`, 5*time.Minute).SetVal("OK")

		code, qrImage, err := service.GenerateDepositQR(context.Background(), "owner1", 5000, "wave")
		assert.NoError(t, err)
		assert.NotEmpty(t, qrImage)

		// The code round-trips to the payload the mobile-money app signs off on.
		raw, err := base64.URLEncoding.DecodeString(code)
		assert.NoError(t, err)
		var payload DepositQR
		assert.NoError(t, json.Unmarshal(raw, &payload))
		assert.Equal(t, "owner1", payload.OwnerID)
		assert.Equal(t, int64(5000), payload.Amount)
		assert.Equal(t, "wave", payload.Provider)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, _, err := service.GenerateDepositQR(context.Background(), "owner1", 0, "wave")
		var validationErr *ValidationError
		assert.ErrorAs(t, err, &validationErr)
	})
}

func TestLedgerService_ConsumeDepositQR(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewLedgerService(db, redisClient, testConfig(), &recordingSink{})

	payload := DepositQR{
		OwnerID:   "owner1",
		Amount:    5000,
		Provider:  "wave",
		Timestamp: time.Now().Unix(),
		Nonce:     "fixed-nonce",
	}
	jsonData, err := json.Marshal(payload)
	assert.NoError(t, err)
	code := base64.URLEncoding.EncodeToString(jsonData)
	key := "deposit_qr:" + code

	t.Run("valid code credits the wallet once", func(t *testing.T) {
		redisMock.ExpectGet(key).SetVal(string(jsonData))
		redisMock.ExpectDel(key).SetVal(1)

		mock.ExpectBegin()
		expectAccountLock(mock, "owner1", 0, 1)
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), "owner1", models.TransactionTypeDeposit, int64(5000),
				models.TransactionStatusCompleted, "Dépôt via wave", "", "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts SET balance").
			WithArgs(int64(5000), sqlmock.AnyArg(), "owner1", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		txID, err := service.ConsumeDepositQR(context.Background(), code)
		assert.NoError(t, err)
		assert.NotEmpty(t, txID)
		assert.NoError(t, redisMock.ExpectationsWereMet())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired or unknown code", func(t *testing.T) {
		redisMock.ExpectGet(key).RedisNil()

		_, err := service.ConsumeDepositQR(context.Background(), code)
		var notFoundErr *NotFoundError
		assert.ErrorAs(t, err, &notFoundErr)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("code consumed concurrently credits only once", func(t *testing.T) {
		// The loser of the DEL race reads the payload but removes no key;
		// it must not reach the ledger. ExpectationsWereMet on the SQL
		// mock proves no second deposit was written.
		redisMock.ExpectGet(key).SetVal(string(jsonData))
		redisMock.ExpectDel(key).SetVal(0)

		_, err := service.ConsumeDepositQR(context.Background(), code)
		var notFoundErr *NotFoundError
		assert.ErrorAs(t, err, &notFoundErr)
		assert.NoError(t, redisMock.ExpectationsWereMet())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
