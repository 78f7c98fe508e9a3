package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// DepositQR is the short-lived payload a mobile-money app scans to
// confirm a wallet top-up.
type DepositQR struct {
	OwnerID   string `json:"owner_id"`
	Amount    int64  `json:"amount"`
	Provider  string `json:"provider"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// GenerateDepositQR builds a deposit code and its QR image. The code is
// cached in Redis with a TTL and consumed exactly once.
func (s *LedgerService) GenerateDepositQR(ctx context.Context, ownerID string, amount int64, provider string) (string, string, error) {
	if s.redis == nil {
		return "", "", fmt.Errorf("deposit QR codes unavailable: redis is down")
	}
	if amount <= 0 {
		return "", "", &ValidationError{Message: "Deposit amount must be positive"}
	}

	payload := DepositQR{
		OwnerID:   ownerID,
		Amount:    amount,
		Provider:  provider,
		Timestamp: time.Now().Unix(),
		Nonce:     generateNonce(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("deposit_qr:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, s.config.DepositQRTimeout).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return code, qrImage, nil
}

// ConsumeDepositQR validates and consumes a scanned deposit code, then
// credits the wallet through the normal deposit path.
func (s *LedgerService) ConsumeDepositQR(ctx context.Context, code string) (string, error) {
	if s.redis == nil {
		return "", fmt.Errorf("deposit QR codes unavailable: redis is down")
	}

	key := fmt.Sprintf("deposit_qr:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return "", &NotFoundError{Resource: "deposit code", ID: code}
	}
	if err != nil {
		return "", err
	}

	var payload DepositQR
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", err
	}

	// DEL is the consumption point: it removes the key for exactly one
	// caller, so concurrent confirms of the same code credit once.
	deleted, err := s.redis.Del(ctx, key).Result()
	if err != nil {
		return "", err
	}
	if deleted == 0 {
		return "", &NotFoundError{Resource: "deposit code", ID: code}
	}

	return s.SimulateDeposit(ctx, payload.OwnerID, payload.Amount, payload.Provider)
}

func generateNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err) // the system randomness source is gone
	}
	return base64.URLEncoding.EncodeToString(b)
}
