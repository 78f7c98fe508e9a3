package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/liggeey/backend/internal/config"
	"github.com/liggeey/backend/internal/metrics"
	"github.com/liggeey/backend/internal/models"
)

// LedgerService owns wallet balances and their immutable transaction
// history. Balance is never written outside Adjust/AdjustTx and withdrawal
// settlement, and a committed operation can never leave it negative.
type LedgerService struct {
	db        *sql.DB
	redis     *redis.Client
	config    *config.MarketplaceConfig
	notifier  NotificationSink
	validator *ValidationHelper
}

func NewLedgerService(db *sql.DB, redisClient *redis.Client, cfg *config.MarketplaceConfig, notifier NotificationSink) *LedgerService {
	return &LedgerService{
		db:        db,
		redis:     redisClient,
		config:    cfg,
		notifier:  notifier,
		validator: NewValidationHelper(),
	}
}

// Adjust atomically applies a signed amount to the owner's balance and
// appends the matching completed transaction. It fails with
// InsufficientBalanceError when the result would be negative.
func (s *LedgerService) Adjust(ctx context.Context, ownerID string, amount int64, reason, txType string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	txID, err := s.AdjustTx(tx, ownerID, amount, reason, txType)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	metrics.LedgerTransactions.WithLabelValues(txType).Inc()
	return txID, nil
}

// AdjustTx is Adjust running inside a caller-owned transaction, so the
// mission coordinator can make the commission debit atomic with the post
// state transition.
func (s *LedgerService) AdjustTx(tx *sql.Tx, ownerID string, amount int64, reason, txType string) (string, error) {
	account, err := s.lockAccount(tx, ownerID)
	if err != nil {
		return "", err
	}

	newBalance := account.Balance + amount
	if newBalance < 0 {
		metrics.InsufficientBalanceRejections.Inc()
		return "", &InsufficientBalanceError{Balance: account.Balance, Required: -amount}
	}

	txID := uuid.NewString()
	if err := s.appendTransaction(tx, txID, ownerID, txType, amount, models.TransactionStatusCompleted, reason, "", ""); err != nil {
		return "", err
	}

	if err := s.updateBalance(tx, ownerID, newBalance, account.Version); err != nil {
		return "", err
	}

	return txID, nil
}

// RequestWithdrawal records a pending payout for manual settlement. It
// returns a business decision rather than an error: providers must retain
// the reserve balance to keep accepting missions.
func (s *LedgerService) RequestWithdrawal(ctx context.Context, ownerID string, amount int64, method, address string) (*models.WithdrawalResult, error) {
	if amount < s.config.MinWithdrawal {
		return &models.WithdrawalResult{
			Success: false,
			Message: fmt.Sprintf("Le montant minimum de retrait est %d FCFA", s.config.MinWithdrawal),
		}, nil
	}
	if amount > s.config.MaxWithdrawal {
		return &models.WithdrawalResult{
			Success: false,
			Message: fmt.Sprintf("Le montant maximum de retrait est %d FCFA", s.config.MaxWithdrawal),
		}, nil
	}

	balance, err := s.Balance(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	if balance-amount < s.config.WithdrawalReserve {
		return &models.WithdrawalResult{
			Success: false,
			Message: fmt.Sprintf("Solde insuffisant: vous devez conserver au moins %d FCFA pour accepter des missions", s.config.WithdrawalReserve),
		}, nil
	}

	txID := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, owner_id, type, amount, status, reason, payout_method, payout_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		txID, ownerID, models.TransactionTypeWithdrawal, -amount, models.TransactionStatusPending,
		"Demande de retrait", method, address, time.Now())
	if err != nil {
		return nil, err
	}

	return &models.WithdrawalResult{
		Success:       true,
		Message:       "Demande de retrait enregistrée",
		TransactionID: txID,
	}, nil
}

// SettleWithdrawal completes or rejects a pending withdrawal. Approval
// debits the balance through the same atomic path as Adjust; the floor is
// re-checked because the balance may have moved since the request.
func (s *LedgerService) SettleWithdrawal(ctx context.Context, txID string, approve bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var ownerID string
	var amount int64
	err = tx.QueryRow(`
		SELECT owner_id, amount FROM transactions
		WHERE id = $1 AND type = $2 AND status = $3
		FOR UPDATE`,
		txID, models.TransactionTypeWithdrawal, models.TransactionStatusPending,
	).Scan(&ownerID, &amount)
	if err == sql.ErrNoRows {
		return &NotFoundError{Resource: "pending withdrawal", ID: txID}
	}
	if err != nil {
		return err
	}

	newStatus := models.TransactionStatusRejected
	if approve {
		account, err := s.lockAccount(tx, ownerID)
		if err != nil {
			return err
		}

		// Same reserve floor as at request time; the balance may have
		// moved since then.
		newBalance := account.Balance + amount // amount is negative
		if newBalance < s.config.WithdrawalReserve {
			metrics.InsufficientBalanceRejections.Inc()
			return &InsufficientBalanceError{
				Balance:  account.Balance,
				Required: -amount + s.config.WithdrawalReserve,
			}
		}

		if err := s.updateBalance(tx, ownerID, newBalance, account.Version); err != nil {
			return err
		}
		newStatus = models.TransactionStatusCompleted
	}

	if _, err := tx.Exec(`UPDATE transactions SET status = $1 WHERE id = $2`, newStatus, txID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if approve {
		metrics.LedgerTransactions.WithLabelValues(models.TransactionTypeWithdrawal).Inc()
	}
	go s.notifier.Notify(context.Background(), ownerID, "Retrait traité",
		fmt.Sprintf("Votre demande de retrait de %d FCFA a été %s", -amount, settleLabel(approve)),
		NotifyWithdrawalSettled)

	return nil
}

func settleLabel(approved bool) string {
	if approved {
		return "approuvée"
	}
	return "rejetée"
}

// SimulateDeposit credits the balance with a completed deposit. It stands
// in for the mobile-money payment gateway webhook (Wave / Orange Money).
func (s *LedgerService) SimulateDeposit(ctx context.Context, ownerID string, amount int64, provider string) (string, error) {
	if amount <= 0 {
		return "", &ValidationError{Message: "Deposit amount must be positive"}
	}
	reason := fmt.Sprintf("Dépôt via %s", provider)
	return s.Adjust(ctx, ownerID, amount, reason, models.TransactionTypeDeposit)
}

// Balance returns the current balance; owners without an account row yet
// have balance zero.
func (s *LedgerService) Balance(ctx context.Context, ownerID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE owner_id = $1`, ownerID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ListTransactions returns the owner's transaction history, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, ownerID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, type, amount, status, reason, payout_method, payout_address, created_at
		FROM transactions
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Type, &t.Amount, &t.Status, &t.Reason,
			&t.PayoutMethod, &t.PayoutAddress, &t.CreatedAt); err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

func (s *LedgerService) lockAccount(tx *sql.Tx, ownerID string) (*models.Account, error) {
	// Lazily create the account row so first-time owners start at zero.
	if _, err := tx.Exec(`
		INSERT INTO accounts (owner_id, balance, version, updated_at)
		VALUES ($1, 0, 1, $2)
		ON CONFLICT (owner_id) DO NOTHING`, ownerID, time.Now()); err != nil {
		return nil, err
	}

	var account models.Account
	err := tx.QueryRow(`
		SELECT owner_id, balance, version, updated_at
		FROM accounts
		WHERE owner_id = $1
		FOR UPDATE`, ownerID).Scan(&account.OwnerID, &account.Balance, &account.Version, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *LedgerService) appendTransaction(tx *sql.Tx, txID, ownerID, txType string, amount int64, status, reason, method, address string) error {
	_, err := tx.Exec(`
		INSERT INTO transactions (id, owner_id, type, amount, status, reason, payout_method, payout_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		txID, ownerID, txType, amount, status, reason, method, address, time.Now())
	return err
}

func (s *LedgerService) updateBalance(tx *sql.Tx, ownerID string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE owner_id = $3 AND version = $4`,
		newBalance, time.Now(), ownerID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", ownerID)
	}

	return nil
}

// GetBalance handles GET /wallet/balance
// @Summary Get wallet balance
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance=int64}
// @Router /wallet/balance [get]
func (s *LedgerService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.Balance(r.Context(), userID)
	if err != nil {
		log.Printf("[LEDGER] Failed to fetch balance for %s: %v", userID, err)
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

// GetTransactions handles GET /wallet/transactions
// @Summary List wallet transactions
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Number of transactions to return (default 50, max 100)"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Router /wallet/transactions [get]
func (s *LedgerService) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}

	transactions, err := s.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		log.Printf("[LEDGER] Failed to fetch transactions for %s: %v", userID, err)
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// Deposit handles POST /wallet/deposits
// @Summary Simulate a mobile-money deposit
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,provider=string} true "Deposit request"
// @Success 201 {object} object{transaction_id=string}
// @Router /wallet/deposits [post]
func (s *LedgerService) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount   int64  `json:"amount" validate:"required,gt=0"`
		Provider string `json:"provider" validate:"required,oneof=wave orange_money"`
	}

	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txID, err := s.SimulateDeposit(r.Context(), userID, req.Amount, req.Provider)
	if err != nil {
		log.Printf("[LEDGER] Deposit failed for %s: %v", userID, err)
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusCreated, map[string]any{
		"success":        true,
		"transaction_id": txID,
	})
}

// Withdraw handles POST /wallet/withdrawals
// @Summary Request a withdrawal
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,payout_method=string,payout_address=string} true "Withdrawal request"
// @Success 200 {object} models.WithdrawalResult
// @Router /wallet/withdrawals [post]
func (s *LedgerService) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount        int64  `json:"amount" validate:"required,gt=0"`
		PayoutMethod  string `json:"payout_method" validate:"required,oneof=wave orange_money"`
		PayoutAddress string `json:"payout_address" validate:"required"`
	}

	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := s.RequestWithdrawal(r.Context(), userID, req.Amount, req.PayoutMethod, req.PayoutAddress)
	if err != nil {
		log.Printf("[LEDGER] Withdrawal request failed for %s: %v", userID, err)
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, result)
}

// Settle handles PUT /wallet/withdrawals/{txID}/settle (admin settlement)
// @Summary Settle a pending withdrawal
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param txID path string true "Withdrawal transaction ID"
// @Param request body object{approve=bool} true "Settlement decision"
// @Success 200 {object} object{success=bool}
// @Failure 403 {object} ErrorResponse
// @Router /wallet/withdrawals/{txID}/settle [put]
func (s *LedgerService) Settle(w http.ResponseWriter, r *http.Request) {
	// Settlement moves other users' money; only back-office tokens may
	// call it. In particular a requester must not approve their own payout.
	role, _ := r.Context().Value("userRole").(string)
	if role != "admin" {
		WriteError(w, &AuthorizationError{Message: "Only administrators may settle withdrawals"})
		return
	}

	txID := chi.URLParam(r, "txID")

	var req struct {
		Approve bool `json:"approve"`
	}

	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	if err := s.SettleWithdrawal(r.Context(), txID, req.Approve); err != nil {
		log.Printf("[LEDGER] Settlement of %s failed: %v", txID, err)
		WriteError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{"success": true})
}
