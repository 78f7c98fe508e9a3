package models

import "time"

const (
	TransactionTypeDeposit    = "deposit"
	TransactionTypeWithdrawal = "withdrawal"
	TransactionTypeCommission = "commission"
	TransactionTypeAdjustment = "adjustment"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusRejected  = "rejected"
)

// Account holds a user's wallet balance in whole FCFA. The balance always
// equals the sum of that owner's completed transaction amounts.
type Account struct {
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable ledger record. Amount is signed: deposits
// are positive, withdrawals and commissions negative. Only completed
// transactions count toward the balance.
type Transaction struct {
	ID            string    `json:"id" db:"id"`
	OwnerID       string    `json:"owner_id" db:"owner_id"`
	Type          string    `json:"type" db:"type"`
	Amount        int64     `json:"amount" db:"amount"`
	Status        string    `json:"status" db:"status"`
	Reason        string    `json:"reason" db:"reason"`
	PayoutMethod  string    `json:"payout_method,omitempty" db:"payout_method"`
	PayoutAddress string    `json:"payout_address,omitempty" db:"payout_address"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// WithdrawalResult is a user-facing business decision, not a system fault.
type WithdrawalResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
}
