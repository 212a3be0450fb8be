package models

import (
	"time"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/money"
)

const TransactionCompleted = "completed"

// Transaction records one completed payment. PaymentIntentID is unique, so a
// replayed webhook cannot record the same payment twice.
type Transaction struct {
	ID              string       `json:"id" db:"id"`
	PaymentIntentID string       `json:"payment_intent_id" db:"payment_intent_id"`
	UserID          string       `json:"user_id" db:"user_id"`
	ProductID       string       `json:"product_id" db:"product_id"`
	Amount          money.Amount `json:"amount" db:"amount"`
	Currency        string       `json:"currency" db:"currency"`
	Status          string       `json:"status" db:"status"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}
