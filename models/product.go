package models

import (
	"errors"
	"time"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/money"
)

type BillingType string

const (
	BillingLifetime     BillingType = "LIFETIME"
	BillingSubscription BillingType = "SUBSCRIPTION"
)

func (b BillingType) Valid() bool {
	return b == BillingLifetime || b == BillingSubscription
}

type Product struct {
	ID          string        `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	Description string        `json:"description" db:"description"`
	Price       money.Amount  `json:"price" db:"price"`
	Price1m     *money.Amount `json:"price_1m,omitempty" db:"price_1m"`
	Price12m    *money.Amount `json:"price_12m,omitempty" db:"price_12m"`
	Price24m    *money.Amount `json:"price_24m,omitempty" db:"price_24m"`
	BillingType BillingType   `json:"billing_type" db:"billing_type"`
	Category    string        `json:"category" db:"category"`
	ImageURL    string        `json:"image_url" db:"image_url"`
	AppURL      string        `json:"app_url" db:"app_url"`
	// FileKey is the object key of the downloadable package in the bucket.
	FileKey     string        `json:"-" db:"file_key"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

var (
	ErrProductNameRequired = errors.New("product name is required")
	ErrInvalidBillingType  = errors.New("billing type must be LIFETIME or SUBSCRIPTION")
)

func (p *Product) HasTieredPrices() bool {
	return p.Price1m != nil || p.Price12m != nil || p.Price24m != nil
}

func (p *Product) Validate() error {
	if p.Name == "" {
		return ErrProductNameRequired
	}
	if !p.BillingType.Valid() {
		return ErrInvalidBillingType
	}
	return nil
}
