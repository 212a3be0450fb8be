package models

import (
	"crypto/rand"
	"strings"
	"time"
)

const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
	StatusExpired   = "expired"
)

const licenseKeyPrefix = "A4EU"

type License struct {
	ID                   string     `json:"id" db:"id"`
	Key                  string     `json:"license_key" db:"license_key"`
	UserID               string     `json:"user_id" db:"user_id"`
	ProductID            string     `json:"product_id" db:"product_id"`
	TransactionID        string     `json:"transaction_id" db:"transaction_id"`
	Status               string     `json:"status" db:"status"`
	Plan                 string     `json:"plan" db:"plan"`
	StripeSubscriptionID string     `json:"-" db:"stripe_subscription_id"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// LicenseWithProduct is a license joined with the product it unlocks.
type LicenseWithProduct struct {
	License
	Product Product `json:"product" db:"product"`
}

// IsUsable reports whether the license currently grants access.
func (l *License) IsUsable(now time.Time) bool {
	if l.Status != StatusActive {
		return false
	}
	return l.ExpiresAt == nil || now.Before(*l.ExpiresAt)
}

// Crockford base32.
const keyAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// GenerateLicenseKey returns a key of the form A4EU-XXXX-XXXX-XXXX-XXXX.
func GenerateLicenseKey() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("license key entropy unavailable: " + err.Error())
	}

	var b strings.Builder
	b.WriteString(licenseKeyPrefix)
	for i, c := range buf {
		if i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(keyAlphabet[int(c)%len(keyAlphabet)])
	}
	return b.String()
}
