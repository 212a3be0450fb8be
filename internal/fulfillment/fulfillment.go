// Package fulfillment turns completed payments into transactions and
// licenses and keeps subscription licenses in step with billing.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/billing"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/email"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/logger"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/metrics"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/money"
	"github.com/NMMonteiro/apps4eu-marketplace/models"
	"github.com/NMMonteiro/apps4eu-marketplace/storage"
)

var (
	ErrMissingMetadata = errors.New("fulfillment: session metadata lacks buyer or product")
	ErrProductNotFound = errors.New("fulfillment: product not found")
)

const emailTimeout = 10 * time.Second

type Store interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	RecordPurchase(ctx context.Context, txn *models.Transaction, license *models.License) (bool, error)
	UpdateSubscriptionLicenses(ctx context.Context, subscriptionID, status string, expiresAt *time.Time) (int64, error)
}

type Result struct {
	Transaction *models.Transaction
	License     *models.License
	// Duplicate is set when the payment was already fulfilled.
	Duplicate bool
}

type Service struct {
	store   Store
	mailer  email.Sender
	metrics *metrics.Metrics
	siteURL string
	now     func() time.Time
}

func New(store Store, mailer email.Sender, m *metrics.Metrics, siteURL string) *Service {
	if mailer == nil {
		mailer = email.LogSender{}
	}
	return &Service{
		store:   store,
		mailer:  mailer,
		metrics: m,
		siteURL: strings.TrimRight(siteURL, "/"),
		now:     time.Now,
	}
}

// HandleCheckoutCompleted records the purchase behind a completed checkout
// session. Replays of the same payment are reported as duplicates and write
// nothing.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) (*Result, error) {
	userID := session.Metadata[billing.MetadataUserID]
	productID := session.Metadata[billing.MetadataProductID]
	if userID == "" || productID == "" {
		return nil, ErrMissingMetadata
	}

	product, err := s.store.GetProduct(ctx, productID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}

	plan, err := billing.ParsePlan(session.Metadata[billing.MetadataPlan])
	if err != nil {
		logger.Warn("Unknown plan in checkout metadata, treating as lifetime", map[string]interface{}{
			"session_id": session.ID,
			"plan":       session.Metadata[billing.MetadataPlan],
		})
		plan = billing.PlanLifetime
	}

	now := s.now().UTC()
	txn := &models.Transaction{
		ID:              uuid.NewString(),
		PaymentIntentID: paymentKey(session),
		UserID:          userID,
		ProductID:       product.ID,
		Amount:          money.FromMinor(session.AmountTotal),
		Currency:        strings.ToLower(string(session.Currency)),
		Status:          models.TransactionCompleted,
		CreatedAt:       now,
	}

	license := &models.License{
		ID:        uuid.NewString(),
		Key:       models.GenerateLicenseKey(),
		UserID:    userID,
		ProductID: product.ID,
		Status:    models.StatusActive,
		Plan:      string(plan),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if interval, ok := plan.Interval(); ok {
		expires := interval.ExpiresAt(now)
		license.ExpiresAt = &expires
	}
	if session.Subscription != nil {
		license.StripeSubscriptionID = session.Subscription.ID
	}

	created, err := s.store.RecordPurchase(ctx, txn, license)
	if err != nil {
		return nil, fmt.Errorf("failed to record purchase: %w", err)
	}
	if !created {
		logger.Info("Payment already fulfilled, skipping", map[string]interface{}{
			"session_id":        session.ID,
			"payment_intent_id": txn.PaymentIntentID,
		})
		return &Result{Duplicate: true}, nil
	}

	s.metrics.LicenseIssued()
	logger.Info("License issued", map[string]interface{}{
		"license_id":     license.ID,
		"transaction_id": txn.ID,
		"user_id":        userID,
		"product_id":     product.ID,
		"plan":           license.Plan,
		"amount":         txn.Amount.String(),
	})

	s.notifyBuyer(ctx, buyerEmail(session), product, license)

	return &Result{Transaction: txn, License: license}, nil
}

// notifyBuyer sends the license email. Failures are logged only.
func (s *Service) notifyBuyer(ctx context.Context, to string, product *models.Product, license *models.License) {
	if to == "" {
		logger.Warn("No buyer email on session, license email skipped", map[string]interface{}{
			"license_id": license.ID,
		})
		return
	}

	msg, err := email.LicenseEmail(to, product, license, s.siteURL+"/download/"+product.ID)
	if err == nil {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emailTimeout)
		err = s.mailer.Send(sendCtx, msg)
		cancel()
	}
	if err != nil {
		s.metrics.Email("license", "failed")
		logger.Error("Failed to send license email", map[string]interface{}{
			"error":      err.Error(),
			"license_id": license.ID,
		})
		return
	}
	s.metrics.Email("license", "sent")
}

// HandleSubscriptionDeleted expires every license sold through the
// subscription.
func (s *Service) HandleSubscriptionDeleted(ctx context.Context, subscriptionID string) (int64, error) {
	return s.setSubscriptionStatus(ctx, subscriptionID, models.StatusExpired, nil)
}

// HandleInvoicePaymentFailed suspends access until a later invoice is paid.
func (s *Service) HandleInvoicePaymentFailed(ctx context.Context, subscriptionID string) (int64, error) {
	return s.setSubscriptionStatus(ctx, subscriptionID, models.StatusInactive, nil)
}

// HandleInvoicePaid reactivates the subscription's licenses and moves their
// expiry to the end of the paid period.
func (s *Service) HandleInvoicePaid(ctx context.Context, subscriptionID string, periodEnd time.Time) (int64, error) {
	var expires *time.Time
	if !periodEnd.IsZero() {
		expires = &periodEnd
	}
	return s.setSubscriptionStatus(ctx, subscriptionID, models.StatusActive, expires)
}

func (s *Service) setSubscriptionStatus(ctx context.Context, subscriptionID, status string, expiresAt *time.Time) (int64, error) {
	if subscriptionID == "" {
		return 0, nil
	}

	n, err := s.store.UpdateSubscriptionLicenses(ctx, subscriptionID, status, expiresAt)
	if err != nil {
		return 0, fmt.Errorf("failed to update subscription licenses: %w", err)
	}

	logger.Info("Subscription licenses updated", map[string]interface{}{
		"subscription_id": subscriptionID,
		"status":          status,
		"licenses":        n,
	})
	return n, nil
}

// paymentKey identifies the payment for idempotency. Sessions without a
// payment intent (zero-amount, some subscriptions) fall back to their own id.
func paymentKey(session *stripe.CheckoutSession) string {
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		return session.PaymentIntent.ID
	}
	return session.ID
}

func buyerEmail(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}
