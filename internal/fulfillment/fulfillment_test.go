package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/billing"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/metrics"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/testutil"
	"github.com/NMMonteiro/apps4eu-marketplace/models"
	"github.com/NMMonteiro/apps4eu-marketplace/storage"
)

var fixedNow = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *storage.MemoryStorage, *testutil.MailRecorder) {
	t.Helper()
	store := testutil.TestStorage()
	require.NoError(t, testutil.SetupTestData(store))
	mail := &testutil.MailRecorder{}
	svc := New(store, mail, metrics.New(), "https://apps4eu.eu/")
	svc.now = func() time.Time { return fixedNow }
	return svc, store, mail
}

func completedSession(userID, productID, plan string) *stripe.CheckoutSession {
	return &stripe.CheckoutSession{
		ID:            "cs_test_1",
		AmountTotal:   1900,
		Currency:      stripe.CurrencyEUR,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_test_1"},
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{
			Email: "buyer@example.com",
		},
		Metadata: map[string]string{
			billing.MetadataUserID:    userID,
			billing.MetadataProductID: productID,
			billing.MetadataPlan:      plan,
		},
	}
}

func TestHandleCheckoutCompleted_Lifetime(t *testing.T) {
	svc, store, mail := newTestService(t)
	ctx := context.Background()

	result, err := svc.HandleCheckoutCompleted(ctx, completedSession("user-1", "prod-standard", "LIFETIME"))
	require.NoError(t, err)
	require.False(t, result.Duplicate)

	assert.Equal(t, "pi_test_1", result.Transaction.PaymentIntentID)
	assert.Equal(t, int64(1900), result.Transaction.Amount.Minor())
	assert.Equal(t, "eur", result.Transaction.Currency)
	assert.Equal(t, models.StatusActive, result.License.Status)
	assert.Nil(t, result.License.ExpiresAt, "lifetime licenses never expire")
	assert.Equal(t, result.Transaction.ID, result.License.TransactionID)

	licenses, err := store.ListLicensesByUser(ctx, "user-1", false)
	require.NoError(t, err)
	require.Len(t, licenses, 1)
	assert.Equal(t, "Standard License", licenses[0].Product.Name)

	sent := mail.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "buyer@example.com", sent[0].To)
	assert.Contains(t, sent[0].Subject, "Standard License")
	assert.Contains(t, sent[0].HTML, result.License.Key)
	assert.Contains(t, sent[0].HTML, "https://apps4eu.eu/download/prod-standard")
}

func TestHandleCheckoutCompleted_ReplayIsIdempotent(t *testing.T) {
	svc, store, mail := newTestService(t)
	ctx := context.Background()
	session := completedSession("user-1", "prod-standard", "")

	first, err := svc.HandleCheckoutCompleted(ctx, session)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := svc.HandleCheckoutCompleted(ctx, session)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Nil(t, second.License)

	txns, err := store.ListRecentTransactions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, txns, 1)

	licenses, err := store.ListLicensesByUser(ctx, "user-1", false)
	require.NoError(t, err)
	assert.Len(t, licenses, 1)

	assert.Len(t, mail.Sent(), 1, "replay must not email again")
}

func TestHandleCheckoutCompleted_PlanExpiry(t *testing.T) {
	tests := []struct {
		plan     string
		expected *time.Time
	}{
		{"LIFETIME", nil},
		{"1m", timePtr(fixedNow.AddDate(0, 1, 0))},
		{"12m", timePtr(fixedNow.AddDate(1, 0, 0))},
		{"24m", timePtr(fixedNow.AddDate(2, 0, 0))},
		{"weekly", nil},
	}

	for _, tt := range tests {
		t.Run(tt.plan, func(t *testing.T) {
			svc, _, _ := newTestService(t)
			session := completedSession("user-1", "prod-pro", tt.plan)
			session.PaymentIntent = &stripe.PaymentIntent{ID: "pi_" + tt.plan}
			session.Subscription = &stripe.Subscription{ID: "sub_" + tt.plan}

			result, err := svc.HandleCheckoutCompleted(context.Background(), session)
			require.NoError(t, err)

			if tt.expected == nil {
				assert.Nil(t, result.License.ExpiresAt)
				return
			}
			require.NotNil(t, result.License.ExpiresAt)
			assert.True(t, tt.expected.Equal(*result.License.ExpiresAt),
				"expected %s, got %s", tt.expected, result.License.ExpiresAt)
			assert.Equal(t, "sub_"+tt.plan, result.License.StripeSubscriptionID)
		})
	}
}

func TestHandleCheckoutCompleted_MissingMetadata(t *testing.T) {
	svc, store, _ := newTestService(t)

	for name, session := range map[string]*stripe.CheckoutSession{
		"no user":    completedSession("", "prod-standard", ""),
		"no product": completedSession("user-1", "", ""),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.HandleCheckoutCompleted(context.Background(), session)
			assert.ErrorIs(t, err, ErrMissingMetadata)
		})
	}

	txns, _ := store.ListRecentTransactions(context.Background(), 10)
	assert.Empty(t, txns)
}

func TestHandleCheckoutCompleted_UnknownProduct(t *testing.T) {
	svc, store, mail := newTestService(t)

	_, err := svc.HandleCheckoutCompleted(context.Background(), completedSession("user-1", "prod-missing", ""))
	assert.ErrorIs(t, err, ErrProductNotFound)

	txns, _ := store.ListRecentTransactions(context.Background(), 10)
	assert.Empty(t, txns)
	assert.Empty(t, mail.Sent())
}

func TestHandleCheckoutCompleted_EmailFailureIsNotFatal(t *testing.T) {
	svc, store, mail := newTestService(t)
	mail.Err = errors.New("smtp: connection refused")

	result, err := svc.HandleCheckoutCompleted(context.Background(), completedSession("user-1", "prod-standard", ""))
	require.NoError(t, err)
	require.NotNil(t, result.License)

	licenses, _ := store.ListLicensesByUser(context.Background(), "user-1", true)
	assert.Len(t, licenses, 1)
}

func TestHandleCheckoutCompleted_FallsBackToSessionID(t *testing.T) {
	svc, _, _ := newTestService(t)
	session := completedSession("user-1", "prod-standard", "")
	session.PaymentIntent = nil

	result, err := svc.HandleCheckoutCompleted(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", result.Transaction.PaymentIntentID)
}

func TestHandleCheckoutCompleted_NoBuyerEmail(t *testing.T) {
	svc, _, mail := newTestService(t)
	session := completedSession("user-1", "prod-standard", "")
	session.CustomerDetails = nil

	_, err := svc.HandleCheckoutCompleted(context.Background(), session)
	require.NoError(t, err)
	assert.Empty(t, mail.Sent())
}

func TestSubscriptionLifecycle(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	session := completedSession("user-1", "prod-pro", "1m")
	session.Subscription = &stripe.Subscription{ID: "sub_123"}
	_, err := svc.HandleCheckoutCompleted(ctx, session)
	require.NoError(t, err)

	n, err := svc.HandleInvoicePaymentFailed(ctx, "sub_123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, _ := store.ListLicensesByUser(ctx, "user-1", true)
	assert.Empty(t, active, "failed payment suspends access")

	renewed := fixedNow.AddDate(0, 2, 0)
	n, err = svc.HandleInvoicePaid(ctx, "sub_123", renewed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	owns, err := store.UserOwnsActiveLicense(ctx, "user-1", "prod-pro", fixedNow.AddDate(0, 1, 5))
	require.NoError(t, err)
	assert.True(t, owns, "paid invoice extends the license")

	n, err = svc.HandleSubscriptionDeleted(ctx, "sub_123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, _ := store.ListLicensesByUser(ctx, "user-1", false)
	require.Len(t, all, 1)
	assert.Equal(t, models.StatusExpired, all[0].Status)
}

func TestSubscriptionUpdates_EmptyID(t *testing.T) {
	svc, _, _ := newTestService(t)

	n, err := svc.HandleSubscriptionDeleted(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestParseInvoice(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		subID     string
		periodEnd int64
	}{
		{
			name:      "top level subscription id",
			raw:       `{"id":"in_1","subscription":"sub_1","period_end":1767225600}`,
			subID:     "sub_1",
			periodEnd: 1767225600,
		},
		{
			name:  "expanded subscription",
			raw:   `{"id":"in_2","subscription":{"id":"sub_2","object":"subscription"}}`,
			subID: "sub_2",
		},
		{
			name:      "parent subscription details with line periods",
			raw:       `{"id":"in_3","parent":{"subscription_details":{"subscription":"sub_3"}},"lines":{"data":[{"period":{"end":1769904000}},{"period":{"end":1772323200}}]},"period_end":1767225600}`,
			subID:     "sub_3",
			periodEnd: 1772323200,
		},
		{
			name: "one-off invoice",
			raw:  `{"id":"in_4"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseInvoice(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.subID, ref.SubscriptionID)
			if tt.periodEnd == 0 {
				assert.True(t, ref.PeriodEnd.IsZero())
			} else {
				assert.Equal(t, tt.periodEnd, ref.PeriodEnd.Unix())
			}
		})
	}
}

func TestParseInvoice_Malformed(t *testing.T) {
	_, err := ParseInvoice(json.RawMessage(`{"id":`))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to parse invoice"))
}

func timePtr(t time.Time) *time.Time {
	return &t
}
