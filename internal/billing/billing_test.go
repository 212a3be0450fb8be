package billing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/money"
	"github.com/NMMonteiro/apps4eu-marketplace/models"
	"github.com/NMMonteiro/apps4eu-marketplace/storage"
)

func amount(minor int64) *money.Amount {
	a := money.FromMinor(minor)
	return &a
}

func lifetimeProduct() *models.Product {
	return &models.Product{
		ID:          "prod-std",
		Name:        "Standard License",
		Price:       money.FromMinor(1900),
		BillingType: models.BillingLifetime,
	}
}

func tieredProduct() *models.Product {
	return &models.Product{
		ID:          "prod-pro",
		Name:        "Pro License",
		Price:       money.FromMinor(4900),
		Price1m:     amount(900),
		Price12m:    amount(9000),
		Price24m:    amount(15000),
		BillingType: models.BillingSubscription,
	}
}

func TestParsePlan(t *testing.T) {
	tests := []struct {
		in   string
		want Plan
		err  error
	}{
		{"", PlanLifetime, nil},
		{"LIFETIME", PlanLifetime, nil},
		{"lifetime", PlanLifetime, nil},
		{"1m", PlanMonthly, nil},
		{"12m", PlanYearly, nil},
		{"24m", PlanBiennial, nil},
		{"6m", "", ErrUnknownPlan},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlan(tt.in)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveQuote_TieredPlans(t *testing.T) {
	tests := []struct {
		plan      string
		price     money.Amount
		unit      IntervalUnit
		count     int64
		recurring bool
	}{
		{"1m", 900, IntervalMonth, 1, true},
		{"12m", 9000, IntervalYear, 1, true},
		{"24m", 15000, IntervalYear, 2, true},
		{"", 4900, "", 0, false},
		{"LIFETIME", 4900, "", 0, false},
	}

	for _, tt := range tests {
		t.Run("plan "+tt.plan, func(t *testing.T) {
			quote, err := ResolveQuote(tieredProduct(), tt.plan)
			require.NoError(t, err)
			assert.Equal(t, tt.price, quote.UnitAmount)
			assert.Equal(t, tt.recurring, quote.Recurring())
			assert.Equal(t, tt.unit, quote.Interval.Unit)
			assert.Equal(t, tt.count, quote.Interval.Count)
		})
	}
}

func TestResolveQuote_NoTieredPricesAlwaysLifetime(t *testing.T) {
	for _, plan := range []string{"", "1m", "12m", "24m", "LIFETIME", "nonsense"} {
		quote, err := ResolveQuote(lifetimeProduct(), plan)
		require.NoError(t, err, plan)
		assert.Equal(t, PlanLifetime, quote.Plan, plan)
		assert.Equal(t, money.Amount(1900), quote.UnitAmount, plan)
		assert.False(t, quote.Recurring(), plan)
	}
}

func TestResolveQuote_Errors(t *testing.T) {
	_, err := ResolveQuote(tieredProduct(), "6m")
	assert.ErrorIs(t, err, ErrUnknownPlan)

	partial := tieredProduct()
	partial.Price24m = nil
	_, err = ResolveQuote(partial, "24m")
	assert.ErrorIs(t, err, ErrPlanUnavailable)
}

func TestQuote_LicenseExpiry(t *testing.T) {
	from := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)

	lifetime := Quote{Plan: PlanLifetime}
	assert.Nil(t, lifetime.LicenseExpiry(from))

	monthly, _ := ResolveQuote(tieredProduct(), "1m")
	require.NotNil(t, monthly.LicenseExpiry(from))
	assert.Equal(t, from.AddDate(0, 1, 0), *monthly.LicenseExpiry(from))

	biennial, _ := ResolveQuote(tieredProduct(), "24m")
	assert.Equal(t, time.Date(2028, 1, 31, 10, 0, 0, 0, time.UTC), *biennial.LicenseExpiry(from))
}

func TestBuildSessionParams_Lifetime(t *testing.T) {
	quote, err := ResolveQuote(lifetimeProduct(), "")
	require.NoError(t, err)

	params := buildSessionParams(CheckoutRequest{
		UserID:     "user-1",
		Email:      "buyer@example.com",
		Product:    lifetimeProduct(),
		Quote:      quote,
		Currency:   "eur",
		SuccessURL: "https://apps4eu.eu/ok",
		CancelURL:  "https://apps4eu.eu/cancel",
	})

	assert.Equal(t, "payment", *params.Mode)
	require.Len(t, params.LineItems, 1)
	price := params.LineItems[0].PriceData
	assert.Equal(t, int64(1900), *price.UnitAmount)
	assert.Equal(t, "eur", *price.Currency)
	assert.Nil(t, price.Recurring)
	assert.Nil(t, params.SubscriptionData)
	assert.Equal(t, "user-1", params.Metadata[MetadataUserID])
	assert.Equal(t, "prod-std", params.Metadata[MetadataProductID])
	assert.Equal(t, "LIFETIME", params.Metadata[MetadataPlan])
	assert.Equal(t, "buyer@example.com", *params.CustomerEmail)
}

func TestBuildSessionParams_Subscription(t *testing.T) {
	quote, err := ResolveQuote(tieredProduct(), "24m")
	require.NoError(t, err)

	params := buildSessionParams(CheckoutRequest{
		UserID:   "user-1",
		Product:  tieredProduct(),
		Quote:    quote,
		Currency: "eur",
	})

	assert.Equal(t, "subscription", *params.Mode)
	price := params.LineItems[0].PriceData
	assert.Equal(t, int64(15000), *price.UnitAmount)
	require.NotNil(t, price.Recurring)
	assert.Equal(t, "year", *price.Recurring.Interval)
	assert.Equal(t, int64(2), *price.Recurring.IntervalCount)
	require.NotNil(t, params.SubscriptionData)
	assert.Equal(t, "24m", params.SubscriptionData.Metadata[MetadataPlan])
}

func TestStripeGateway_CreateCheckoutSession(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_test_123","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_123"}`))
	}))
	defer srv.Close()

	gw := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", BackendURL: srv.URL})
	quote, _ := ResolveQuote(lifetimeProduct(), "")

	session, err := gw.CreateCheckoutSession(context.Background(), CheckoutRequest{
		UserID:     "user-1",
		Email:      "buyer@example.com",
		Product:    lifetimeProduct(),
		Quote:      quote,
		Currency:   "eur",
		SuccessURL: "https://apps4eu.eu/ok",
		CancelURL:  "https://apps4eu.eu/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_123", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_123", session.URL)

	assert.Equal(t, "payment", form["mode"])
	assert.Equal(t, "1900", form["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, "user-1", form["metadata[userId]"])
}

func TestStripeGateway_ConstructEvent(t *testing.T) {
	gw := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", WebhookSecret: "whsec_test"})
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session"}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})
	event, err := gw.ConstructEvent(payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, stripe.EventType("checkout.session.completed"), event.Type)

	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_other"})
	_, err = gw.ConstructEvent(payload, forged.Header)
	assert.Error(t, err)
}

type recordingGateway struct {
	calls   int
	last    CheckoutRequest
	session *CheckoutSession
	err     error
}

func (g *recordingGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	g.calls++
	g.last = req
	return g.session, g.err
}

func (g *recordingGateway) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return stripe.Event{}, errors.New("not used")
}

func newCheckout(t *testing.T, gw Gateway) *CheckoutService {
	store := storage.NewMemoryStorage()
	require.NoError(t, store.CreateProduct(context.Background(), lifetimeProduct()))
	require.NoError(t, store.CreateProduct(context.Background(), tieredProduct()))
	return NewCheckoutService(store, gw, "https://apps4eu.eu", "eur")
}

func TestCheckoutService_RequiresLogin(t *testing.T) {
	gw := &recordingGateway{}
	svc := newCheckout(t, gw)

	_, err := svc.CreateSession(context.Background(), nil, "prod-std", "")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.Equal(t, "You must be logged in to purchase access.", Message(err))
	assert.Zero(t, gw.calls, "no session may be created for anonymous buyers")
}

func TestCheckoutService_ProductNotFound(t *testing.T) {
	gw := &recordingGateway{}
	svc := newCheckout(t, gw)

	_, err := svc.CreateSession(context.Background(), &Buyer{ID: "user-1"}, "missing", "")
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.Equal(t, "Product not found.", Message(err))
	assert.Zero(t, gw.calls)
}

func TestCheckoutService_LifetimePurchase(t *testing.T) {
	gw := &recordingGateway{session: &CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/pay/cs_1"}}
	svc := newCheckout(t, gw)

	url, err := svc.CreateSession(context.Background(), &Buyer{ID: "user-1", Email: "buyer@example.com"}, "prod-std", "")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_1", url)

	require.Equal(t, 1, gw.calls)
	assert.Equal(t, money.Amount(1900), gw.last.Quote.UnitAmount)
	assert.Equal(t, "payment", *buildSessionParams(gw.last).Mode)
	assert.Equal(t, "https://apps4eu.eu/dashboard/vault?success=true&session_id={CHECKOUT_SESSION_ID}", gw.last.SuccessURL)
	assert.Equal(t, "https://apps4eu.eu/marketplace?canceled=true", gw.last.CancelURL)
}

func TestCheckoutService_GatewayFailure(t *testing.T) {
	tests := []struct {
		name string
		gw   *recordingGateway
	}{
		{"gateway error", &recordingGateway{err: errors.New("card_declined")}},
		{"session without url", &recordingGateway{session: &CheckoutSession{ID: "cs_1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newCheckout(t, tt.gw)
			_, err := svc.CreateSession(context.Background(), &Buyer{ID: "user-1"}, "prod-std", "")
			assert.ErrorIs(t, err, ErrSessionFailed)
			assert.Equal(t, "Failed to create checkout session.", Message(err))
		})
	}
}
