package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/NMMonteiro/apps4eu-marketplace/models"
)

// Metadata keys carried from checkout to the completed-session webhook.
const (
	MetadataUserID    = "userId"
	MetadataProductID = "productId"
	MetadataPlan      = "plan"
)

type CheckoutRequest struct {
	UserID     string
	Email      string
	Product    *models.Product
	Quote      Quote
	Currency   string
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Gateway is the payment processor as seen by checkout and webhooks.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// BackendURL overrides the Stripe API endpoint (stripe-mock, tests).
	BackendURL string
}

type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	var backends *stripe.Backends
	if cfg.BackendURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.BackendURL),
			MaxNetworkRetries: stripe.Int64(0),
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, backends)
	return &StripeGateway{api: api, webhookSecret: cfg.WebhookSecret}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := buildSessionParams(req)
	params.Context = ctx

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// ConstructEvent verifies the Stripe-Signature header against the webhook
// secret and decodes the event.
func (g *StripeGateway) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

func buildSessionParams(req CheckoutRequest) *stripe.CheckoutSessionParams {
	product := req.Product

	productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(product.Name),
	}
	if product.Description != "" {
		productData.Description = stripe.String(product.Description)
	}
	if product.ImageURL != "" {
		productData.Images = []*string{stripe.String(product.ImageURL)}
	}

	priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:    stripe.String(req.Currency),
		ProductData: productData,
		UnitAmount:  stripe.Int64(req.Quote.UnitAmount.Minor()),
	}

	metadata := map[string]string{
		MetadataUserID:    req.UserID,
		MetadataProductID: product.ID,
		MetadataPlan:      string(req.Quote.Plan),
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{PriceData: priceData, Quantity: stripe.Int64(1)},
		},
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:    stripe.String(req.SuccessURL),
		CancelURL:     stripe.String(req.CancelURL),
		CustomerEmail: stripe.String(req.Email),
	}

	if req.Quote.Recurring() {
		priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval:      stripe.String(string(req.Quote.Interval.Unit)),
			IntervalCount: stripe.Int64(req.Quote.Interval.Count),
		}
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		// Renewal invoices only see subscription metadata.
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		}
	}

	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	return params
}
