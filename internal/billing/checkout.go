package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/logger"
	"github.com/NMMonteiro/apps4eu-marketplace/models"
	"github.com/NMMonteiro/apps4eu-marketplace/storage"
)

var (
	ErrNotLoggedIn     = errors.New("billing: buyer is not logged in")
	ErrProductNotFound = errors.New("billing: product not found")
	ErrSessionFailed   = errors.New("billing: checkout session could not be created")
)

// Message maps a checkout error to the text shown to the buyer.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrNotLoggedIn):
		return "You must be logged in to purchase access."
	case errors.Is(err, ErrProductNotFound):
		return "Product not found."
	case errors.Is(err, ErrUnknownPlan), errors.Is(err, ErrPlanUnavailable):
		return "Selected plan is not available for this product."
	default:
		return "Failed to create checkout session."
	}
}

type ProductReader interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
}

type Buyer struct {
	ID    string
	Email string
}

// CheckoutService turns a buyer's product selection into a hosted checkout
// page URL.
type CheckoutService struct {
	products ProductReader
	gateway  Gateway
	siteURL  string
	currency string
}

func NewCheckoutService(products ProductReader, gateway Gateway, siteURL, currency string) *CheckoutService {
	return &CheckoutService{
		products: products,
		gateway:  gateway,
		siteURL:  siteURL,
		currency: currency,
	}
}

func (s *CheckoutService) CreateSession(ctx context.Context, buyer *Buyer, productID, plan string) (string, error) {
	if buyer == nil || buyer.ID == "" {
		return "", ErrNotLoggedIn
	}

	product, err := s.products.GetProduct(ctx, productID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrProductNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load product: %w", err)
	}

	quote, err := ResolveQuote(product, plan)
	if err != nil {
		return "", err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		UserID:     buyer.ID,
		Email:      buyer.Email,
		Product:    product,
		Quote:      quote,
		Currency:   s.currency,
		SuccessURL: s.siteURL + "/dashboard/vault?success=true&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.siteURL + "/marketplace?canceled=true",
	})
	if err != nil {
		logger.Error("Failed to create checkout session", map[string]interface{}{
			"error":      err.Error(),
			"product_id": product.ID,
			"user_id":    buyer.ID,
		})
		return "", fmt.Errorf("%w: %v", ErrSessionFailed, err)
	}
	if session.URL == "" {
		return "", ErrSessionFailed
	}

	logger.Info("Checkout session created", map[string]interface{}{
		"session_id": session.ID,
		"product_id": product.ID,
		"user_id":    buyer.ID,
		"plan":       string(quote.Plan),
		"amount":     quote.UnitAmount.Minor(),
	})
	return session.URL, nil
}
