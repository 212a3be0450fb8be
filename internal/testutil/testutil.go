package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/billing"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/email"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/identity"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/money"
	"github.com/NMMonteiro/apps4eu-marketplace/models"
	"github.com/NMMonteiro/apps4eu-marketplace/storage"
)

const WebhookSecret = "whsec_test"

// TestStorage creates an empty memory storage
func TestStorage() *storage.MemoryStorage {
	return storage.NewMemoryStorage()
}

func amountPtr(minor int64) *money.Amount {
	a := money.FromMinor(minor)
	return &a
}

// StandardProduct is a lifetime product priced 19.00
func StandardProduct() models.Product {
	now := time.Now().UTC()
	return models.Product{
		ID:          "prod-standard",
		Name:        "Standard License",
		Description: "Full access to the standard package",
		Price:       money.FromMinor(1900),
		BillingType: models.BillingLifetime,
		Category:    "tools",
		AppURL:      "https://demo.apps4eu.eu/standard",
		FileKey:     "vault/standard_pkg.zip",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ProProduct is a subscription product with all three tiers
func ProProduct() models.Product {
	now := time.Now().UTC()
	return models.Product{
		ID:          "prod-pro",
		Name:        "Pro License",
		Description: "Pro package with updates",
		Price:       money.FromMinor(4900),
		Price1m:     amountPtr(900),
		Price12m:    amountPtr(9000),
		Price24m:    amountPtr(15000),
		BillingType: models.BillingSubscription,
		Category:    "tools",
		FileKey:     "vault/pro_pkg.zip",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetupTestData stores the standard and pro products
func SetupTestData(store storage.Storage) error {
	ctx := context.Background()
	for _, p := range []models.Product{StandardProduct(), ProProduct()} {
		product := p
		if err := store.CreateProduct(ctx, &product); err != nil {
			return fmt.Errorf("failed to save product %s: %w", product.ID, err)
		}
	}
	return nil
}

// GrantLicense records a completed purchase of productID for userID
func GrantLicense(t *testing.T, store storage.Storage, userID, productID string, expiresAt *time.Time) *models.License {
	t.Helper()
	now := time.Now().UTC()
	txn := &models.Transaction{
		ID:              uuid.NewString(),
		PaymentIntentID: "pi_" + uuid.NewString(),
		UserID:          userID,
		ProductID:       productID,
		Amount:          money.FromMinor(1900),
		Currency:        "eur",
		Status:          models.TransactionCompleted,
		CreatedAt:       now,
	}
	license := &models.License{
		ID:        uuid.NewString(),
		Key:       models.GenerateLicenseKey(),
		UserID:    userID,
		ProductID: productID,
		Status:    models.StatusActive,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := store.RecordPurchase(context.Background(), txn, license); err != nil {
		t.Fatalf("Failed to grant license: %v", err)
	}
	return license
}

// MailRecorder captures outgoing email
type MailRecorder struct {
	mu       sync.Mutex
	Messages []email.Message
	Err      error
}

func (m *MailRecorder) Send(ctx context.Context, msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, msg)
	return nil
}

func (m *MailRecorder) Sent() []email.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]email.Message(nil), m.Messages...)
}

// FakeGateway records checkout requests and verifies webhooks with
// WebhookSecret
type FakeGateway struct {
	mu       sync.Mutex
	Requests []billing.CheckoutRequest
	URL      string
	Err      error
}

func (g *FakeGateway) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Requests = append(g.Requests, req)
	if g.Err != nil {
		return nil, g.Err
	}
	url := g.URL
	if url == "" {
		url = "https://checkout.stripe.com/c/pay/cs_test_fake"
	}
	return &billing.CheckoutSession{ID: "cs_test_fake", URL: url}, nil
}

func (g *FakeGateway) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

func (g *FakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Requests)
}

// FakePresigner returns deterministic download URLs
type FakePresigner struct {
	Err error
}

func (p *FakePresigner) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if p.Err != nil {
		return "", p.Err
	}
	return fmt.Sprintf("https://storage.example.com/products/%s?X-Amz-Expires=%d", key, int(ttl.Seconds())), nil
}

// FakeIdentity is an in-memory identity provider keyed by access token
type FakeIdentity struct {
	mu        sync.Mutex
	Tokens    map[string]*identity.User
	Passwords map[string]string
	Users     map[string]*identity.User
	Deleted   []string
	Err       error
}

func NewFakeIdentity() *FakeIdentity {
	return &FakeIdentity{
		Tokens:    make(map[string]*identity.User),
		Passwords: make(map[string]string),
		Users:     make(map[string]*identity.User),
	}
}

// AddUser registers a user and returns an access token for it
func (f *FakeIdentity) AddUser(id, emailAddr, password string, admin bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	role := identity.RoleUser
	if admin {
		role = identity.RoleAdmin
	}
	user := &identity.User{ID: id, Email: emailAddr, Role: role, CreatedAt: time.Now().UTC()}
	token := "token-" + id
	f.Users[id] = user
	f.Tokens[token] = user
	f.Passwords[emailAddr] = password
	return token
}

func (f *FakeIdentity) UserFromToken(ctx context.Context, token string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.Tokens[token]
	if !ok {
		return nil, identity.ErrUnauthenticated
	}
	return user, nil
}

func (f *FakeIdentity) SignInWithPassword(ctx context.Context, emailAddr, password string) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Passwords[emailAddr] != password || password == "" {
		return nil, &identity.APIError{Status: http.StatusBadRequest, Message: "Invalid login credentials"}
	}
	for token, user := range f.Tokens {
		if user.Email == emailAddr {
			return &identity.Session{AccessToken: token, ExpiresIn: 3600, User: user}, nil
		}
	}
	return nil, &identity.APIError{Status: http.StatusBadRequest, Message: "Invalid login credentials"}
}

func (f *FakeIdentity) SignUp(ctx context.Context, emailAddr, password string) (*identity.SignUpResult, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	id := uuid.NewString()
	f.AddUser(id, emailAddr, password, false)
	return &identity.SignUpResult{User: f.Users[id], TokenHash: "hash-" + id}, nil
}

func (f *FakeIdentity) VerifyOTP(ctx context.Context, tokenHash, otpType string) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for token, user := range f.Tokens {
		if "hash-"+user.ID == tokenHash {
			return &identity.Session{AccessToken: token, ExpiresIn: 3600, User: user}, nil
		}
	}
	return nil, &identity.APIError{Status: http.StatusForbidden, Message: "Email link is invalid or has expired"}
}

func (f *FakeIdentity) ListUsers(ctx context.Context, perPage int) ([]*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	users := make([]*identity.User, 0, len(f.Users))
	for _, u := range f.Users {
		users = append(users, u)
	}
	return users, nil
}

func (f *FakeIdentity) CreateUser(ctx context.Context, emailAddr, password string, admin bool) (*identity.User, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	id := uuid.NewString()
	f.AddUser(id, emailAddr, password, admin)
	return f.Users[id], nil
}

func (f *FakeIdentity) UpdateUserRole(ctx context.Context, id string, admin bool) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.Users[id]
	if !ok {
		return nil, &identity.APIError{Status: http.StatusNotFound, Message: "User not found"}
	}
	user.Role = identity.RoleUser
	if admin {
		user.Role = identity.RoleAdmin
	}
	return user, nil
}

func (f *FakeIdentity) DeleteUser(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Users[id]; !ok {
		return &identity.APIError{Status: http.StatusNotFound, Message: "User not found"}
	}
	delete(f.Users, id)
	for token, user := range f.Tokens {
		if user.ID == id {
			delete(f.Tokens, token)
		}
	}
	f.Deleted = append(f.Deleted, id)
	return nil
}

// CreateStripeWebhookPayload wraps object in a Stripe event envelope
func CreateStripeWebhookPayload(eventID, eventType string, object map[string]interface{}) []byte {
	event := map[string]interface{}{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data": map[string]interface{}{
			"object": object,
		},
	}

	payload, _ := json.Marshal(event)
	return payload
}

// CreateMockCheckoutSession builds a completed checkout session object
func CreateMockCheckoutSession(sessionID, paymentIntentID, userID, productID, plan string, amountTotal int64) map[string]interface{} {
	metadata := map[string]interface{}{}
	if userID != "" {
		metadata[billing.MetadataUserID] = userID
	}
	if productID != "" {
		metadata[billing.MetadataProductID] = productID
	}
	if plan != "" {
		metadata[billing.MetadataPlan] = plan
	}

	session := map[string]interface{}{
		"id":             sessionID,
		"object":         "checkout.session",
		"amount_total":   amountTotal,
		"currency":       "eur",
		"payment_status": "paid",
		"customer_details": map[string]interface{}{
			"email": "buyer@example.com",
		},
		"metadata": metadata,
	}
	if paymentIntentID != "" {
		session["payment_intent"] = paymentIntentID
	}
	return session
}

// SignPayload returns a valid Stripe-Signature header for payload
func SignPayload(payload []byte) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    WebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

// AssertErrorResponse checks if the error response matches expected values
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	if w.Code != expectedStatus {
		t.Errorf("Expected status %d, got %d", expectedStatus, w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}

	if response["error"] != expectedError {
		t.Errorf("Expected error '%s', got '%s'", expectedError, response["error"])
	}
}
