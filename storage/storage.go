package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/NMMonteiro/apps4eu-marketplace/models"
)

var (
	ErrNotFound     = errors.New("storage: not found")
	ErrProductInUse = errors.New("storage: product is referenced by licenses")
)

type Storage interface {
	ListProducts(ctx context.Context) ([]*models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	UpdateProduct(ctx context.Context, product *models.Product) error
	DeleteProduct(ctx context.Context, id string) error

	// RecordPurchase writes the transaction and its license atomically. When
	// a transaction with the same payment intent already exists nothing is
	// written and created is false.
	RecordPurchase(ctx context.Context, txn *models.Transaction, license *models.License) (created bool, err error)
	ListRecentTransactions(ctx context.Context, limit int) ([]*models.Transaction, error)

	FindLicenseByKey(ctx context.Context, key string) (*models.License, error)
	ListLicensesByUser(ctx context.Context, userID string, activeOnly bool) ([]*models.LicenseWithProduct, error)
	UserOwnsActiveLicense(ctx context.Context, userID, productID string, now time.Time) (bool, error)
	// UpdateSubscriptionLicenses sets the status of every license bought
	// through the subscription. A nil expiresAt leaves expiry untouched.
	UpdateSubscriptionLicenses(ctx context.Context, subscriptionID, status string, expiresAt *time.Time) (int64, error)
	ExpireLicenses(ctx context.Context, now time.Time) (int64, error)

	GetEmailTemplate(ctx context.Context, slug string) (*models.EmailTemplate, error)
	SaveEmailTemplate(ctx context.Context, tmpl *models.EmailTemplate) error
	EnsureEmailTemplate(ctx context.Context, def models.EmailTemplate) (*models.EmailTemplate, error)

	Close() error
}

// MemoryStorage keeps everything in maps. Used by tests and local runs
// without a database.
type MemoryStorage struct {
	mu           sync.RWMutex
	Products     map[string]models.Product
	Transactions map[string]models.Transaction
	Licenses     map[string]models.License
	Templates    map[string]models.EmailTemplate
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Products:     make(map[string]models.Product),
		Transactions: make(map[string]models.Transaction),
		Licenses:     make(map[string]models.License),
		Templates:    make(map[string]models.EmailTemplate),
	}
}

func (m *MemoryStorage) ListProducts(ctx context.Context) ([]*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	products := make([]*models.Product, 0, len(m.Products))
	for _, p := range m.Products {
		product := p
		products = append(products, &product)
	}
	sort.Slice(products, func(i, j int) bool {
		return products[i].CreatedAt.After(products[j].CreatedAt)
	})
	return products, nil
}

func (m *MemoryStorage) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	product, exists := m.Products[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &product, nil
}

func (m *MemoryStorage) CreateProduct(ctx context.Context, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Products[product.ID] = *product
	return nil
}

func (m *MemoryStorage) UpdateProduct(ctx context.Context, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.Products[product.ID]
	if !exists {
		return ErrNotFound
	}
	product.CreatedAt = existing.CreatedAt
	m.Products[product.ID] = *product
	return nil
}

func (m *MemoryStorage) DeleteProduct(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.Products[id]; !exists {
		return ErrNotFound
	}
	for _, license := range m.Licenses {
		if license.ProductID == id {
			return ErrProductInUse
		}
	}
	delete(m.Products, id)
	return nil
}

func (m *MemoryStorage) RecordPurchase(ctx context.Context, txn *models.Transaction, license *models.License) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.Transactions {
		if existing.PaymentIntentID == txn.PaymentIntentID {
			return false, nil
		}
	}
	if _, exists := m.Products[license.ProductID]; !exists {
		return false, ErrNotFound
	}

	license.TransactionID = txn.ID
	m.Transactions[txn.ID] = *txn
	m.Licenses[license.ID] = *license
	return true, nil
}

func (m *MemoryStorage) ListRecentTransactions(ctx context.Context, limit int) ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txns := make([]*models.Transaction, 0, len(m.Transactions))
	for _, t := range m.Transactions {
		txn := t
		txns = append(txns, &txn)
	}
	sort.Slice(txns, func(i, j int) bool {
		return txns[i].CreatedAt.After(txns[j].CreatedAt)
	})
	if limit > 0 && len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

func (m *MemoryStorage) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, license := range m.Licenses {
		if license.Key == key {
			return &license, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStorage) ListLicensesByUser(ctx context.Context, userID string, activeOnly bool) ([]*models.LicenseWithProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var licenses []*models.LicenseWithProduct
	for _, license := range m.Licenses {
		if license.UserID != userID {
			continue
		}
		if activeOnly && license.Status != models.StatusActive {
			continue
		}
		product, exists := m.Products[license.ProductID]
		if !exists {
			continue
		}
		licenses = append(licenses, &models.LicenseWithProduct{License: license, Product: product})
	}
	sort.Slice(licenses, func(i, j int) bool {
		return licenses[i].CreatedAt.After(licenses[j].CreatedAt)
	})
	return licenses, nil
}

func (m *MemoryStorage) UserOwnsActiveLicense(ctx context.Context, userID, productID string, now time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, license := range m.Licenses {
		if license.UserID == userID && license.ProductID == productID && license.IsUsable(now) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStorage) UpdateSubscriptionLicenses(ctx context.Context, subscriptionID, status string, expiresAt *time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if subscriptionID == "" {
		return 0, nil
	}

	var updated int64
	for id, license := range m.Licenses {
		if license.StripeSubscriptionID != subscriptionID {
			continue
		}
		license.Status = status
		if expiresAt != nil {
			expiry := *expiresAt
			license.ExpiresAt = &expiry
		}
		license.UpdatedAt = time.Now().UTC()
		m.Licenses[id] = license
		updated++
	}
	return updated, nil
}

func (m *MemoryStorage) ExpireLicenses(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired int64
	for id, license := range m.Licenses {
		if license.Status != models.StatusActive || license.ExpiresAt == nil || license.ExpiresAt.After(now) {
			continue
		}
		license.Status = models.StatusExpired
		license.UpdatedAt = now
		m.Licenses[id] = license
		expired++
	}
	return expired, nil
}

func (m *MemoryStorage) GetEmailTemplate(ctx context.Context, slug string) (*models.EmailTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tmpl, exists := m.Templates[slug]
	if !exists {
		return nil, ErrNotFound
	}
	return &tmpl, nil
}

func (m *MemoryStorage) SaveEmailTemplate(ctx context.Context, tmpl *models.EmailTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Templates[tmpl.Slug] = *tmpl
	return nil
}

func (m *MemoryStorage) EnsureEmailTemplate(ctx context.Context, def models.EmailTemplate) (*models.EmailTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.Templates[def.Slug]; exists {
		return &existing, nil
	}
	if def.UpdatedAt.IsZero() {
		def.UpdatedAt = time.Now().UTC()
	}
	m.Templates[def.Slug] = def
	return &def, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
