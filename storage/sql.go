package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/logger"
	"github.com/NMMonteiro/apps4eu-marketplace/models"
)

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "pgx"
)

const productColumns = `id, name, description, price, price_1m, price_12m, price_24m, billing_type,
	category, image_url, app_url, file_key, created_at, updated_at`

const licenseColumns = `id, license_key, user_id, product_id, transaction_id, status, plan,
	stripe_subscription_id, expires_at, created_at, updated_at`

// SQLStore is the relational Storage backend. It speaks to SQLite through
// go-sqlite3 and to Postgres through pgx, with one schema for both.
type SQLStore struct {
	db          *sqlx.DB
	databaseURL string
}

// Open connects to databaseURL and applies pending migrations.
// postgres:// and postgresql:// URLs select Postgres, anything else is
// treated as a SQLite path or DSN (an optional sqlite:// prefix is stripped).
func Open(ctx context.Context, databaseURL string) (*SQLStore, error) {
	driver, dsn := parseDatabaseURL(databaseURL)

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == driverSQLite {
		// An in-memory database lives and dies with its connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	store := &SQLStore{db: db, databaseURL: databaseURL}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Database ready", map[string]interface{}{
		"driver": driver,
	})
	return store, nil
}

// NewSQLStore wraps an already open handle. Migrations are not run.
func NewSQLStore(db *sql.DB, driverName string) *SQLStore {
	return &SQLStore{db: sqlx.NewDb(db, driverName)}
}

func parseDatabaseURL(databaseURL string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return driverPostgres, databaseURL
	case strings.HasPrefix(databaseURL, "sqlite://"):
		dsn = strings.TrimPrefix(databaseURL, "sqlite://")
	default:
		dsn = databaseURL
	}

	if strings.Contains(dsn, "?") {
		dsn += "&_foreign_keys=on"
	} else {
		dsn += "?_foreign_keys=on"
	}
	return driverSQLite, dsn
}

// dbTime normalises timestamps so SQLite's textual comparison agrees with
// chronological order.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func dbTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := dbTime(*t)
	return &v
}

func (s *SQLStore) ListProducts(ctx context.Context) ([]*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY created_at DESC`

	var products []*models.Product
	if err := s.db.SelectContext(ctx, &products, query); err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	return products, nil
}

func (s *SQLStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	query := s.db.Rebind(`SELECT ` + productColumns + ` FROM products WHERE id = ?`)

	var product models.Product
	err := s.db.GetContext(ctx, &product, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &product, nil
}

func (s *SQLStore) CreateProduct(ctx context.Context, p *models.Product) error {
	query := s.db.Rebind(`INSERT INTO products (` + productColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.Description,
		p.Price,
		p.Price1m,
		p.Price12m,
		p.Price24m,
		string(p.BillingType),
		p.Category,
		p.ImageURL,
		p.AppURL,
		p.FileKey,
		dbTime(p.CreatedAt),
		dbTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateProduct(ctx context.Context, p *models.Product) error {
	query := s.db.Rebind(`UPDATE products SET name = ?, description = ?, price = ?, price_1m = ?,
		price_12m = ?, price_24m = ?, billing_type = ?, category = ?, image_url = ?, app_url = ?,
		file_key = ?, updated_at = ? WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query,
		p.Name,
		p.Description,
		p.Price,
		p.Price1m,
		p.Price12m,
		p.Price24m,
		string(p.BillingType),
		p.Category,
		p.ImageURL,
		p.AppURL,
		p.FileKey,
		dbTime(p.UpdatedAt),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return expectRows(res)
}

func (s *SQLStore) DeleteProduct(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var inUse int
	if err := tx.GetContext(ctx, &inUse, tx.Rebind(`SELECT COUNT(*) FROM licenses WHERE product_id = ?`), id); err != nil {
		return fmt.Errorf("failed to count licenses: %w", err)
	}
	if inUse > 0 {
		return ErrProductInUse
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM products WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if err := expectRows(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) RecordPurchase(ctx context.Context, txn *models.Transaction, license *models.License) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO transactions
		(id, payment_intent_id, user_id, product_id, amount, currency, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (payment_intent_id) DO NOTHING`),
		txn.ID,
		txn.PaymentIntentID,
		txn.UserID,
		txn.ProductID,
		txn.Amount,
		txn.Currency,
		txn.Status,
		dbTime(txn.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if inserted == 0 {
		return false, nil
	}

	license.TransactionID = txn.ID
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO licenses (`+licenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		license.ID,
		license.Key,
		license.UserID,
		license.ProductID,
		license.TransactionID,
		license.Status,
		license.Plan,
		license.StripeSubscriptionID,
		dbTimePtr(license.ExpiresAt),
		dbTime(license.CreatedAt),
		dbTime(license.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert license: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit purchase: %w", err)
	}
	return true, nil
}

func (s *SQLStore) ListRecentTransactions(ctx context.Context, limit int) ([]*models.Transaction, error) {
	query := s.db.Rebind(`SELECT id, payment_intent_id, user_id, product_id, amount, currency, status, created_at
		FROM transactions ORDER BY created_at DESC LIMIT ?`)

	var txns []*models.Transaction
	if err := s.db.SelectContext(ctx, &txns, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return txns, nil
}

func (s *SQLStore) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	query := s.db.Rebind(`SELECT ` + licenseColumns + ` FROM licenses WHERE license_key = ?`)

	var license models.License
	err := s.db.GetContext(ctx, &license, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license: %w", err)
	}
	return &license, nil
}

func (s *SQLStore) ListLicensesByUser(ctx context.Context, userID string, activeOnly bool) ([]*models.LicenseWithProduct, error) {
	query := `SELECT l.id, l.license_key, l.user_id, l.product_id, l.transaction_id, l.status, l.plan,
		l.stripe_subscription_id, l.expires_at, l.created_at, l.updated_at,
		p.id AS "product.id", p.name AS "product.name", p.description AS "product.description",
		p.price AS "product.price", p.price_1m AS "product.price_1m", p.price_12m AS "product.price_12m",
		p.price_24m AS "product.price_24m", p.billing_type AS "product.billing_type",
		p.category AS "product.category", p.image_url AS "product.image_url",
		p.app_url AS "product.app_url", p.file_key AS "product.file_key",
		p.created_at AS "product.created_at", p.updated_at AS "product.updated_at"
		FROM licenses l JOIN products p ON p.id = l.product_id
		WHERE l.user_id = ?`
	args := []interface{}{userID}
	if activeOnly {
		query += ` AND l.status = ?`
		args = append(args, models.StatusActive)
	}
	query += ` ORDER BY l.created_at DESC`

	var licenses []*models.LicenseWithProduct
	if err := s.db.SelectContext(ctx, &licenses, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query licenses: %w", err)
	}
	return licenses, nil
}

func (s *SQLStore) UserOwnsActiveLicense(ctx context.Context, userID, productID string, now time.Time) (bool, error) {
	query := s.db.Rebind(`SELECT COUNT(*) FROM licenses
		WHERE user_id = ? AND product_id = ? AND status = ?
		AND (expires_at IS NULL OR expires_at > ?)`)

	var count int
	if err := s.db.GetContext(ctx, &count, query, userID, productID, models.StatusActive, dbTime(now)); err != nil {
		return false, fmt.Errorf("failed to check license ownership: %w", err)
	}
	return count > 0, nil
}

func (s *SQLStore) UpdateSubscriptionLicenses(ctx context.Context, subscriptionID, status string, expiresAt *time.Time) (int64, error) {
	if subscriptionID == "" {
		return 0, nil
	}

	query := s.db.Rebind(`UPDATE licenses SET status = ?, expires_at = COALESCE(?, expires_at), updated_at = ?
		WHERE stripe_subscription_id = ?`)

	res, err := s.db.ExecContext(ctx, query, status, dbTimePtr(expiresAt), dbTime(time.Now()), subscriptionID)
	if err != nil {
		return 0, fmt.Errorf("failed to update subscription licenses: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) ExpireLicenses(ctx context.Context, now time.Time) (int64, error) {
	query := s.db.Rebind(`UPDATE licenses SET status = ?, updated_at = ?
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`)

	at := dbTime(now)
	res, err := s.db.ExecContext(ctx, query, models.StatusExpired, at, models.StatusActive, at)
	if err != nil {
		return 0, fmt.Errorf("failed to expire licenses: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) GetEmailTemplate(ctx context.Context, slug string) (*models.EmailTemplate, error) {
	query := s.db.Rebind(`SELECT slug, subject, body, updated_at FROM email_templates WHERE slug = ?`)

	var tmpl models.EmailTemplate
	err := s.db.GetContext(ctx, &tmpl, query, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email template: %w", err)
	}
	return &tmpl, nil
}

func (s *SQLStore) SaveEmailTemplate(ctx context.Context, tmpl *models.EmailTemplate) error {
	query := s.db.Rebind(`INSERT INTO email_templates (slug, subject, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (slug) DO UPDATE SET subject = excluded.subject, body = excluded.body, updated_at = excluded.updated_at`)

	if _, err := s.db.ExecContext(ctx, query, tmpl.Slug, tmpl.Subject, tmpl.Body, dbTime(tmpl.UpdatedAt)); err != nil {
		return fmt.Errorf("failed to save email template: %w", err)
	}
	return nil
}

func (s *SQLStore) EnsureEmailTemplate(ctx context.Context, def models.EmailTemplate) (*models.EmailTemplate, error) {
	if def.UpdatedAt.IsZero() {
		def.UpdatedAt = time.Now()
	}

	query := s.db.Rebind(`INSERT INTO email_templates (slug, subject, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (slug) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, query, def.Slug, def.Subject, def.Body, dbTime(def.UpdatedAt)); err != nil {
		return nil, fmt.Errorf("failed to seed email template: %w", err)
	}
	return s.GetEmailTemplate(ctx, def.Slug)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func expectRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
