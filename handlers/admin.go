package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/identity"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/logger"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/money"
	"github.com/NMMonteiro/apps4eu-marketplace/models"
	"github.com/NMMonteiro/apps4eu-marketplace/storage"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 500
	defaultUsersPerPage     = 100
)

// ProductForm mirrors the admin product form. Prices arrive as decimal text.
type ProductForm struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	BillingType string `json:"billing_type"`
	Price1m     string `json:"price1m"`
	Price12m    string `json:"price12m"`
	Price24m    string `json:"price24m"`
	Category    string `json:"category"`
	ImageURL    string `json:"image_url"`
	AppURL      string `json:"app_url"`
	FileKey     string `json:"file_key"`
}

func decodeProductForm(r *http.Request) (ProductForm, error) {
	var f ProductForm
	err := decodeInput(r, &f, func(get func(string) string) {
		f.Name = get("name")
		f.Description = get("description")
		f.Price = get("price")
		f.BillingType = get("billing_type")
		f.Price1m = get("price1m")
		f.Price12m = get("price12m")
		f.Price24m = get("price24m")
		f.Category = get("category")
		f.ImageURL = get("image_url")
		f.AppURL = get("app_url")
		f.FileKey = get("file_key")
	})
	return f, err
}

// apply copies the form onto p. The returned error is safe to show.
func (f ProductForm) apply(p *models.Product) error {
	price, err := money.ParseAmount(f.Price)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	tiers := map[string]**money.Amount{
		"price1m":  &p.Price1m,
		"price12m": &p.Price12m,
		"price24m": &p.Price24m,
	}
	values := map[string]string{
		"price1m":  f.Price1m,
		"price12m": f.Price12m,
		"price24m": f.Price24m,
	}
	for field, dst := range tiers {
		amount, err := money.ParseOptional(values[field])
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		*dst = amount
	}

	billingType := models.BillingType(strings.ToUpper(strings.TrimSpace(f.BillingType)))
	if billingType == "" {
		billingType = models.BillingLifetime
	}

	p.Name = strings.TrimSpace(f.Name)
	p.Description = f.Description
	p.Price = price
	p.BillingType = billingType
	p.Category = f.Category
	p.ImageURL = f.ImageURL
	p.AppURL = f.AppURL
	p.FileKey = f.FileKey
	return p.Validate()
}

func (s *Server) AdminListProducts(w http.ResponseWriter, r *http.Request) {
	s.ListProducts(w, r)
}

func (s *Server) AdminCreateProduct(w http.ResponseWriter, r *http.Request) {
	form, err := decodeProductForm(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	now := s.now().UTC()
	product := &models.Product{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	if err := form.apply(product); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.storage.CreateProduct(r.Context(), product); err != nil {
		serverError(w, r, http.StatusInternalServerError, "Failed to create product.", err, nil)
		return
	}

	logger.Info("Product created", map[string]interface{}{
		"product_id": product.ID,
		"admin_id":   UserFromContext(r.Context()).ID,
	})
	writeJSON(w, http.StatusCreated, product)
}

func (s *Server) AdminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.storage.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeErrorResponse(w, http.StatusNotFound, "Product not found.")
		return
	}
	if err != nil {
		serverError(w, r, http.StatusInternalServerError, "Failed to update product.", err, nil)
		return
	}

	form, err := decodeProductForm(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := form.apply(product); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	product.UpdatedAt = s.now().UTC()

	if err := s.storage.UpdateProduct(r.Context(), product); err != nil {
		serverError(w, r, http.StatusInternalServerError, "Failed to update product.", err, nil)
		return
	}

	logger.Info("Product updated", map[string]interface{}{
		"product_id": product.ID,
	})
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) AdminDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.storage.DeleteProduct(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeErrorResponse(w, http.StatusNotFound, "Product not found.")
		return
	case errors.Is(err, storage.ErrProductInUse):
		writeErrorResponse(w, http.StatusConflict, "Product has licenses and cannot be deleted.")
		return
	case err != nil:
		serverError(w, r, http.StatusInternalServerError, "Failed to delete product.", err, nil)
		return
	}

	logger.Info("Product deleted", map[string]interface{}{
		"product_id": id,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) AdminListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := defaultTransactionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxTransactionLimit)
	}

	txns, err := s.storage.ListRecentTransactions(r.Context(), limit)
	if err != nil {
		serverError(w, r, http.StatusInternalServerError, "Failed to load transactions.", err, nil)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

type UserForm struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.identity.ListUsers(r.Context(), defaultUsersPerPage)
	if err != nil {
		s.identityFailure(w, r, "Failed to load users.", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) AdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var form UserForm
	err := decodeInput(r, &form, func(get func(string) string) {
		form.Email = get("email")
		form.Password = get("password")
		form.Role = get("role")
	})
	if err != nil || strings.TrimSpace(form.Email) == "" || form.Password == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Email and password are required.")
		return
	}

	user, err := s.identity.CreateUser(r.Context(), strings.TrimSpace(form.Email), form.Password, form.Role == identity.RoleAdmin)
	if err != nil {
		s.identityFailure(w, r, "Failed to create user.", err)
		return
	}

	logger.Info("User created by admin", map[string]interface{}{
		"user_id": user.ID,
		"role":    user.Role,
	})
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) AdminUpdateUserRole(w http.ResponseWriter, r *http.Request) {
	var form UserForm
	err := decodeInput(r, &form, func(get func(string) string) {
		form.Role = get("role")
	})
	if err != nil || (form.Role != identity.RoleAdmin && form.Role != identity.RoleUser) {
		writeErrorResponse(w, http.StatusBadRequest, "Role must be admin or user.")
		return
	}

	user, err := s.identity.UpdateUserRole(r.Context(), chi.URLParam(r, "id"), form.Role == identity.RoleAdmin)
	if err != nil {
		s.identityFailure(w, r, "Failed to update user.", err)
		return
	}

	logger.Info("User role updated", map[string]interface{}{
		"user_id": user.ID,
		"role":    user.Role,
	})
	writeJSON(w, http.StatusOK, user)
}

// AdminDeleteUser removes the account at the identity provider. Licenses
// and transactions of the user are kept.
func (s *Server) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.identity.DeleteUser(r.Context(), id); err != nil {
		s.identityFailure(w, r, "Failed to delete user.", err)
		return
	}

	logger.Info("User deleted", map[string]interface{}{
		"user_id":  id,
		"admin_id": UserFromContext(r.Context()).ID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) identityFailure(w http.ResponseWriter, r *http.Request, message string, err error) {
	var apiErr *identity.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		writeErrorResponse(w, http.StatusNotFound, "User not found.")
		return
	}
	serverError(w, r, http.StatusBadGateway, message, err, nil)
}

type TemplateForm struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// AdminGetEmailTemplate returns the template, seeding the signup default on
// first access.
func (s *Server) AdminGetEmailTemplate(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	var (
		tmpl *models.EmailTemplate
		err  error
	)
	if slug == models.SignupTemplateSlug {
		tmpl, err = s.storage.EnsureEmailTemplate(r.Context(), models.DefaultSignupTemplate())
	} else {
		tmpl, err = s.storage.GetEmailTemplate(r.Context(), slug)
	}
	if errors.Is(err, storage.ErrNotFound) {
		writeErrorResponse(w, http.StatusNotFound, "Template not found.")
		return
	}
	if err != nil {
		serverError(w, r, http.StatusInternalServerError, "Failed to load template.", err, nil)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) AdminSaveEmailTemplate(w http.ResponseWriter, r *http.Request) {
	var form TemplateForm
	err := decodeInput(r, &form, func(get func(string) string) {
		form.Subject = get("subject")
		form.Body = get("body")
	})
	if err != nil || strings.TrimSpace(form.Subject) == "" || strings.TrimSpace(form.Body) == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Subject and body are required.")
		return
	}

	tmpl := &models.EmailTemplate{
		Slug:      chi.URLParam(r, "slug"),
		Subject:   strings.TrimSpace(form.Subject),
		Body:      form.Body,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.storage.SaveEmailTemplate(r.Context(), tmpl); err != nil {
		serverError(w, r, http.StatusInternalServerError, "Failed to save template.", err, nil)
		return
	}

	logger.Info("Email template saved", map[string]interface{}{
		"slug": tmpl.Slug,
	})
	writeJSON(w, http.StatusOK, tmpl)
}
