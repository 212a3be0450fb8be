package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/logger"
	"github.com/NMMonteiro/apps4eu-marketplace/models"
	"github.com/NMMonteiro/apps4eu-marketplace/storage"
)

type LicenseRequest struct {
	LicenseKey string `json:"license_key"`
	ProductID  string `json:"product_id"`
}

type ValidateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

func (lr LicenseRequest) validate() error {
	if lr.LicenseKey == "" {
		return fmt.Errorf("license_key required")
	}
	return nil
}

// ValidateLicense lets an installed app check a key. product_id is optional;
// when given the key must belong to that product.
func (s *Server) ValidateLicense(w http.ResponseWriter, r *http.Request) {
	var req LicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Empty body")
		return
	}
	if err := req.validate(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid license")
		return
	}

	license, err := s.storage.FindLicenseByKey(r.Context(), req.LicenseKey)
	if errors.Is(err, storage.ErrNotFound) {
		respondWithValidation(w, false, "License not found")
		return
	}
	if err != nil {
		serverError(w, r, http.StatusInternalServerError, "Failed to look up license", err, nil)
		return
	}

	if req.ProductID != "" && license.ProductID != req.ProductID {
		respondWithValidation(w, false, "License not valid for this product")
		return
	}
	if license.Status != models.StatusActive {
		respondWithValidation(w, false, "License not active")
		return
	}
	if !license.IsUsable(s.now()) {
		respondWithValidation(w, false, "License expired")
		return
	}

	respondWithValidation(w, true, "License valid")
}

func respondWithValidation(w http.ResponseWriter, valid bool, message string) {
	writeJSON(w, http.StatusOK, ValidateResponse{
		Valid:   valid,
		Message: message,
	})
}

func (s *Server) MyLicenses(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	activeOnly := r.URL.Query().Get("active") == "true"

	licenses, err := s.storage.ListLicensesByUser(r.Context(), user.ID, activeOnly)
	if err != nil {
		serverError(w, r, http.StatusInternalServerError, "Failed to load licenses", err, map[string]interface{}{
			"user_id": user.ID,
		})
		return
	}
	if licenses == nil {
		licenses = []*models.LicenseWithProduct{}
	}
	writeJSON(w, http.StatusOK, licenses)
}

// Download sends the buyer to a short-lived signed URL for the product's
// package. Only holders of a usable license get one.
func (s *Server) Download(w http.ResponseWriter, r *http.Request) {
	if s.presigner == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Downloads are not available.")
		return
	}

	user := UserFromContext(r.Context())
	productID := chi.URLParam(r, "productID")

	product, err := s.storage.GetProduct(r.Context(), productID)
	if errors.Is(err, storage.ErrNotFound) {
		writeErrorResponse(w, http.StatusNotFound, "Product not found.")
		return
	}
	if err != nil {
		serverError(w, r, http.StatusInternalServerError, "Failed to load product", err, nil)
		return
	}

	owns, err := s.storage.UserOwnsActiveLicense(r.Context(), user.ID, product.ID, s.now())
	if err != nil {
		serverError(w, r, http.StatusInternalServerError, "Failed to check license", err, nil)
		return
	}
	if !owns {
		logger.Warn("Download denied without license", map[string]interface{}{
			"user_id":    user.ID,
			"product_id": product.ID,
		})
		writeErrorResponse(w, http.StatusForbidden, "You do not have an active license for this product.")
		return
	}
	if product.FileKey == "" {
		writeErrorResponse(w, http.StatusNotFound, "No download available for this product.")
		return
	}

	signed, err := s.presigner.PresignDownload(r.Context(), product.FileKey, s.downloadTTL)
	if err != nil {
		serverError(w, r, http.StatusBadGateway, "Failed to prepare download", err, map[string]interface{}{
			"product_id": product.ID,
		})
		return
	}

	logger.Info("Download URL issued", map[string]interface{}{
		"user_id":    user.ID,
		"product_id": product.ID,
	})
	http.Redirect(w, r, signed, http.StatusFound)
}

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}} - Apps4EU</title></head>
<body>
  <h1>{{.Title}}</h1>
  <p>Signed in as {{.Email}}</p>
  {{if .Licenses}}
  <table>
    <thead><tr><th>Product</th><th>License Key</th><th>Status</th><th>Expires</th><th></th></tr></thead>
    <tbody>
    {{range .Licenses}}
      <tr>
        <td>{{.Product.Name}}</td>
        <td><code>{{.Key}}</code></td>
        <td>{{.Status}}</td>
        <td>{{if .ExpiresAt}}{{.ExpiresAt.Format "2006-01-02"}}{{else}}Never{{end}}</td>
        <td><a href="/download/{{.ProductID}}">Download</a></td>
      </tr>
    {{end}}
    </tbody>
  </table>
  {{else}}
  <p>No licenses yet. <a href="/marketplace">Browse the marketplace</a>.</p>
  {{end}}
</body>
</html>
`))

func (s *Server) Dashboard(w http.ResponseWriter, r *http.Request) {
	s.renderLicenses(w, r, "Dashboard", false)
}

// Vault lists only the licenses that are currently active.
func (s *Server) Vault(w http.ResponseWriter, r *http.Request) {
	s.renderLicenses(w, r, "Vault", true)
}

func (s *Server) renderLicenses(w http.ResponseWriter, r *http.Request, title string, activeOnly bool) {
	user := UserFromContext(r.Context())

	licenses, err := s.storage.ListLicensesByUser(r.Context(), user.ID, activeOnly)
	if err != nil {
		logger.Error("Failed to load licenses", map[string]interface{}{
			"error":   err.Error(),
			"user_id": user.ID,
		})
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = dashboardTemplate.Execute(w, map[string]interface{}{
		"Title":    title,
		"Email":    user.Email,
		"Licenses": licenses,
	})
	if err != nil {
		logger.Error("Failed to render dashboard", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
