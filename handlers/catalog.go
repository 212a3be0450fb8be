package handlers

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/logger"
	"github.com/NMMonteiro/apps4eu-marketplace/storage"
)

func (s *Server) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.storage.ListProducts(r.Context())
	if err != nil {
		serverError(w, r, http.StatusInternalServerError, "Failed to load products", err, nil)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.storage.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeErrorResponse(w, http.StatusNotFound, "Product not found.")
		return
	}
	if err != nil {
		serverError(w, r, http.StatusInternalServerError, "Failed to load product", err, nil)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

var demoTemplate = template.Must(template.New("demo").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Demo - {{.Name}}</title>
  <style>
    html, body { margin: 0; height: 100%; background: #0F172A; font-family: sans-serif; }
    header { height: 64px; background: #fff; display: flex; align-items: center; justify-content: space-between; padding: 0 24px; }
    header small { color: #b45309; }
    main { height: calc(100% - 104px); }
    iframe { width: 100%; height: 100%; border: 0; user-select: none; -webkit-user-select: none; }
    footer { height: 40px; color: rgba(255,255,255,.4); font-size: 10px; text-transform: uppercase; letter-spacing: .2em; display: flex; align-items: center; justify-content: center; }
    @media print { body { display: none !important; } }
  </style>
</head>
<body>
  <header>
    <div>
      <a href="/marketplace">&larr;</a>
      <strong>Demo Mode: {{.Name}}</strong><br>
      <small>Limitations Active: Export/Print/Copy Disabled</small>
    </div>
    <a href="/marketplace">Get Full Access</a>
  </header>
  <main>
    <iframe src="{{.AppURL}}" title="Demo - {{.Name}}" sandbox="allow-scripts allow-same-origin allow-forms"></iframe>
  </main>
  <footer>Apps4EU Projects Demo Environment</footer>
  <script>
    document.addEventListener('contextmenu', function (e) { e.preventDefault(); });
    document.addEventListener('keydown', function (e) {
      if ((e.ctrlKey || e.metaKey) && ['c', 'v', 'p', 's'].indexOf(e.key) !== -1) {
        e.preventDefault();
        alert('Actions are disabled in Demo Mode. Purchase a license to unlock full features!');
      }
    });
  </script>
</body>
</html>
`))

// DemoPage frames the product's hosted app. The copy and print blocking is
// a deterrent only; downloads are gated by license checks.
func (s *Server) DemoPage(w http.ResponseWriter, r *http.Request) {
	product, err := s.storage.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) || (err == nil && product.AppURL == "") {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		logger.Error("Failed to load demo product", map[string]interface{}{
			"error": err.Error(),
		})
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Frame-Options", "DENY")
	if err := demoTemplate.Execute(w, product); err != nil {
		logger.Error("Failed to render demo page", map[string]interface{}{
			"error":      err.Error(),
			"product_id": product.ID,
		})
	}
}
