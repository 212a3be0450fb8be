package handlers

import (
	"errors"
	"net/http"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/billing"
)

type CheckoutRequest struct {
	ProductID string `json:"product_id"`
	Plan      string `json:"plan"`
}

// Checkout starts a hosted Stripe checkout. Browsers are redirected, API
// clients asking for JSON get the URL.
func (s *Server) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	err := decodeInput(r, &req, func(get func(string) string) {
		req.ProductID = get("product_id")
		req.Plan = get("plan")
	})
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var buyer *billing.Buyer
	if user := UserFromContext(r.Context()); user != nil {
		buyer = &billing.Buyer{ID: user.ID, Email: user.Email}
	}

	url, err := s.checkout.CreateSession(r.Context(), buyer, req.ProductID, req.Plan)
	if err != nil {
		status := checkoutStatus(err)
		s.metrics.CheckoutSession(checkoutOutcome(status))
		writeErrorResponse(w, status, billing.Message(err))
		return
	}
	s.metrics.CheckoutSession("created")

	if wantsJSON(r) || isJSONRequest(r) {
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

func checkoutStatus(err error) int {
	switch {
	case errors.Is(err, billing.ErrNotLoggedIn):
		return http.StatusUnauthorized
	case errors.Is(err, billing.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrUnknownPlan), errors.Is(err, billing.ErrPlanUnavailable):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func checkoutOutcome(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusNotFound:
		return "product_not_found"
	case http.StatusBadRequest:
		return "invalid_plan"
	default:
		return "failed"
	}
}
