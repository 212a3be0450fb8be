package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/fulfillment"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/logger"
)

const maxWebhookBytes = int64(65536)

func (s *Server) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("Failed to read webhook payload", map[string]interface{}{
			"error": err.Error(),
		})
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorResponse(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		writeErrorResponse(w, http.StatusServiceUnavailable, "Failed to read payload")
		return
	}

	event, err := s.gateway.ConstructEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		logger.Warn("Webhook signature verification failed", map[string]interface{}{
			"error":       err.Error(),
			"remote_addr": r.RemoteAddr,
		})
		s.metrics.WebhookEvent("unknown", "invalid_signature")
		writeErrorResponse(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	logger.Info("Stripe event received", map[string]interface{}{
		"event_type": event.Type,
		"event_id":   event.ID,
	})

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		s.checkoutCompleted(w, r, event)
		return
	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			s.rejectEvent(w, event, "Malformed subscription", err)
			return
		}
		if _, err := s.fulfillment.HandleSubscriptionDeleted(r.Context(), sub.ID); err != nil {
			s.metrics.WebhookEvent(string(event.Type), "failed")
			serverError(w, r, http.StatusInternalServerError, "Failed to update licenses", err, map[string]interface{}{
				"event_id": event.ID,
			})
			return
		}
	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentFailed:
		invoice, err := fulfillment.ParseInvoice(event.Data.Raw)
		if err != nil {
			s.rejectEvent(w, event, "Malformed invoice", err)
			return
		}
		if event.Type == stripe.EventTypeInvoicePaid {
			_, err = s.fulfillment.HandleInvoicePaid(r.Context(), invoice.SubscriptionID, invoice.PeriodEnd)
		} else {
			_, err = s.fulfillment.HandleInvoicePaymentFailed(r.Context(), invoice.SubscriptionID)
		}
		if err != nil {
			s.metrics.WebhookEvent(string(event.Type), "failed")
			serverError(w, r, http.StatusInternalServerError, "Failed to update licenses", err, map[string]interface{}{
				"event_id":   event.ID,
				"invoice_id": invoice.ID,
			})
			return
		}
	default:
		logger.Info("Unhandled webhook event type", map[string]interface{}{
			"event_type": event.Type,
			"event_id":   event.ID,
		})
		s.metrics.WebhookEvent(string(event.Type), "ignored")
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	s.metrics.WebhookEvent(string(event.Type), "processed")
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) checkoutCompleted(w http.ResponseWriter, r *http.Request, event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		s.rejectEvent(w, event, "Malformed checkout session", err)
		return
	}

	result, err := s.fulfillment.HandleCheckoutCompleted(r.Context(), &session)
	switch {
	case errors.Is(err, fulfillment.ErrMissingMetadata):
		s.rejectEvent(w, event, "Missing metadata", err)
		return
	case errors.Is(err, fulfillment.ErrProductNotFound):
		logger.Warn("Checkout for unknown product", map[string]interface{}{
			"event_id":   event.ID,
			"session_id": session.ID,
		})
		s.metrics.WebhookEvent(string(event.Type), "product_not_found")
		writeErrorResponse(w, http.StatusNotFound, "Product not found")
		return
	case err != nil:
		s.metrics.WebhookEvent(string(event.Type), "failed")
		serverError(w, r, http.StatusInternalServerError, "Failed to fulfill checkout", err, map[string]interface{}{
			"event_id":   event.ID,
			"session_id": session.ID,
		})
		return
	}

	outcome := "fulfilled"
	if result.Duplicate {
		outcome = "duplicate"
	}
	s.metrics.WebhookEvent(string(event.Type), outcome)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) rejectEvent(w http.ResponseWriter, event stripe.Event, message string, err error) {
	logger.Warn("Rejected webhook event", map[string]interface{}{
		"error":      err.Error(),
		"event_id":   event.ID,
		"event_type": event.Type,
	})
	s.metrics.WebhookEvent(string(event.Type), "rejected")
	writeErrorResponse(w, http.StatusBadRequest, message)
}
