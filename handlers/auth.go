package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/email"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/identity"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/logger"
	"github.com/NMMonteiro/apps4eu-marketplace/models"
)

const signupEmailTimeout = 10 * time.Second

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c Credentials) valid() bool {
	return strings.TrimSpace(c.Email) != "" && c.Password != ""
}

func decodeCredentials(r *http.Request) (Credentials, error) {
	var creds Credentials
	err := decodeInput(r, &creds, func(get func(string) string) {
		creds.Email = get("email")
		creds.Password = get("password")
	})
	creds.Email = strings.TrimSpace(creds.Email)
	return creds, err
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	creds, err := decodeCredentials(r)
	if err != nil || !creds.valid() {
		writeErrorResponse(w, http.StatusBadRequest, "Email and password are required.")
		return
	}

	session, err := s.identity.SignInWithPassword(r.Context(), creds.Email, creds.Password)
	if err != nil {
		logger.Warn("Login failed", map[string]interface{}{
			"email": creds.Email,
			"error": err.Error(),
		})
		var apiErr *identity.APIError
		if errors.As(err, &apiErr) {
			writeErrorResponse(w, http.StatusUnauthorized, apiErr.Error())
			return
		}
		writeErrorResponse(w, http.StatusBadGateway, "Unexpected system error. Check server logs.")
		return
	}

	s.setSessionCookie(w, session)
	logger.Info("User logged in", map[string]interface{}{
		"user_id": session.User.ID,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":     session.User,
		"redirect": "/dashboard",
	})
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Signup registers the account and mails the confirmation link using the
// admin-editable signup template. Mail failures do not fail the signup.
func (s *Server) Signup(w http.ResponseWriter, r *http.Request) {
	creds, err := decodeCredentials(r)
	if err != nil || !creds.valid() {
		writeErrorResponse(w, http.StatusBadRequest, "Email and password are required.")
		return
	}

	result, err := s.identity.SignUp(r.Context(), creds.Email, creds.Password)
	if err != nil {
		logger.Warn("Signup failed", map[string]interface{}{
			"email": creds.Email,
			"error": err.Error(),
		})
		var apiErr *identity.APIError
		if errors.As(err, &apiErr) {
			writeErrorResponse(w, http.StatusBadRequest, apiErr.Message)
			return
		}
		writeErrorResponse(w, http.StatusBadGateway, "Failed to create account.")
		return
	}

	if result.TokenHash != "" {
		s.sendSignupEmail(r.Context(), creds.Email, result.TokenHash)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Check your email to confirm your account.",
	})
}

func (s *Server) sendSignupEmail(ctx context.Context, to, tokenHash string) {
	tmpl, err := s.storage.EnsureEmailTemplate(ctx, models.DefaultSignupTemplate())
	if err != nil {
		logger.Error("Failed to load signup template", map[string]interface{}{
			"error": err.Error(),
		})
		s.metrics.Email("signup", "failed")
		return
	}

	link := s.siteURL + "/auth/confirm?" + url.Values{
		"token_hash": {tokenHash},
		"type":       {"signup"},
	}.Encode()

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), signupEmailTimeout)
	defer cancel()
	if err := s.mailer.Send(sendCtx, email.SignupEmail(tmpl, to, link)); err != nil {
		logger.Error("Failed to send signup email", map[string]interface{}{
			"error": err.Error(),
			"to":    to,
		})
		s.metrics.Email("signup", "failed")
		return
	}
	s.metrics.Email("signup", "sent")
}

// ConfirmEmail verifies the emailed token hash, signs the user in and sends
// them on to next (default /dashboard).
func (s *Server) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokenHash, otpType := q.Get("token_hash"), q.Get("type")
	next := q.Get("next")
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		next = "/dashboard"
	}

	if tokenHash != "" && otpType != "" {
		session, err := s.identity.VerifyOTP(r.Context(), tokenHash, otpType)
		if err == nil {
			s.setSessionCookie(w, session)
			logger.Info("User verified", map[string]interface{}{
				"user_id": session.User.ID,
			})
			http.Redirect(w, r, s.siteURL+next, http.StatusFound)
			return
		}
		logger.Warn("Email confirmation failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	http.Redirect(w, r, "/login?error=confirmation-failed", http.StatusFound)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, session *identity.Session) {
	maxAge := session.ExpiresIn
	if maxAge <= 0 {
		maxAge = 3600
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.AccessToken,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) secureCookies() bool {
	return strings.HasPrefix(s.siteURL, "https://")
}
