// Package identity talks to Supabase Auth: session tokens, password sign
// in, signup confirmation and the admin user API.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var (
	ErrUnauthenticated = errors.New("identity: not authenticated")
	ErrAdminDisabled   = errors.New("identity: service role key not configured")
)

// APIError is a non-2xx answer from Supabase Auth.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (Code: %d)", e.Message, e.Status)
}

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSignInAt *time.Time `json:"last_sign_in_at,omitempty"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         *User  `json:"user"`
}

// SignUpResult carries the token hash the confirmation link is built from.
// TokenHash is empty when Supabase mails the confirmation itself.
type SignUpResult struct {
	User      *User
	TokenHash string
}

type Config struct {
	URL            string
	AnonKey        string
	ServiceRoleKey string
	JWTSecret      string
	HTTPClient     *http.Client
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// UserFromToken resolves the user behind an access token. Tokens are checked
// locally when the JWT secret is known and against Supabase otherwise.
func (c *Client) UserFromToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	if c.cfg.JWTSecret != "" {
		if user, err := c.userFromClaims(token); err == nil {
			return user, nil
		}
	}

	var wu wireUser
	err := c.do(ctx, http.MethodGet, "/auth/v1/user", "Bearer "+token, c.cfg.AnonKey, nil, &wu)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return wu.user(), nil
}

type supabaseClaims struct {
	Email       string `json:"email"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
	jwt.RegisteredClaims
}

func (c *Client) userFromClaims(token string) (*User, error) {
	var claims supabaseClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(c.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, fmt.Errorf("jwt parse: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("jwt has no subject")
	}

	user := &User{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  roleOrDefault(claims.AppMetadata.Role),
	}
	if claims.IssuedAt != nil {
		user.CreatedAt = claims.IssuedAt.Time
	}
	return user, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}

	var ws wireSession
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "Bearer "+c.cfg.AnonKey, c.cfg.AnonKey, body, &ws); err != nil {
		return nil, err
	}
	return ws.session(), nil
}

// SignUp registers the account. With a service role key the confirmation
// link is generated here so the storefront can send its own email.
func (c *Client) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	if c.cfg.ServiceRoleKey == "" {
		var wu wireUser
		body := map[string]string{"email": email, "password": password}
		if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", "Bearer "+c.cfg.AnonKey, c.cfg.AnonKey, body, &wu); err != nil {
			return nil, err
		}
		return &SignUpResult{User: wu.user()}, nil
	}

	body := map[string]string{"type": "signup", "email": email, "password": password}
	var link struct {
		wireUser
		HashedToken string `json:"hashed_token"`
	}
	if err := c.admin(ctx, http.MethodPost, "/auth/v1/admin/generate_link", body, &link); err != nil {
		return nil, err
	}
	return &SignUpResult{User: link.wireUser.user(), TokenHash: link.HashedToken}, nil
}

// VerifyOTP exchanges an emailed token hash for a session.
func (c *Client) VerifyOTP(ctx context.Context, tokenHash, otpType string) (*Session, error) {
	body := map[string]string{"type": otpType, "token_hash": tokenHash}

	var ws wireSession
	if err := c.do(ctx, http.MethodPost, "/auth/v1/verify", "Bearer "+c.cfg.AnonKey, c.cfg.AnonKey, body, &ws); err != nil {
		return nil, err
	}
	return ws.session(), nil
}

func (c *Client) admin(ctx context.Context, method, path string, body, out interface{}) error {
	if c.cfg.ServiceRoleKey == "" {
		return ErrAdminDisabled
	}
	return c.do(ctx, method, path, "Bearer "+c.cfg.ServiceRoleKey, c.cfg.ServiceRoleKey, body, out)
}

func (c *Client) do(ctx context.Context, method, path, authorization, apiKey string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("apikey", apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("supabase %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode supabase response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &payload)

	msg := payload.Msg
	for _, candidate := range []string{payload.Message, payload.ErrorDescription, payload.Error} {
		if msg == "" {
			msg = candidate
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

type wireUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSignInAt *time.Time `json:"last_sign_in_at"`
}

func (w wireUser) user() *User {
	return &User{
		ID:           w.ID,
		Email:        w.Email,
		Role:         roleOrDefault(w.AppMetadata.Role),
		CreatedAt:    w.CreatedAt,
		LastSignInAt: w.LastSignInAt,
	}
}

type wireSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int       `json:"expires_in"`
	User         *wireUser `json:"user"`
}

func (w wireSession) session() *Session {
	s := &Session{
		AccessToken:  w.AccessToken,
		RefreshToken: w.RefreshToken,
		ExpiresIn:    w.ExpiresIn,
	}
	if w.User != nil {
		s.User = w.User.user()
	}
	return s
}

func roleOrDefault(role string) string {
	if role == "" {
		return RoleUser
	}
	return role
}
