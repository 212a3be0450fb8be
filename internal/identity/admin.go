package identity

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

type appMetadata struct {
	Role string `json:"role"`
}

func roleFor(admin bool) string {
	if admin {
		return RoleAdmin
	}
	return RoleUser
}

// ListUsers returns the first page of accounts, up to perPage.
func (c *Client) ListUsers(ctx context.Context, perPage int) ([]*User, error) {
	q := url.Values{}
	q.Set("page", "1")
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}

	var resp struct {
		Users []wireUser `json:"users"`
	}
	if err := c.admin(ctx, http.MethodGet, "/auth/v1/admin/users?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	users := make([]*User, 0, len(resp.Users))
	for _, wu := range resp.Users {
		users = append(users, wu.user())
	}
	return users, nil
}

// CreateUser adds a pre-confirmed account.
func (c *Client) CreateUser(ctx context.Context, email, password string, admin bool) (*User, error) {
	body := struct {
		Email        string      `json:"email"`
		Password     string      `json:"password"`
		EmailConfirm bool        `json:"email_confirm"`
		AppMetadata  appMetadata `json:"app_metadata"`
	}{email, password, true, appMetadata{Role: roleFor(admin)}}

	var wu wireUser
	if err := c.admin(ctx, http.MethodPost, "/auth/v1/admin/users", body, &wu); err != nil {
		return nil, err
	}
	return wu.user(), nil
}

func (c *Client) UpdateUserRole(ctx context.Context, id string, admin bool) (*User, error) {
	body := struct {
		AppMetadata appMetadata `json:"app_metadata"`
	}{appMetadata{Role: roleFor(admin)}}

	var wu wireUser
	if err := c.admin(ctx, http.MethodPut, "/auth/v1/admin/users/"+url.PathEscape(id), body, &wu); err != nil {
		return nil, err
	}
	return wu.user(), nil
}

// DeleteUser removes the account. Licenses and transactions stay behind.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.admin(ctx, http.MethodDelete, "/auth/v1/admin/users/"+url.PathEscape(id), nil, nil)
}
