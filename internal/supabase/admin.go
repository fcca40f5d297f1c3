// Package supabase is a small client for the auth provider's admin API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"photorestore/internal/config"
)

var (
	ErrNotConfigured = errors.New("supabase: url and service key are required")
	ErrUserExists    = errors.New("supabase: user already exists")
)

const DefaultPageSize = 50

type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

type CreateUserParams struct {
	ID           string         `json:"id,omitempty"`
	Email        string         `json:"email"`
	PasswordHash string         `json:"password_hash,omitempty"`
	EmailConfirm bool           `json:"email_confirm"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

// StatusError is a non-2xx admin API response.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase: %d %s", e.Status, e.Message)
}

// Admin calls /auth/v1/admin with the service role key.
type Admin struct {
	authURL    string
	serviceKey string
	httpClient *http.Client
}

func NewAdmin(cfg config.SupabaseConfig, httpClient *http.Client) (*Admin, error) {
	if cfg.URL == "" || cfg.ServiceKey == "" {
		return nil, ErrNotConfigured
	}
	base := strings.TrimRight(cfg.URL, "/")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid supabase url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Admin{
		authURL:    base + "/auth/v1",
		serviceKey: cfg.ServiceKey,
		httpClient: httpClient,
	}, nil
}

// CreateUser creates a user. An address that is already registered yields
// ErrUserExists.
func (a *Admin) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return User{}, fmt.Errorf("encode user: %w", err)
	}
	raw, err := a.request(ctx, http.MethodPost, "/admin/users", body)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && isDuplicate(se) {
			return User{}, fmt.Errorf("%w: %s", ErrUserExists, params.Email)
		}
		return User{}, err
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	return user, nil
}

// ListUsers returns one page of users, numbered from 1.
func (a *Admin) ListUsers(ctx context.Context, page, perPage int) ([]User, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	raw, err := a.request(ctx, http.MethodGet, "/admin/users?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Users []User `json:"users"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return out.Users, nil
}

// AllUsers pages through the user list until a short page.
func (a *Admin) AllUsers(ctx context.Context, perPage int) ([]User, error) {
	if perPage <= 0 {
		perPage = DefaultPageSize
	}
	var all []User
	for page := 1; ; page++ {
		users, err := a.ListUsers(ctx, page, perPage)
		if err != nil {
			return nil, fmt.Errorf("list users page %d: %w", page, err)
		}
		all = append(all, users...)
		if len(users) < perPage {
			return all, nil
		}
	}
}

func (a *Admin) request(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.authURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", a.serviceKey)
	req.Header.Set("Authorization", "Bearer "+a.serviceKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, raw)
	}
	return raw, nil
}

func statusError(status int, raw []byte) *StatusError {
	se := &StatusError{Status: status, Message: http.StatusText(status)}
	if !gjson.ValidBytes(raw) {
		return se
	}
	doc := gjson.ParseBytes(raw)
	se.Code = doc.Get("error_code").String()
	for _, field := range []string{"msg", "message", "error_description", "error"} {
		if v := doc.Get(field); v.Type == gjson.String && v.String() != "" {
			se.Message = v.String()
			break
		}
	}
	return se
}

func isDuplicate(se *StatusError) bool {
	if se.Code == "email_exists" || se.Code == "user_already_exists" {
		return true
	}
	return se.Status == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(se.Message), "already been registered")
}
