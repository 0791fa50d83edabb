package target

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUserExists is returned by CreateUser when the email is already
// registered.
var ErrUserExists = errors.New("user already exists")

// listPageSize is the page size used when scanning users by email.
const listPageSize = 200

// NewUser is an identity to create.
type NewUser struct {
	Email    string
	Password string
	FullName string
}

// AuthUser is an identity as returned by the admin API.
type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AuthAdmin manages identities through the auth admin REST API using the
// service role key.
type AuthAdmin struct {
	baseURL    string
	key        string
	httpClient *http.Client
}

// NewAuthAdmin creates a client for supabaseURL. A nil httpClient uses a
// client with a 30s timeout.
func NewAuthAdmin(supabaseURL, serviceRoleKey string, httpClient *http.Client) *AuthAdmin {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &AuthAdmin{
		baseURL:    strings.TrimRight(supabaseURL, "/"),
		key:        serviceRoleKey,
		httpClient: httpClient,
	}
}

// CreateUser creates a confirmed identity and returns its id.
func (a *AuthAdmin) CreateUser(ctx context.Context, u NewUser) (string, error) {
	body := map[string]any{
		"email":         u.Email,
		"password":      u.Password,
		"email_confirm": true,
		"user_metadata": map[string]string{"full_name": u.FullName},
	}
	var created AuthUser
	if err := a.do(ctx, http.MethodPost, "/auth/v1/admin/users", nil, body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("creating user %s: response has no id", u.Email)
	}
	return created.ID, nil
}

// ListUsers returns one page of identities. Pages start at 1.
func (a *AuthAdmin) ListUsers(ctx context.Context, page, perPage int) ([]AuthUser, error) {
	params := url.Values{}
	params.Set("page", fmt.Sprint(page))
	params.Set("per_page", fmt.Sprint(perPage))
	var resp struct {
		Users []AuthUser `json:"users"`
	}
	if err := a.do(ctx, http.MethodGet, "/auth/v1/admin/users", params, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// FindUserByEmail scans the user list for a case-insensitive email match
// and returns the id, or "" when no identity matches.
func (a *AuthAdmin) FindUserByEmail(ctx context.Context, email string) (string, error) {
	for page := 1; ; page++ {
		users, err := a.ListUsers(ctx, page, listPageSize)
		if err != nil {
			return "", err
		}
		for _, u := range users {
			if strings.EqualFold(u.Email, email) {
				return u.ID, nil
			}
		}
		if len(users) < listPageSize {
			return "", nil
		}
	}
}

type authError struct {
	Code      any    `json:"code"`
	ErrorCode string `json:"error_code"`
	Msg       string `json:"msg"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}

func (e authError) text() string {
	for _, s := range []string{e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (a *AuthAdmin) do(ctx context.Context, method, path string, params url.Values, in, out any) error {
	endpoint := a.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("apikey", a.key)
	req.Header.Set("Authorization", "Bearer "+a.key)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae authError
		_ = json.Unmarshal(data, &ae)
		msg := ae.text()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		if isExistsError(resp.StatusCode, ae.ErrorCode, msg) {
			return fmt.Errorf("%w: %s", ErrUserExists, msg)
		}
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func isExistsError(status int, code, msg string) bool {
	if code == "email_exists" || code == "user_already_exists" {
		return true
	}
	if status != http.StatusUnprocessableEntity && status != http.StatusConflict && status != http.StatusBadRequest {
		return false
	}
	m := strings.ToLower(msg)
	return strings.Contains(m, "already") || strings.Contains(m, "exists")
}
