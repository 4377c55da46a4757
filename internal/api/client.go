package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// requestTimeout is the fixed overall timeout on every backend call.
const requestTimeout = 15 * time.Second

// TokenSource supplies the bearer token for each request. It is read per
// request so a token issued by login takes effect without restarting.
type TokenSource func() string

// APIError is a non-2xx backend response with its decoded message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Client talks to the chatty REST backend.
type Client struct {
	baseURL string
	token   TokenSource
	http    *http.Client
}

// NewClient creates a client for the given API base URL (".../api").
func NewClient(baseURL string, token TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// CheckAuth queries the backend for the current identity.
func (c *Client) CheckAuth(ctx context.Context) (*User, error) {
	var resp checkAuthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/auth/check", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// Login exchanges credentials for an identity and a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{"email": email, "password": password}
	var resp AuthResult
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Signup registers a new account.
func (c *Client) Signup(ctx context.Context, name, email, password string) (*AuthResult, error) {
	body := map[string]string{"name": name, "email": email, "password": password}
	var resp AuthResult
	if err := c.doJSON(ctx, http.MethodPost, "/auth/signup", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout invalidates the session on the backend.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// UpdateProfile uploads a new avatar image (multipart field "profile").
func (c *Client) UpdateProfile(ctx context.Context, avatar io.Reader, filename string) (*User, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("profile", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, avatar); err != nil {
		return nil, fmt.Errorf("read avatar: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var resp updateProfileResponse
	if err := c.doMultipart(ctx, http.MethodPut, "/auth/update-profile", &buf, mw.FormDataContentType(), &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// Users fetches the roster snapshot.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var resp userListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/messages/side-user-list", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Messages fetches the full message history with a partner.
func (c *Client) Messages(ctx context.Context, partnerID string) ([]Message, error) {
	var resp messageListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/messages/"+partnerID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage posts a message to the partner-scoped endpoint. image may be
// nil for text-only messages. Returns the server-echoed record.
func (c *Client) SendMessage(ctx context.Context, partnerID, text string, image io.Reader, filename string) (*Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if text != "" {
		if err := mw.WriteField("text", text); err != nil {
			return nil, err
		}
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", filename)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(fw, image); err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var resp sendMessageResponse
	if err := c.doMultipart(ctx, http.MethodPost, "/messages/send/"+partnerID, &buf, mw.FormDataContentType(), &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) doMultipart(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var body errorResponse
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Message != "" {
			apiErr.Message = body.Message
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
