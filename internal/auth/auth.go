package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"livedash/internal/api"
	"livedash/internal/logger"

	json "github.com/goccy/go-json"
)

// LoginPath is the backend's token endpoint.
const LoginPath = "/api/v1/auth/login"

var ErrLoginFailed = errors.New("login failed")

// TokenSink receives the token after a successful login.
type TokenSink interface {
	Set(token string) error
}

// LoginError carries the server-provided detail of a rejected login.
type LoginError struct {
	StatusCode int
	Detail     string
}

func (e *LoginError) Error() string {
	return e.Detail
}

func (e *LoginError) Is(target error) bool {
	return target == ErrLoginFailed
}

type Client struct {
	api  *api.Client
	sink TokenSink
}

func NewClient(apiBase string, sink TokenSink, opts ...api.ClientOption) *Client {
	opts = append([]api.ClientOption{api.WithBaseURL(apiBase), api.WithLogging(true)}, opts...)
	return &Client{
		api:  api.NewClient(opts...),
		sink: sink,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Login exchanges username and password for a token and stores it in the
// sink so the next dashboard activation can use it.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	op := logger.StartOperation(ctx, "auth.Login", "username", username)
	ctx = op.GetContext()

	form := url.Values{
		"username": {username},
		"password": {password},
	}
	resp, err := c.api.PostForm(ctx, LoginPath, form)
	if err != nil {
		var httpErr *api.HTTPError
		if errors.As(err, &httpErr) {
			loginErr := &LoginError{StatusCode: httpErr.StatusCode, Detail: detailOf(httpErr.Body)}
			op.EndWithError(loginErr, "status", httpErr.StatusCode)
			return "", loginErr
		}
		op.EndWithError(err)
		return "", fmt.Errorf("login request failed: %w", err)
	}

	var tok tokenResponse
	if err := resp.ParseJSON(&tok); err != nil {
		op.EndWithError(err)
		return "", err
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		err := errors.New("login response missing access_token")
		op.EndWithError(err)
		return "", err
	}

	if err := c.sink.Set(tok.AccessToken); err != nil {
		op.EndWithError(err)
		return "", fmt.Errorf("failed to store token: %w", err)
	}

	op.End()
	logger.Info(ctx, "Login succeeded", "username", username)
	return tok.AccessToken, nil
}

func detailOf(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Detail != "" {
		return e.Detail
	}
	return "Login failed"
}
