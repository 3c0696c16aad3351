package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client authenticates device identities against the hosted auth endpoint.
type Client struct {
	baseURL    string
	serverKey  string
	httpClient *http.Client
}

// NewClient builds an HTTP authenticator. serverKey is the shared application
// key presented as basic-auth username, the convention of the hosted server.
func NewClient(baseURL, serverKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serverKey:  serverKey,
		httpClient: httpClient,
	}
}

type authenticateResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Authenticate performs device authentication. create=true makes the call
// idempotent server-side: an existing account for the identity is reused.
func (c *Client) Authenticate(ctx context.Context, identity string) (*Session, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, &AuthenticationError{Identity: identity, Err: errors.New("empty identity")}
	}

	body, err := json.Marshal(map[string]any{"id": identity, "create": true})
	if err != nil {
		return nil, &AuthenticationError{Identity: identity, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v2/account/authenticate/device", bytes.NewReader(body))
	if err != nil {
		return nil, &AuthenticationError{Identity: identity, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.serverKey, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &AuthenticationError{Identity: identity, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &AuthenticationError{
			Identity: identity,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))),
		}
	}

	var parsed authenticateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &AuthenticationError{Identity: identity, Err: err}
	}
	if parsed.Token == "" {
		return nil, &AuthenticationError{Identity: identity, Err: errors.New("empty session token")}
	}

	userID := parsed.UserID
	if userID == "" {
		userID = identity
	}

	return &Session{
		Identity:  identity,
		UserID:    userID,
		Token:     parsed.Token,
		ExpiresAt: tokenExpiry(parsed.Token),
	}, nil
}
