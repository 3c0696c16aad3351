// Package directory resolves identities to display labels through the
// hosted profile store. The chat core depends on it for nothing else;
// message storage never touches it.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Resolver maps an identity to a human-readable display name.
type Resolver interface {
	DisplayName(ctx context.Context, identity string) (string, error)
}

// HTTPResolver reads profiles from the content store's REST surface,
// memoizing results: display names change rarely and toasts should not block
// on repeated lookups.
type HTTPResolver struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	names map[string]string
}

// NewHTTPResolver builds a resolver against the profile store base URL.
func NewHTTPResolver(baseURL string, httpClient *http.Client) *HTTPResolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPResolver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		names:      make(map[string]string),
	}
}

type profileResponse struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
}

// DisplayName resolves one identity. Unknown profiles fall back to the raw
// identity rather than failing the caller.
func (r *HTTPResolver) DisplayName(ctx context.Context, identity string) (string, error) {
	r.mu.RLock()
	name, ok := r.names[identity]
	r.mu.RUnlock()
	if ok {
		return name, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.baseURL+"/profiles/"+url.PathEscape(identity), nil)
	if err != nil {
		return identity, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return identity, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return identity, nil
	}
	if resp.StatusCode != http.StatusOK {
		return identity, fmt.Errorf("profile lookup: status %d", resp.StatusCode)
	}

	var parsed profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return identity, err
	}
	name = parsed.DisplayName
	if name == "" {
		name = identity
	}

	r.mu.Lock()
	r.names[identity] = name
	r.mu.Unlock()
	return name, nil
}
