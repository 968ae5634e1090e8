package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type (
	// ProviderVerifier resolves provider-issued tokens by asking the
	// identity provider who they belong to.
	ProviderVerifier struct {
		baseURL string
		client  *http.Client
	}

	verifyRequest struct {
		AccessToken string `json:"access_token"`
	}

	verifyResponse struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
)

var _ Verifier = (*ProviderVerifier)(nil)

func NewProviderVerifier(baseURL string, client *http.Client) *ProviderVerifier {
	if client == nil {
		client = http.DefaultClient
	}

	return &ProviderVerifier{baseURL: baseURL, client: client}
}

func (v *ProviderVerifier) Verify(ctx context.Context, raw string) (string, error) {
	var b bytes.Buffer

	if err := json.NewEncoder(&b).Encode(verifyRequest{AccessToken: raw}); err != nil {
		return "", fmt.Errorf("failed to encode request to json: %w", err)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL, &b)
	if err != nil {
		return "", fmt.Errorf("failed to create new request: %w", err)
	}

	r.Header.Set("Content-Type", "application/json")

	s, err := v.client.Do(r)
	if err != nil {
		return "", fmt.Errorf("failed to perform request: %w", err)
	}

	defer s.Body.Close()

	if s.StatusCode != http.StatusOK {
		return "", ErrInvalidSession
	}

	var u verifyResponse
	if err := json.NewDecoder(s.Body).Decode(&u); err != nil {
		return "", fmt.Errorf("failed to decode json to user: %w", err)
	}

	if u.ID == "" {
		return "", ErrInvalidSession
	}

	return u.ID, nil
}
