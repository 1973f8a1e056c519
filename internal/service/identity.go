package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// Identity is a verified external account.
type Identity struct {
	Email string
	Name  string
}

// IdentityVerifier turns an external ID token into a verified identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (*Identity, error)
}

// GoogleTokenInfoVerifier validates Google ID tokens with the tokeninfo
// endpoint and checks the audience against the configured client id.
type GoogleTokenInfoVerifier struct {
	clientID   string
	endpoint   string
	httpClient *http.Client
}

func NewGoogleTokenInfoVerifier(clientID string) *GoogleTokenInfoVerifier {
	return &GoogleTokenInfoVerifier{
		clientID:   clientID,
		endpoint:   googleTokenInfoURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type tokenInfo struct {
	Audience      string `json:"aud"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
}

func (v *GoogleTokenInfoVerifier) Verify(ctx context.Context, idToken string) (*Identity, error) {
	endpoint := v.endpoint + "?" + url.Values{"id_token": {idToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tokeninfo request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call tokeninfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tokeninfo rejected token: status %d", resp.StatusCode)
	}

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode tokeninfo: %w", err)
	}

	if info.Audience != v.clientID {
		return nil, errors.New("token audience mismatch")
	}
	if info.EmailVerified != "true" || info.Email == "" {
		return nil, errors.New("email not verified")
	}

	return &Identity{Email: strings.ToLower(info.Email), Name: info.Name}, nil
}
