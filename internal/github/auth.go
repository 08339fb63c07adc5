package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// tokenSource builds the oauth2 source for whichever credentials the run
// has: a plain token (the usual GITHUB_TOKEN path) or a GitHub App key,
// which is exchanged for short-lived installation tokens on demand.
func tokenSource(cfg AuthConfig) (oauth2.TokenSource, error) {
	if cfg.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}), nil
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.AppPrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse app private key: %w", err)
	}

	source := &appInstallationSource{
		appID:          cfg.AppID,
		installationID: cfg.AppInstallationID,
		privateKey:     privateKey,
		baseURL:        cfg.BaseURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
	// ReuseTokenSource caches the installation token until it expires.
	return oauth2.ReuseTokenSource(nil, source), nil
}

// AuthConfig carries the credentials half of the GitHub configuration.
type AuthConfig struct {
	Token             string
	AppID             int64
	AppInstallationID int64
	AppPrivateKey     string
	BaseURL           string
}

// appInstallationSource mints GitHub App installation tokens: a short-lived
// RS256 app JWT authorizes the token exchange.
type appInstallationSource struct {
	appID          int64
	installationID int64
	privateKey     interface{}
	baseURL        string
	httpClient     *http.Client
}

func (s *appInstallationSource) Token() (*oauth2.Token, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Add(-30 * time.Second).Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
		"iss": s.appID,
	}
	appJWT, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign app JWT: %w", err)
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", s.baseURL, s.installationID)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("installation token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("installation token request returned %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode installation token: %w", err)
	}

	return &oauth2.Token{
		AccessToken: tokenResp.Token,
		Expiry:      tokenResp.ExpiresAt,
	}, nil
}
