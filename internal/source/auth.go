package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/johndauphine/tg-migrate/internal/config"
	"github.com/johndauphine/tg-migrate/internal/logging"
)

// earlyRefresh is how long before expiry a cached token is replaced.
const earlyRefresh = 5 * time.Minute

// NewTokenSource returns a static source when a token is configured, else a
// cached Cognito refresh-token source.
func NewTokenSource(cfg config.SourceConfig, httpClient *http.Client) (oauth2.TokenSource, error) {
	if cfg.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}), nil
	}
	if !cfg.Cognito.Complete() {
		return nil, fmt.Errorf("no source token and incomplete cognito settings")
	}
	src := &CognitoTokenSource{
		Region:       cfg.Cognito.Region,
		ClientID:     cfg.Cognito.ClientID,
		RefreshToken: cfg.Cognito.RefreshToken,
		Endpoint:     cfg.Cognito.Endpoint,
		HTTPClient:   httpClient,
	}
	return oauth2.ReuseTokenSourceWithExpiry(nil, src, earlyRefresh), nil
}

// CognitoTokenSource exchanges a refresh token for an ID token using the
// REFRESH_TOKEN_AUTH flow. It does not cache; wrap it in a reuse source.
type CognitoTokenSource struct {
	Region       string
	ClientID     string
	RefreshToken string
	// Endpoint overrides https://cognito-idp.{Region}.amazonaws.com/.
	Endpoint   string
	HTTPClient *http.Client
}

type initiateAuthRequest struct {
	AuthFlow       string            `json:"AuthFlow"`
	ClientID       string            `json:"ClientId"`
	AuthParameters map[string]string `json:"AuthParameters"`
}

type initiateAuthResponse struct {
	AuthenticationResult struct {
		AccessToken string `json:"AccessToken"`
		IdToken     string `json:"IdToken"`
		TokenType   string `json:"TokenType"`
		ExpiresIn   int    `json:"ExpiresIn"`
	} `json:"AuthenticationResult"`
}

// Token performs one refresh and returns the ID token as the bearer.
func (s *CognitoTokenSource) Token() (*oauth2.Token, error) {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/", s.Region)
	}
	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	payload, err := json.Marshal(initiateAuthRequest{
		AuthFlow:       "REFRESH_TOKEN_AUTH",
		ClientID:       s.ClientID,
		AuthParameters: map[string]string{"REFRESH_TOKEN": s.RefreshToken},
	})
	if err != nil {
		return nil, err
	}

	logging.Info("Refreshing Cognito idToken...")
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", "AWSCognitoIdentityProviderService.InitiateAuth")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cognito token refresh: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cognito token refresh: reading body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cognito token refresh failed (HTTP %d): %s", resp.StatusCode, excerpt(body))
	}

	var out initiateAuthResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("cognito token refresh: decoding response: %w", err)
	}
	idToken := out.AuthenticationResult.IdToken
	if idToken == "" {
		return nil, fmt.Errorf("cognito token refresh: response has no IdToken")
	}

	expiry := tokenExpiry(idToken, out.AuthenticationResult.ExpiresIn)
	logging.Infow("Cognito idToken refreshed", "expiresIn", out.AuthenticationResult.ExpiresIn, "expiresAt", expiry.UTC().Format(time.RFC3339))

	return &oauth2.Token{AccessToken: idToken, TokenType: "Bearer", Expiry: expiry}, nil
}

// tokenExpiry prefers ExpiresIn and falls back to the JWT exp claim. The
// token is not verified; it is only inspected.
func tokenExpiry(idToken string, expiresIn int) time.Time {
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	tok, _, err := jwt.NewParser().ParseUnverified(idToken, jwt.MapClaims{})
	if err == nil {
		if exp, err := tok.Claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	// Unknown lifetime. A zero expiry would never refresh, so use one hour.
	return time.Now().Add(time.Hour)
}
