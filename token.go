package webinar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Refresh the access token when it expires within this margin.
const refreshMargin = 60 * time.Second

type (
	// Credentials is the OAuth token pair for the single Webex user who
	// authorized webinar scheduling.
	Credentials struct {
		AccessToken  string    `json:"access_token" bson:"accessToken"`
		RefreshToken string    `json:"refresh_token" bson:"refreshToken"`
		ExpiresAt    time.Time `json:"-" bson:"expiresAt"`
	}

	// CredentialStore persists Credentials across restarts.
	CredentialStore interface {
		SaveCredentials(ctx context.Context, c Credentials) error
		// LoadCredentials returns zero Credentials, not an error, when
		// nothing has been persisted yet.
		LoadCredentials(ctx context.Context) (Credentials, error)
	}

	// TokenStore hands out a valid access token for the authorized user,
	// refreshing it transparently before expiry. There is one authorized
	// principal at a time; concurrent readers share one refresh.
	TokenStore struct {
		// Base OAuth endpoint. Default: "https://webexapis.com/v1"
		oauthURL     string
		client       http.Client
		clientID     string
		clientSecret string
		store        CredentialStore
		logger       *slog.Logger

		mu    sync.Mutex
		creds Credentials
	}

	TokenStoreOptions struct {
		// Overrides the Webex OAuth base URL for testing.
		// Default: "https://webexapis.com/v1"
		baseOAuthOverride string
		clientID          string
		clientSecret      string
		// Optional persistence; nil keeps tokens in memory only.
		store  CredentialStore
		logger *slog.Logger
	}

	// tokenResponse is the Webex access_token endpoint response body.
	tokenResponse struct {
		AccessToken           string `json:"access_token"`
		ExpiresIn             int    `json:"expires_in"`
		RefreshToken          string `json:"refresh_token"`
		RefreshTokenExpiresIn int    `json:"refresh_token_expires_in"`
	}
)

func NewTokenStore(o TokenStoreOptions) *TokenStore {
	oauthURL := "https://webexapis.com/v1"
	if len(o.baseOAuthOverride) > 0 {
		oauthURL = o.baseOAuthOverride
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenStore{
		oauthURL:     oauthURL,
		client:       *http.DefaultClient,
		clientID:     o.clientID,
		clientSecret: o.clientSecret,
		store:        o.store,
		logger:       logger,
	}
}

// Hydrate loads previously persisted credentials so a restart does not force
// the user through the authorization flow again.
func (ts *TokenStore) Hydrate(ctx context.Context) error {
	if ts.store == nil {
		return nil
	}
	creds, err := ts.store.LoadCredentials(ctx)
	if err != nil {
		return fmt.Errorf("loadCredentials: %w", err)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.creds = creds
	return nil
}

// SetCredentials installs a fresh token pair, normally from the OAuth
// callback after a user authorizes the integration.
func (ts *TokenStore) SetCredentials(ctx context.Context, c Credentials) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.creds = c
	return ts.persist(ctx, c)
}

// Authorized reports whether a token pair is currently held.
func (ts *TokenStore) Authorized() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.creds.AccessToken != ""
}

// Access returns a usable access token. The whole call holds the store's
// lock, so at most one refresh is in flight and every reader behind it gets
// the refreshed pair. Fails with ErrUnauthorized when no user has
// authorized, and ErrAuthExpired when a refresh is rejected upstream.
func (ts *TokenStore) Access(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.creds.AccessToken == "" {
		return "", ErrUnauthorized
	}
	if time.Until(ts.creds.ExpiresAt) > refreshMargin {
		return ts.creds.AccessToken, nil
	}

	creds, err := ts.grant(ctx, url.Values{
		"grant_type":    []string{"refresh_token"},
		"refresh_token": []string{ts.creds.RefreshToken},
	})
	if err != nil {
		// The refresh token is no longer good. Drop the pair so callers
		// get ErrUnauthorized until a human re-authorizes.
		ts.creds = Credentials{}
		if perr := ts.persist(ctx, Credentials{}); perr != nil {
			ts.logger.ErrorContext(ctx, "clear persisted credentials", slog.Any("err", perr))
		}
		return "", fmt.Errorf("%w: refresh: %v", ErrAuthExpired, err)
	}

	ts.creds = creds
	if err := ts.persist(ctx, creds); err != nil {
		ts.logger.ErrorContext(ctx, "persist refreshed credentials", slog.Any("err", err))
	}
	return ts.creds.AccessToken, nil
}

// AuthorizeURL builds the Webex authorization-code URL the user opens in a
// browser to (re-)authorize the integration.
func (ts *TokenStore) AuthorizeURL(redirectURI, state string) string {
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", ts.clientID)
	v.Set("redirect_uri", redirectURI)
	v.Set("scope", "meeting:schedules_read meeting:schedules_write meeting:participants_read spark:all")
	v.Set("state", state)
	return ts.oauthURL + "/authorize?" + v.Encode()
}

// ExchangeCode trades an authorization code for a token pair and installs it.
func (ts *TokenStore) ExchangeCode(ctx context.Context, code, redirectURI string) error {
	creds, err := ts.grant(ctx, url.Values{
		"grant_type":   []string{"authorization_code"},
		"code":         []string{code},
		"redirect_uri": []string{redirectURI},
	})
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	return ts.SetCredentials(ctx, creds)
}

// grant posts to the access_token endpoint with the client credentials and
// the given grant parameters.
func (ts *TokenStore) grant(ctx context.Context, form url.Values) (Credentials, error) {
	if ts.clientID == "" || ts.clientSecret == "" {
		return Credentials{}, errors.New("missing integration client ID/secret")
	}
	form.Set("client_id", ts.clientID)
	form.Set("client_secret", ts.clientSecret)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		ts.oauthURL+"/access_token",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return Credentials{}, fmt.Errorf("newRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("client.Do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Credentials{}, handleHTTPError(resp)
	}

	var body tokenResponse
	d := json.NewDecoder(resp.Body)
	if err := d.Decode(&body); err != nil {
		return Credentials{}, fmt.Errorf("decode: %w", err)
	}
	if body.AccessToken == "" {
		return Credentials{}, errors.New("empty access_token in token response")
	}
	return Credentials{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Second * time.Duration(body.ExpiresIn)),
	}, nil
}

func (ts *TokenStore) persist(ctx context.Context, c Credentials) error {
	if ts.store == nil {
		return nil
	}
	if err := ts.store.SaveCredentials(ctx, c); err != nil {
		return fmt.Errorf("saveCredentials: %w", err)
	}
	return nil
}
