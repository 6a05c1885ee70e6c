package webinar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memCredStore struct {
	mu    sync.Mutex
	creds Credentials
	saves int
}

func (m *memCredStore) SaveCredentials(ctx context.Context, c Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = c
	m.saves++
	return nil
}

func (m *memCredStore) LoadCredentials(ctx context.Context) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds, nil
}

func TestAccess(t *testing.T) {
	t.Run("fails with ErrUnauthorized before anyone authorizes", func(t *testing.T) {
		ts := NewTokenStore(TokenStoreOptions{clientID: "id", clientSecret: "secret"})

		_, err := ts.Access(context.Background())
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("returns the held token while it is fresh", func(t *testing.T) {
		oauthSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("no OAuth call expected for a fresh token")
		}))
		defer oauthSrv.Close()

		ts := NewTokenStore(TokenStoreOptions{
			baseOAuthOverride: oauthSrv.URL,
			clientID:          "id",
			clientSecret:      "secret",
		})
		require.NoError(t, ts.SetCredentials(context.Background(), Credentials{
			AccessToken:  "fresh-token",
			RefreshToken: "refresh",
			ExpiresAt:    time.Now().Add(time.Hour),
		}))

		got, err := ts.Access(context.Background())
		require.NoError(t, err)
		require.Equal(t, "fresh-token", got)
	})

	t.Run("refreshes a token expiring within the margin", func(t *testing.T) {
		store := &memCredStore{}
		oauthSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/access_token", r.URL.Path)
			require.NoError(t, r.ParseForm())
			require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
			require.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
			require.Equal(t, "id", r.PostForm.Get("client_id"))
			require.Equal(t, "secret", r.PostForm.Get("client_secret"))

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"new-token","expires_in":1209600,"refresh_token":"new-refresh","refresh_token_expires_in":7776000}`))
		}))
		defer oauthSrv.Close()

		ts := NewTokenStore(TokenStoreOptions{
			baseOAuthOverride: oauthSrv.URL,
			clientID:          "id",
			clientSecret:      "secret",
			store:             store,
		})
		require.NoError(t, ts.SetCredentials(context.Background(), Credentials{
			AccessToken:  "stale-token",
			RefreshToken: "old-refresh",
			ExpiresAt:    time.Now().Add(30 * time.Second), // inside the refresh margin
		}))

		got, err := ts.Access(context.Background())
		require.NoError(t, err)
		require.Equal(t, "new-token", got)

		// The refreshed pair was persisted.
		saved, _ := store.LoadCredentials(context.Background())
		require.Equal(t, "new-token", saved.AccessToken)
		require.Equal(t, "new-refresh", saved.RefreshToken)
	})

	t.Run("concurrent readers share a single refresh", func(t *testing.T) {
		var (
			mu        sync.Mutex
			refreshes int
		)
		oauthSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			refreshes++
			mu.Unlock()

			// Slow refresh so every reader piles up behind it.
			time.Sleep(100 * time.Millisecond)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"new-token","expires_in":1209600,"refresh_token":"new-refresh"}`))
		}))
		defer oauthSrv.Close()

		ts := NewTokenStore(TokenStoreOptions{
			baseOAuthOverride: oauthSrv.URL,
			clientID:          "id",
			clientSecret:      "secret",
		})
		require.NoError(t, ts.SetCredentials(context.Background(), Credentials{
			AccessToken:  "stale-token",
			RefreshToken: "old-refresh",
			ExpiresAt:    time.Now().Add(30 * time.Second), // inside the refresh margin
		}))

		const readers = 8
		tokens := make([]string, readers)
		var wg sync.WaitGroup
		for i := 0; i < readers; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := ts.Access(context.Background())
				if err != nil {
					t.Errorf("Access: %v", err)
					return
				}
				tokens[i] = got
			}()
		}
		wg.Wait()

		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, 1, refreshes, "expected exactly one refresh call")
		for i := 0; i < readers; i++ {
			require.Equal(t, "new-token", tokens[i])
		}
	})

	t.Run("a rejected refresh expires the authorization", func(t *testing.T) {
		store := &memCredStore{}
		oauthSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			JSONError(w, JSONErr{Code: 400, Message: "invalid_grant"}, http.StatusBadRequest)
		}))
		defer oauthSrv.Close()

		ts := NewTokenStore(TokenStoreOptions{
			baseOAuthOverride: oauthSrv.URL,
			clientID:          "id",
			clientSecret:      "secret",
			store:             store,
		})
		require.NoError(t, ts.SetCredentials(context.Background(), Credentials{
			AccessToken:  "stale-token",
			RefreshToken: "dead-refresh",
			ExpiresAt:    time.Now().Add(-time.Minute),
		}))

		_, err := ts.Access(context.Background())
		require.ErrorIs(t, err, ErrAuthExpired)

		// The pair is gone, in memory and in the store.
		require.False(t, ts.Authorized())
		saved, _ := store.LoadCredentials(context.Background())
		require.Empty(t, saved.AccessToken)

		// Until a human re-authorizes, callers get ErrUnauthorized.
		_, err = ts.Access(context.Background())
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestExchangeCode(t *testing.T) {
	store := &memCredStore{}
	oauthSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		require.Equal(t, "the-code", r.PostForm.Get("code"))
		require.Equal(t, "https://example.com/oauth/callback", r.PostForm.Get("redirect_uri"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"token-1","expires_in":1209600,"refresh_token":"refresh-1"}`))
	}))
	defer oauthSrv.Close()

	ts := NewTokenStore(TokenStoreOptions{
		baseOAuthOverride: oauthSrv.URL,
		clientID:          "id",
		clientSecret:      "secret",
		store:             store,
	})

	err := ts.ExchangeCode(context.Background(), "the-code", "https://example.com/oauth/callback")
	require.NoError(t, err)
	require.True(t, ts.Authorized())

	got, err := ts.Access(context.Background())
	require.NoError(t, err)
	require.Equal(t, "token-1", got)

	saved, _ := store.LoadCredentials(context.Background())
	require.Equal(t, "token-1", saved.AccessToken)
}

func TestAuthorizeURL(t *testing.T) {
	ts := NewTokenStore(TokenStoreOptions{clientID: "the-client", clientSecret: "secret"})

	raw := ts.AuthorizeURL("https://example.com/oauth/callback", "state-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "the-client", q.Get("client_id"))
	require.Equal(t, "https://example.com/oauth/callback", q.Get("redirect_uri"))
	require.Equal(t, "state-123", q.Get("state"))
	require.Contains(t, q.Get("scope"), "meeting:schedules_write")
}

func TestHydrate(t *testing.T) {
	store := &memCredStore{creds: Credentials{
		AccessToken:  "persisted-token",
		RefreshToken: "persisted-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}

	ts := NewTokenStore(TokenStoreOptions{clientID: "id", clientSecret: "secret", store: store})
	require.False(t, ts.Authorized())

	require.NoError(t, ts.Hydrate(context.Background()))
	require.True(t, ts.Authorized())

	got, err := ts.Access(context.Background())
	require.NoError(t, err)
	require.Equal(t, "persisted-token", got)
}
