package webinar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu      sync.Mutex
	runs    int
	summary RunSummary
}

func (f *fakeRunner) Run(ctx context.Context) RunSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return f.summary
}

type fakeBot struct {
	mu       sync.Mutex
	posted   []string
	messages map[string]botMessage
	selfID   string
	notified chan RunSummary
}

func (f *fakeBot) GetMessage(ctx context.Context, id string) (botMessage, error) {
	msg, ok := f.messages[id]
	if !ok {
		return botMessage{}, errors.New("no such message")
	}
	return msg, nil
}

func (f *fakeBot) SelfID(ctx context.Context) (string, error) { return f.selfID, nil }

func (f *fakeBot) PostMessage(ctx context.Context, markdown string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, markdown)
	return nil
}

func (f *fakeBot) lastPost() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.posted) == 0 {
		return ""
	}
	return f.posted[len(f.posted)-1]
}

func (f *fakeBot) notify(ctx context.Context, summary RunSummary) error {
	if f.notified != nil {
		f.notified <- summary
	}
	return nil
}

func (f *fakeBot) name() string { return "fake bot" }

type fakeHistory struct {
	mu   sync.Mutex
	runs []RunSummary
}

func (f *fakeHistory) RecordRun(ctx context.Context, summary RunSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, summary)
	return nil
}

func (f *fakeHistory) LastRun(ctx context.Context) (RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runs) == 0 {
		return RunSummary{}, errors.New("no runs recorded")
	}
	return f.runs[len(f.runs)-1], nil
}

func newTestServer(runner *fakeRunner, bot *fakeBot, history *fakeHistory, tokens *TokenStore) *Server {
	if tokens == nil {
		tokens = NewTokenStore(TokenStoreOptions{clientID: "id", clientSecret: "secret"})
	}
	var store RunStore
	if history != nil {
		store = history
	}
	return NewServer(ServerOpts{
		Reconciler:    runner,
		Tokens:        tokens,
		Bot:           bot,
		Notifiers:     []notifier{bot},
		History:       store,
		WebhookSecret: "hook-secret",
		RoomID:        "room-42",
		PublicURL:     "https://webinars.example.com",
	})
}

func TestHandleRun(t *testing.T) {
	t.Run("runs and responds with the summary", func(t *testing.T) {
		runner := &fakeRunner{summary: RunSummary{Created: 2, Updated: 1}}
		bot := &fakeBot{}
		history := &fakeHistory{}
		srv := newTestServer(runner, bot, history, nil)

		req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"timeoutSeconds": 60}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assertEqual(t, rec.Code, http.StatusOK)

		var got RunSummary
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assertEqual(t, got.Created, 2)
		assertEqual(t, got.Updated, 1)
		assertEqual(t, runner.runs, 1)

		// The run landed in history and went out to the notifiers.
		last, err := history.LastRun(context.Background())
		require.NoError(t, err)
		assertEqual(t, last.Created, 2)
		require.Contains(t, bot.lastPost(), "Created: 2")
	})

	t.Run("accepts a form-encoded trigger", func(t *testing.T) {
		runner := &fakeRunner{}
		srv := newTestServer(runner, &fakeBot{}, nil, nil)

		form := url.Values{"timeoutSeconds": []string{"120"}}
		req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assertEqual(t, rec.Code, http.StatusOK)
		assertEqual(t, runner.runs, 1)
	})

	t.Run("rejects a concurrent run", func(t *testing.T) {
		runner := &fakeRunner{}
		srv := newTestServer(runner, &fakeBot{}, nil, nil)

		// Simulate an in-flight run.
		srv.runMu.Lock()
		defer srv.runMu.Unlock()

		req := httptest.NewRequest(http.MethodPost, "/run", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assertEqual(t, rec.Code, http.StatusConflict)
		assertEqual(t, runner.runs, 0)
	})

	t.Run("rejects unknown content types", func(t *testing.T) {
		srv := newTestServer(&fakeRunner{}, &fakeBot{}, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader("<run/>"))
		req.Header.Set("Content-Type", "text/xml")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assertEqual(t, rec.Code, http.StatusUnsupportedMediaType)
	})
}

func signedWebhookRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	sig, err := createSignature([]byte(body), []byte("hook-secret"))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Spark-Signature", string(sig))
	return req
}

func webhookBody(messageID string) string {
	return `{"resource":"messages","event":"created","data":{"id":"` + messageID + `","roomId":"room-42","personId":"person-7"}}`
}

func TestHandleWebhook(t *testing.T) {
	t.Run("rejects a bad signature", func(t *testing.T) {
		srv := newTestServer(&fakeRunner{}, &fakeBot{}, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(webhookBody("msg-1")))
		req.Header.Set("X-Spark-Signature", "deadbeef")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assertEqual(t, rec.Code, http.StatusUnauthorized)
	})

	t.Run("ignores the bot's own messages", func(t *testing.T) {
		bot := &fakeBot{selfID: "person-7"}
		srv := newTestServer(&fakeRunner{}, bot, nil, nil)

		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, signedWebhookRequest(t, webhookBody("msg-1")))

		assertEqual(t, rec.Code, http.StatusNoContent)
		require.Empty(t, bot.posted)
	})

	t.Run("drops messages from outside the control room", func(t *testing.T) {
		runner := &fakeRunner{}
		bot := &fakeBot{
			selfID:   "bot-id",
			messages: map[string]botMessage{"msg-x": {ID: "msg-x", Text: "WebinarBot schedule"}},
		}
		srv := newTestServer(runner, bot, nil, nil)

		// The bot gets webhook deliveries for every space it is in, but
		// only the configured room may issue commands.
		body := `{"resource":"messages","event":"created","data":{"id":"msg-x","roomId":"intruder-room","personId":"p9"}}`
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, signedWebhookRequest(t, body))

		assertEqual(t, rec.Code, http.StatusNoContent)
		require.Empty(t, bot.posted)
		assertEqual(t, runner.runs, 0)
	})

	t.Run("schedule command acks and runs", func(t *testing.T) {
		runner := &fakeRunner{summary: RunSummary{Created: 1}}
		bot := &fakeBot{
			selfID:   "bot-id",
			messages: map[string]botMessage{"msg-1": {ID: "msg-1", Text: "WebinarBot schedule"}},
			notified: make(chan RunSummary, 1),
		}
		srv := newTestServer(runner, bot, nil, nil)

		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, signedWebhookRequest(t, webhookBody("msg-1")))

		assertEqual(t, rec.Code, http.StatusAccepted)
		require.Contains(t, bot.posted[0], "Scheduling webinars")

		// The run happens off the webhook request; wait for the summary to
		// reach the notifier.
		select {
		case got := <-bot.notified:
			assertEqual(t, got.Created, 1)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for the run to finish")
		}
	})

	t.Run("status command reports authorization and last run", func(t *testing.T) {
		bot := &fakeBot{
			selfID:   "bot-id",
			messages: map[string]botMessage{"msg-2": {ID: "msg-2", Text: "WebinarBot status"}},
		}
		history := &fakeHistory{runs: []RunSummary{{Started: time.Now(), Created: 3}}}
		srv := newTestServer(&fakeRunner{}, bot, history, nil)

		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, signedWebhookRequest(t, webhookBody("msg-2")))

		assertEqual(t, rec.Code, http.StatusAccepted)
		post := bot.lastPost()
		require.Contains(t, post, "not authorized")
		require.Contains(t, post, "Created: 3")
	})

	t.Run("authorize command posts the authorization link", func(t *testing.T) {
		bot := &fakeBot{
			selfID:   "bot-id",
			messages: map[string]botMessage{"msg-3": {ID: "msg-3", Text: "WebinarBot authorize"}},
		}
		srv := newTestServer(&fakeRunner{}, bot, nil, nil)

		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, signedWebhookRequest(t, webhookBody("msg-3")))

		require.Contains(t, bot.lastPost(), "https://webinars.example.com/oauth/authorize")
	})

	t.Run("unknown commands get the help text", func(t *testing.T) {
		bot := &fakeBot{
			selfID:   "bot-id",
			messages: map[string]botMessage{"msg-4": {ID: "msg-4", Text: "WebinarBot dance"}},
		}
		srv := newTestServer(&fakeRunner{}, bot, nil, nil)

		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, signedWebhookRequest(t, webhookBody("msg-4")))

		require.Contains(t, bot.lastPost(), "Commands:")
	})

	t.Run("ignores non-message webhooks", func(t *testing.T) {
		bot := &fakeBot{selfID: "bot-id"}
		srv := newTestServer(&fakeRunner{}, bot, nil, nil)

		body := `{"resource":"memberships","event":"created","data":{}}`
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, signedWebhookRequest(t, body))

		assertEqual(t, rec.Code, http.StatusNoContent)
		require.Empty(t, bot.posted)
	})
}

func TestOAuthFlow(t *testing.T) {
	oauthSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assertEqual(t, r.PostForm.Get("grant_type"), "authorization_code")
		assertEqual(t, r.PostForm.Get("code"), "auth-code-1")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"token-1","expires_in":1209600,"refresh_token":"refresh-1"}`))
	}))
	defer oauthSrv.Close()

	tokens := NewTokenStore(TokenStoreOptions{
		baseOAuthOverride: oauthSrv.URL,
		clientID:          "id",
		clientSecret:      "secret",
	})
	srv := newTestServer(&fakeRunner{}, &fakeBot{}, nil, tokens)

	// Start the flow: the redirect carries a state the server remembers.
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil))
	assertEqual(t, rec.Code, http.StatusFound)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	assertEqual(t, loc.Query().Get("redirect_uri"), "https://webinars.example.com/oauth/callback")

	// Finish the flow with the code Webex sends back.
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback?code=auth-code-1&state="+state, nil))
	assertEqual(t, rec.Code, http.StatusOK)
	require.True(t, tokens.Authorized())

	// States are single use.
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback?code=auth-code-1&state="+state, nil))
	assertEqual(t, rec.Code, http.StatusBadRequest)
}

func TestOAuthCallbackRejectsUnknownState(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, &fakeBot{}, nil, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback?code=x&state=forged", nil))
	assertEqual(t, rec.Code, http.StatusBadRequest)
}

func TestMetricsEndpoint(t *testing.T) {
	InitMetrics()
	srv := newTestServer(&fakeRunner{}, &fakeBot{}, nil, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assertEqual(t, rec.Code, http.StatusOK)
	require.Contains(t, rec.Body.String(), "webinar_runs_started_total")
}
