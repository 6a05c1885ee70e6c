package webinar

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/schema"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

type (
	runner interface {
		Run(ctx context.Context) RunSummary
	}

	// notifier receives the summary of a finished run. Notifier failures are
	// logged and never fail the run itself.
	notifier interface {
		notify(ctx context.Context, summary RunSummary) error
		name() string
	}

	// commandBot is the chat side of the server: reading the command
	// messages webhooks point at and posting replies.
	commandBot interface {
		GetMessage(ctx context.Context, id string) (botMessage, error)
		SelfID(ctx context.Context) (string, error)
		PostMessage(ctx context.Context, markdown string) error
	}

	// RunStore persists run summaries so the status command can answer
	// without touching the sheet.
	RunStore interface {
		RecordRun(ctx context.Context, summary RunSummary) error
		LastRun(ctx context.Context) (RunSummary, error)
	}

	ServerOpts struct {
		Reconciler    runner
		Tokens        *TokenStore
		Bot           commandBot
		Notifiers     []notifier
		History       RunStore
		WebhookSecret string
		// Control room the bot listens in. Message events from any other
		// room are dropped; the bot is present in every space it gets
		// added to, but only the control room may issue commands.
		RoomID string
		// Base URL this service is reachable at, for OAuth redirects and
		// the authorize link the bot hands out.
		PublicURL string
		Logger    *slog.Logger
	}

	Server struct {
		reconciler    runner
		tokens        *TokenStore
		bot           commandBot
		notifiers     []notifier
		history       RunStore
		webhookSecret string
		roomID        string
		publicURL     string
		logger        *slog.Logger
		mux           *http.ServeMux

		// Serializes runs. A trigger that arrives mid-run is rejected
		// rather than queued.
		runMu sync.Mutex

		stateMu sync.Mutex
		states  map[string]time.Time
	}

	runRequest struct {
		TimeoutSeconds int `json:"timeoutSeconds" schema:"timeoutSeconds"`
	}

	// webexWebhook is the delivery Webex POSTs when a message lands in the
	// bot's room. The payload carries only the message ID.
	webexWebhook struct {
		Resource string `json:"resource"`
		Event    string `json:"event"`
		Data     struct {
			ID       string `json:"id"`
			RoomID   string `json:"roomId"`
			PersonID string `json:"personId"`
		} `json:"data"`
	}
)

const defaultRunTimeout = 300 * time.Second

var errRunInProgress = errors.New("a run is already in progress")

func NewServer(o ServerOpts) *Server {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		reconciler:    o.Reconciler,
		tokens:        o.Tokens,
		bot:           o.Bot,
		notifiers:     o.Notifiers,
		history:       o.History,
		webhookSecret: o.WebhookSecret,
		roomID:        o.RoomID,
		publicURL:     strings.TrimSuffix(o.PublicURL, "/"),
		logger:        logger,
		states:        map[string]time.Time{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", s.handleRun)
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /oauth/authorize", s.handleAuthorize)
	mux.HandleFunc("GET /oauth/callback", s.handleCallback)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleRun triggers a reconciliation run and responds with its summary.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req runRequest
	switch ct := r.Header.Get("Content-Type"); {
	case strings.HasPrefix(ct, "application/json"):
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			s.badRequestResponse(w, r, fmt.Sprintf("decode run request: %v", err))
			return
		}
	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"):
		if err := r.ParseForm(); err != nil {
			s.badRequestResponse(w, r, "Error reading Form Body")
			return
		}
		decoder := schema.NewDecoder()
		decoder.IgnoreUnknownKeys(true)
		if err := decoder.Decode(&req, r.PostForm); err != nil {
			s.badRequestResponse(w, r, fmt.Sprintf("decode run form: %v", err))
			return
		}
	case ct == "":
		// Empty-body trigger from a scheduler is fine.
	default:
		http.Error(w, "Unacceptable Content-Type", http.StatusUnsupportedMediaType)
		return
	}

	timeout := defaultRunTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	summary, err := s.runOnce(ctx)
	if errors.Is(err, errRunInProgress) {
		s.errorResponse(w, r, http.StatusConflict, err.Error())
		return
	}

	if err := s.writeJSON(w, http.StatusOK, summary); err != nil {
		s.serverErrorResponse(w, r, fmt.Errorf("writeJSON: %w", err))
	}
}

// runOnce performs a single serialized run: reconcile, record metrics and
// history, fan the summary out to the notifiers.
func (s *Server) runOnce(ctx context.Context) (RunSummary, error) {
	if !s.runMu.TryLock() {
		return RunSummary{}, errRunInProgress
	}
	defer s.runMu.Unlock()

	if RunsStarted != nil {
		RunsStarted.Inc()
	}

	started := time.Now()
	summary := s.reconciler.Run(ctx)
	ObserveRun(summary, time.Since(started))

	// History and notifications outlive the run deadline.
	tail, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if s.history != nil {
		if err := s.history.RecordRun(tail, summary); err != nil {
			s.logError(tail, fmt.Errorf("record run: %w", err))
		}
	}

	g := new(errgroup.Group)
	for _, n := range s.notifiers {
		n := n
		g.Go(func() error {
			if err := n.notify(tail, summary); err != nil {
				return fmt.Errorf("%s: %w", n.name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logError(tail, fmt.Errorf("notify: %w", err))
	}
	return summary, nil
}

// handleWebhook receives Webex message webhooks and dispatches bot commands.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.badRequestResponse(w, r, "read body")
		return
	}
	if s.webhookSecret != "" {
		sig := r.Header.Get("X-Spark-Signature")
		if !verifySignature(body, []byte(s.webhookSecret), sig) {
			s.errorResponse(w, r, http.StatusUnauthorized, "bad signature")
			return
		}
	}

	var hook webexWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		s.badRequestResponse(w, r, fmt.Sprintf("decode webhook: %v", err))
		return
	}
	if hook.Resource != "messages" || hook.Event != "created" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	// Commands are only taken from the control room. The bot receives
	// message events for every space it has been added to.
	if s.roomID != "" && hook.Data.RoomID != s.roomID {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ctx := r.Context()

	// The bot's own posts come back through the webhook.
	selfID, err := s.bot.SelfID(ctx)
	if err != nil {
		s.serverErrorResponse(w, r, fmt.Errorf("bot selfID: %w", err))
		return
	}
	if hook.Data.PersonID == selfID {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	msg, err := s.bot.GetMessage(ctx, hook.Data.ID)
	if err != nil {
		s.serverErrorResponse(w, r, fmt.Errorf("get message: %w", err))
		return
	}

	if err := s.dispatchCommand(ctx, msg.Text); err != nil {
		s.serverErrorResponse(w, r, fmt.Errorf("dispatch %q: %w", msg.Text, err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// dispatchCommand handles a chat command addressed to the bot. Mentions
// arrive with the bot's display name prefixed, so only the last word counts.
func (s *Server) dispatchCommand(ctx context.Context, text string) error {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	cmd := ""
	if len(fields) > 0 {
		cmd = fields[len(fields)-1]
	}

	switch cmd {
	case "schedule":
		if err := s.bot.PostMessage(ctx, "On it. Scheduling webinars now..."); err != nil {
			return fmt.Errorf("post ack: %w", err)
		}
		// The run outlives the webhook request.
		go func() {
			runCtx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
			defer cancel()
			if _, err := s.runOnce(runCtx); errors.Is(err, errRunInProgress) {
				if perr := s.bot.PostMessage(runCtx, "A run is already in progress. Hold tight."); perr != nil {
					s.logError(runCtx, fmt.Errorf("post busy notice: %w", perr))
				}
			}
		}()
		return nil

	case "status":
		return s.bot.PostMessage(ctx, s.statusMarkdown(ctx))

	case "authorize":
		return s.bot.PostMessage(ctx, fmt.Sprintf(
			"Visit [the authorization page](%s/oauth/authorize) to connect Webex.", s.publicURL))

	default:
		return s.bot.PostMessage(ctx,
			"Commands:\n- **schedule**: reconcile the sheet now\n- **status**: last run and authorization state\n- **authorize**: get the Webex authorization link")
	}
}

func (s *Server) statusMarkdown(ctx context.Context) string {
	var b strings.Builder
	if s.tokens.Authorized() {
		b.WriteString("Webex: ✅ authorized\n\n")
	} else {
		fmt.Fprintf(&b, "Webex: ⚠️ **not authorized** — visit %s/oauth/authorize\n\n", s.publicURL)
	}
	if s.history == nil {
		return b.String()
	}
	last, err := s.history.LastRun(ctx)
	if err != nil {
		s.logError(ctx, fmt.Errorf("last run: %w", err))
		b.WriteString("No run history available.")
		return b.String()
	}
	fmt.Fprintf(&b, "Last run %s:\n%s", last.Started.Format(time.RFC1123), last.Markdown())
	return b.String()
}

// handleAuthorize starts the OAuth flow: mint a state, remember it, and send
// the operator to Webex's consent page.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		s.serverErrorResponse(w, r, fmt.Errorf("state gen: %w", err))
		return
	}
	state := hex.EncodeToString(b)
	s.addState(state, time.Now().Add(10*time.Minute))

	url := s.tokens.AuthorizeURL(s.redirectURI(), state)
	http.Redirect(w, r, url, http.StatusFound)
}

// handleCallback finishes the OAuth flow by trading the code for tokens.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		s.badRequestResponse(w, r, "missing code/state")
		return
	}
	if !s.consumeState(state) {
		s.badRequestResponse(w, r, "invalid state")
		return
	}

	if err := s.tokens.ExchangeCode(r.Context(), code, s.redirectURI()); err != nil {
		s.serverErrorResponse(w, r, fmt.Errorf("exchange code: %w", err))
		return
	}

	s.logger.InfoContext(r.Context(), "webex authorization complete")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Webex connected. You can close this tab.")
}

func (s *Server) redirectURI() string {
	return s.publicURL + "/oauth/callback"
}

func (s *Server) addState(state string, expires time.Time) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	for st, exp := range s.states {
		if time.Now().After(exp) {
			delete(s.states, st)
		}
	}
	s.states[state] = expires
}

// consumeState validates and burns a state value. States are single use.
func (s *Server) consumeState(state string) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	exp, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return time.Now().Before(exp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

type errorResponseBody struct {
	Error any `json:"error"`
}

// logError logs the error to the server's logger and Sentry if it's enabled.
func (s *Server) logError(ctx context.Context, err error) {
	s.logger.ErrorContext(ctx, err.Error())

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
	}
}

// logRequestError logs the error with the request's method and URL, and sends
// it to Sentry if it's enabled.
func (s *Server) logRequestError(ctx context.Context, r *http.Request, err error) {
	s.logger.ErrorContext(
		ctx,
		err.Error(),
		slog.String("method", r.Method),
		slog.String("url", r.URL.String()))

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
	}
}

// errorResponse writes an error response to the client.
func (s *Server) errorResponse(w http.ResponseWriter, r *http.Request, status int, msg any) {
	if err := s.writeJSON(w, status, errorResponseBody{Error: msg}); err != nil {
		s.logRequestError(r.Context(), r, err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// serverErrorResponse logs the error and sends a generic 500 Internal Server Error response to the client.
func (s *Server) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	s.logRequestError(r.Context(), r, err)
	s.errorResponse(w, r, http.StatusInternalServerError, "internal server error")
}

// badRequestResponse logs the error and sends a 400 Bad Request response to the client.
// The msg is sent back to the client, so it should not leak anything sensitive.
func (s *Server) badRequestResponse(w http.ResponseWriter, r *http.Request, msg string) {
	s.logRequestError(r.Context(), r, fmt.Errorf("bad request: %s", msg))
	s.errorResponse(w, r, http.StatusBadRequest, msg)
}
