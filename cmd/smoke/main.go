package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	webinar "github.com/operationspark/service-webinars"
	"google.golang.org/api/idtoken"
)

type smoke struct {
	// This service's HTTP trigger URL.
	serviceURL string
}

func main() {}

func newSmokeTest() *smoke {
	url := os.Getenv("SMOKE_SERVICE_URL")
	if url == "" {
		url = "https://us-central1-operationspark-org.cloudfunctions.net/webinar-scheduler"
	}
	return &smoke{serviceURL: url}
}

// triggerRun POSTs to the /run endpoint and decodes the summary. Runs are
// idempotent, so re-triggering against production only re-syncs published
// webinars.
func (s *smoke) triggerRun() (webinar.RunSummary, error) {
	var summary webinar.RunSummary

	body := bytes.NewBufferString("{}")
	req, err := makeAuthenticatedReq(http.MethodPost, s.serviceURL+"/run", body)
	if err != nil {
		return summary, fmt.Errorf("auth'd req: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return summary, fmt.Errorf("http POST: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return summary, fmt.Errorf("http error: %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return summary, fmt.Errorf("decode: %w", err)
	}
	return summary, nil
}

// fetchMetrics pulls the Prometheus exposition page.
func (s *smoke) fetchMetrics() (string, error) {
	req, err := makeAuthenticatedReq(http.MethodGet, s.serviceURL+"/metrics", nil)
	if err != nil {
		return "", fmt.Errorf("auth'd req: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("http error: %s", resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(b), nil
}

// makeAuthenticatedReq makes an HTTP request using Google Service Account credentials.
func makeAuthenticatedReq(method string, url string, body io.Reader) (*http.Request, error) {
	audience := url
	creds := os.Getenv("GCP_SA_CREDS_JSON")
	opts := idtoken.WithCredentialsJSON([]byte(creds))
	ts, err := idtoken.NewTokenSource(context.Background(), audience, opts)
	if err != nil {
		return nil, fmt.Errorf("newTokenSource: %w", err)
	}
	token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	req, err := http.NewRequest(method, audience, body)
	token.SetAuthHeader(req)
	return req, err
}
