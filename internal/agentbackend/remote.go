package agentbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

// RemoteBackend talks to a real agent platform over HTTP with bearer
// authentication. It performs no retry or circuit-breaking on its own —
// that is internal/hardenedclient's job; this type only knows how to shape
// one request/response pair.
type RemoteBackend struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewRemoteBackend returns a backend pointed at baseURL, authenticating
// every call with apiKey as a bearer token.
func NewRemoteBackend(baseURL, apiKey string) *RemoteBackend {
	return &RemoteBackend{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type remoteCreateSessionBody struct {
	Prompt                string         `json:"prompt"`
	PlaybookID            string         `json:"playbook_id,omitempty"`
	Tags                  []string       `json:"tags,omitempty"`
	MaxACULimit           int            `json:"max_acu_limit,omitempty"`
	Idempotent            bool           `json:"idempotent"`
	StructuredOutputSchema map[string]any `json:"structured_output_schema,omitempty"`
}

type remoteCreateSessionResponse struct {
	SessionID    string `json:"session_id"`
	URL          string `json:"url"`
	IsNewSession bool   `json:"is_new_session"`
}

func (b *RemoteBackend) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResult, error) {
	body := remoteCreateSessionBody{
		Prompt:      req.Prompt,
		PlaybookID:  req.PlaybookID,
		Tags:        req.Tags,
		MaxACULimit: req.MaxACULimit,
		Idempotent:  req.Idempotent,
	}
	var resp remoteCreateSessionResponse
	if err := b.doJSON(ctx, http.MethodPost, "/sessions", body, &resp); err != nil {
		return CreateSessionResult{}, err
	}
	return CreateSessionResult{SessionID: resp.SessionID, URL: resp.URL, IsNewSession: resp.IsNewSession}, nil
}

type remoteSessionResponse struct {
	SessionID        string                     `json:"session_id"`
	StatusEnum       runmodel.BackendStatusEnum `json:"status_enum"`
	URL              string                     `json:"url"`
	Title            string                     `json:"title"`
	StructuredOutput *runmodel.StructuredOutput `json:"structured_output"`
	PullRequest      *struct {
		URL string `json:"url"`
	} `json:"pull_request"`
}

func (b *RemoteBackend) GetSession(ctx context.Context, sessionID string) (SessionSnapshot, error) {
	var resp remoteSessionResponse
	if err := b.doJSON(ctx, http.MethodGet, "/sessions/"+sessionID, nil, &resp); err != nil {
		return SessionSnapshot{}, err
	}
	snap := SessionSnapshot{
		SessionID:  resp.SessionID,
		StatusEnum: resp.StatusEnum,
		URL:        resp.URL,
		Title:      resp.Title,
		Structured: resp.StructuredOutput,
	}
	if resp.PullRequest != nil {
		snap.PRUrl = resp.PullRequest.URL
	}
	return snap, nil
}

func (b *RemoteBackend) ListSessions(ctx context.Context, limit int) ([]string, error) {
	var resp struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
		} `json:"sessions"`
	}
	if err := b.doJSON(ctx, http.MethodGet, fmt.Sprintf("/sessions?limit=%d", limit), nil, &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Sessions))
	for _, s := range resp.Sessions {
		ids = append(ids, s.SessionID)
	}
	return ids, nil
}

type remoteSendMessageBody struct {
	Message string `json:"message"`
}

// SendMessage posts a follow-up message into a running session, used to
// nudge an agent stuck in a blocked state without a pull request yet.
func (b *RemoteBackend) SendMessage(ctx context.Context, sessionID, text string) error {
	return b.doJSON(ctx, http.MethodPost, "/sessions/"+sessionID+"/message", remoteSendMessageBody{Message: text}, nil)
}

func (b *RemoteBackend) TerminateSession(ctx context.Context, sessionID string) error {
	err := b.doJSON(ctx, http.MethodDelete, "/sessions/"+sessionID, nil, nil)
	if err != nil {
		var be *BackendError
		if asBackendError(err, &be) && be.StatusCode == 404 {
			return nil
		}
		return err
	}
	return nil
}

type remotePlaybookBody struct {
	Category     runmodel.Category `json:"category"`
	Instructions string            `json:"instructions"`
}

type remotePlaybookResponse struct {
	PlaybookID string `json:"playbook_id"`
}

func (b *RemoteBackend) CreatePlaybook(ctx context.Context, category runmodel.Category, instructions string) (string, error) {
	var resp remotePlaybookResponse
	err := b.doJSON(ctx, http.MethodPost, "/playbooks", remotePlaybookBody{Category: category, Instructions: instructions}, &resp)
	if err != nil {
		return "", err
	}
	return resp.PlaybookID, nil
}

func (b *RemoteBackend) ListPlaybooks(ctx context.Context) (map[runmodel.Category]string, error) {
	var resp struct {
		Playbooks []struct {
			PlaybookID string            `json:"playbook_id"`
			Category   runmodel.Category `json:"category"`
		} `json:"playbooks"`
	}
	if err := b.doJSON(ctx, http.MethodGet, "/playbooks", nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[runmodel.Category]string, len(resp.Playbooks))
	for _, p := range resp.Playbooks {
		out[p.Category] = p.PlaybookID
	}
	return out, nil
}

// doJSON performs a single HTTP round trip, encoding reqBody as JSON (if
// non-nil) and decoding the response into respOut (if non-nil). Non-2xx
// responses are returned as *BackendError so callers can classify
// retryability without inspecting raw status codes themselves.
func (b *RemoteBackend) doJSON(ctx context.Context, method, path string, reqBody, respOut any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("agentbackend: encode request: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("agentbackend: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.APIKey)
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("agentbackend: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("agentbackend: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter := -1.0
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, perr := time.ParseDuration(v + "s"); perr == nil {
				retryAfter = secs.Seconds()
			}
		}
		return &BackendError{StatusCode: resp.StatusCode, Message: string(data), RetryAfterSeconds: retryAfter}
	}

	if respOut == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, respOut); err != nil {
		return fmt.Errorf("agentbackend: decode response: %w", err)
	}
	return nil
}

func asBackendError(err error, target **BackendError) bool {
	be, ok := err.(*BackendError)
	if ok {
		*target = be
	}
	return ok
}
