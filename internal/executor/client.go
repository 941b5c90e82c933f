package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"promoshot/internal/config"

	"github.com/sirupsen/logrus"
)

const (
	defaultDispatchTimeout = 60 * time.Second
	defaultAttemptTimeout  = 15 * time.Second
	maxResponseBytes       = 4 << 20
	logSnippetLimit        = 200
)

// ErrNotConfigured is returned when the client lacks the url or key a call needs.
var ErrNotConfigured = config.ErrExecutorNotConfigured

// HTTPError is a non-2xx response from the executor.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("executor http %d", e.StatusCode)
	}
	return fmt.Sprintf("executor http %d: %s", e.StatusCode, e.Body)
}

// DispatchResponse is the synchronous answer of a workflow webhook.
type DispatchResponse struct {
	ExecutionID string
	WorkflowID  string
	Status      string
	Error       string
	Body        any
}

// Execution is the state of one executor run as reported by the executions API.
type Execution struct {
	ID       string
	Finished bool
	Status   string
	Error    string
	Data     any
	Body     any
}

// ArtifactURLs runs extraction over the data field, falling back to the whole body.
func (e *Execution) ArtifactURLs() []string {
	if e == nil {
		return nil
	}
	if e.Data != nil {
		if urls := ExtractArtifactURLs(e.Data); len(urls) > 0 {
			return urls
		}
	}
	return ExtractArtifactURLs(e.Body)
}

// ReportedError returns the executor-side failure message, or "" when the run did not fail.
func (e *Execution) ReportedError() string {
	if e == nil {
		return ""
	}
	if msg := strings.TrimSpace(e.Error); msg != "" {
		return msg
	}
	if MapStatus(e.Status) == ExecutionStateFailed {
		return "execution " + strings.ToLower(strings.TrimSpace(e.Status))
	}
	return ""
}

// Client talks to the n8n webhook and executions API.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	apiKey          string
	webhookURL      string
	dispatchTimeout time.Duration
	attemptTimeout  time.Duration
}

// Options configures a Client.
type Options struct {
	BaseURL         string
	APIKey          string
	WebhookURL      string
	DispatchTimeout time.Duration
	AttemptTimeout  time.Duration
	HTTPClient      *http.Client
}

// NewClient creates a client. Missing urls are reported per call, not here.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	dispatchTimeout := opts.DispatchTimeout
	if dispatchTimeout <= 0 {
		dispatchTimeout = defaultDispatchTimeout
	}
	attemptTimeout := opts.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = defaultAttemptTimeout
	}
	return &Client{
		httpClient:      httpClient,
		baseURL:         strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		apiKey:          strings.TrimSpace(opts.APIKey),
		webhookURL:      strings.TrimSpace(opts.WebhookURL),
		dispatchTimeout: dispatchTimeout,
		attemptTimeout:  attemptTimeout,
	}
}

// NewClientFromConfig builds a client from process configuration.
func NewClientFromConfig(cfg config.Config) *Client {
	return NewClient(Options{
		BaseURL:         cfg.ExecutorBaseURL,
		APIKey:          cfg.ExecutorAPIKey,
		WebhookURL:      cfg.ExecutorWebhookURL,
		DispatchTimeout: cfg.ExecutorDispatchTimeout,
		AttemptTimeout:  cfg.PollAttemptTimeout,
	})
}

// DefaultWebhookURL returns the process-wide webhook url, or "".
func (c *Client) DefaultWebhookURL() string {
	if c == nil {
		return ""
	}
	return c.webhookURL
}

// PollingConfigured reports whether FetchExecution can be called.
func (c *Client) PollingConfigured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != ""
}

// Dispatch POSTs payload to webhookURL (or the default webhook) with its own timeout.
// apiKey overrides the process-wide key when non-empty.
func (c *Client) Dispatch(ctx context.Context, webhookURL string, apiKey string, payload Payload) (*DispatchResponse, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	target := strings.TrimSpace(webhookURL)
	if target == "" {
		target = c.webhookURL
	}
	if target == "" {
		return nil, ErrNotConfigured
	}

	bs, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("executor marshal payload: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.dispatchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, target, bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("executor create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := firstNonEmpty(apiKey, c.apiKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	logrus.WithFields(logrus.Fields{
		"request_id": payload.RequestID,
		"user_id":    payload.UserID,
		"webhook":    redactURL(target),
	}).Info("executor_dispatch_start")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	resp := &DispatchResponse{}
	if len(bytes.TrimSpace(body)) == 0 {
		return resp, nil
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		// webhook 可能返回纯文本确认，视为已接受
		logrus.WithField("body", logSnippet(string(body))).Debug("executor_dispatch_non_json_response")
		return resp, nil
	}
	resp.Body = decoded
	if obj, ok := decoded.(map[string]any); ok {
		resp.ExecutionID = firstString(obj, "executionId", "execution_id", "id")
		resp.WorkflowID = firstString(obj, "workflowId", "workflow_id")
		resp.Status = firstString(obj, "status")
		resp.Error = errorMessage(obj["error"])
	}
	return resp, nil
}

// FetchExecution GETs {base}/api/v1/executions/{id}. Each call has its own timeout.
func (c *Client) FetchExecution(ctx context.Context, executionID string) (*Execution, error) {
	if !c.PollingConfigured() {
		return nil, ErrNotConfigured
	}
	id := strings.TrimSpace(executionID)
	if id == "" {
		return nil, errors.New("execution id is required")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/v1/executions/%s?includeData=true", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("executor create poll request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("executor poll decode: %w", err)
	}
	execution := &Execution{ID: id, Body: decoded}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return execution, nil
	}
	if v := firstString(obj, "id"); v != "" {
		execution.ID = v
	}
	execution.Finished, _ = obj["finished"].(bool)
	execution.Status = firstString(obj, "status")
	execution.Data = obj["data"]
	execution.Error = errorMessage(obj["error"])
	if execution.Error == "" {
		execution.Error = resultDataError(obj["data"])
	}
	// 新版 n8n 只返回 status，没有 finished
	if !execution.Finished && MapStatus(execution.Status) != ExecutionStateRunning {
		execution.Finished = true
	}
	return execution, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executor request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("executor read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: logSnippet(string(body))}
	}
	return body, nil
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func errorMessage(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if msg := firstString(v, "message", "description"); msg != "" {
			return msg
		}
		return "executor reported an error"
	default:
		return ""
	}
}

// resultDataError reads data.resultData.error of an n8n execution.
func resultDataError(data any) string {
	obj, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	resultData, ok := obj["resultData"].(map[string]any)
	if !ok {
		return ""
	}
	return errorMessage(resultData["error"])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parsed.RawQuery = ""
	parsed.User = nil
	return parsed.String()
}

func logSnippet(value string) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= logSnippetLimit {
		return value
	}
	return string(runes[:logSnippetLimit]) + "..."
}
