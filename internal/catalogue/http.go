package catalogue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/regq/internal/models"
	"github.com/desertthunder/regq/internal/shared"
)

// HTTPClient implements [Client] against a REST catalogue.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxTries   int
	retryAfter time.Duration
	logger     *log.Logger
}

// HTTPOptions configures [NewHTTPClient]. Zero values take defaults.
type HTTPOptions struct {
	BaseURL    string
	Token      string
	RateLimit  float64 // requests per second, <= 0 for unlimited
	MaxTries   int
	RetryAfter time.Duration
	Timeout    time.Duration
	Transport  http.RoundTripper
	Logger     *log.Logger
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	IsJSON     bool
	JSONData   any
}

// NewHTTPClient creates a catalogue client. Every request carries the process trace headers
// and, when opts.Token is set, an Authorization: Bearer header.
func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://127.0.0.1:8700/api/v1"
	}
	if opts.MaxTries <= 0 {
		opts.MaxTries = 1
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 30 * time.Second
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	var transport http.RoundTripper = &traceTransport{base: opts.Transport, headers: shared.ProcessTrace().Headers()}
	if opts.Token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"}),
			Base:   transport,
		}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &HTTPClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{Transport: transport, Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		maxTries:   opts.MaxTries,
		retryAfter: opts.RetryAfter,
		logger:     opts.Logger,
	}
}

// Do sends one request to baseURL+path and returns the raw response, whatever its status.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body []byte) (*APIResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	apiResp := &APIResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}

	var jsonData any
	if err := json.Unmarshal(data, &jsonData); err == nil {
		apiResp.IsJSON = true
		apiResp.JSONData = jsonData
	}

	return apiResp, nil
}

func (c *HTTPClient) List(ctx context.Context, collection string, params map[string]string) ([]json.RawMessage, error) {
	path := "/" + url.PathEscape(collection) + "/"
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		path += "?" + q.Encode()
	}

	resp, err := c.request(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}

	var docs []json.RawMessage
	if err := json.Unmarshal(resp.Body, &docs); err != nil {
		return nil, fmt.Errorf("%w: GET %s: expected a JSON list: %w", shared.ErrAPIRequest, path, err)
	}
	return docs, nil
}

func (c *HTTPClient) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	resp, err := c.request(ctx, http.MethodGet, itemPath(collection, id), nil, true)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body), nil
}

// Post creates a document. It is never retried.
func (c *HTTPClient) Post(ctx context.Context, collection string, doc any) (json.RawMessage, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	resp, err := c.request(ctx, http.MethodPost, "/"+url.PathEscape(collection), body, false)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body), nil
}

// Patch applies ops. Patches made only of add/replace ops are retried; any other patch is sent once.
func (c *HTTPClient) Patch(ctx context.Context, collection, id string, ops []models.PatchOp) (json.RawMessage, error) {
	body, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("failed to encode patch: %w", err)
	}

	resp, err := c.request(ctx, http.MethodPatch, itemPath(collection, id), body, models.Idempotent(ops))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body), nil
}

// Delete removes a document. It is never retried.
func (c *HTTPClient) Delete(ctx context.Context, collection, id string) error {
	_, err := c.request(ctx, http.MethodDelete, itemPath(collection, id), nil, false)
	return err
}

// request sends one request, retrying transient failures when retry is set, and maps the final status to an error.
func (c *HTTPClient) request(ctx context.Context, method, path string, body []byte, retry bool) (*APIResponse, error) {
	tries := 1
	if retry {
		tries = c.maxTries
	}

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s %s: %w", shared.ErrTransient, method, path, err)
		}

		resp, err := c.Do(ctx, method, path, body)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, statusError(method, path, resp)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt >= tries {
			if err != nil {
				return nil, fmt.Errorf("%w: %s %s: %w", shared.ErrTransient, method, path, err)
			}
			return resp, statusError(method, path, resp)
		}

		var reason string
		if err != nil {
			reason = err.Error()
		} else {
			reason = resp.status()
		}
		c.logger.Warn("retrying catalogue request", "method", method, "path", path,
			"attempt", attempt, "of", tries, "reason", reason, "wait", c.retryAfter)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryAfter):
		}
	}
}

func itemPath(collection, id string) string {
	return "/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
}

var retryableStatuses = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

func retryableStatus(code int) bool {
	return slices.Contains(retryableStatuses, code)
}

func (r *APIResponse) status() string {
	return fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode))
}

// message extracts {"error": "..."} or {"message": "..."} from the body, falling back to the raw text.
func (r *APIResponse) message() string {
	if m, ok := r.JSONData.(map[string]any); ok {
		for _, k := range []string{"error", "message", "detail"} {
			if s, ok := m[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(r.Body))
}

func statusError(method, path string, resp *APIResponse) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var kind error
	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = shared.ErrUnauthorized
	case code == http.StatusNotFound:
		kind = shared.ErrNotFound
	case code == http.StatusConflict && method == http.MethodPost:
		kind = shared.ErrAlreadyExists
	case code == http.StatusConflict || code == http.StatusPreconditionFailed:
		kind = shared.ErrConflict
	case code == http.StatusUnprocessableEntity && method == http.MethodPatch:
		kind = shared.ErrInvalidPatch
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		kind = shared.ErrInvalidInput
	case retryableStatus(code):
		kind = shared.ErrTransient
	default:
		kind = shared.ErrAPIRequest
	}
	return fmt.Errorf("%w: %s %s: %s: %s", kind, method, path, resp.status(), resp.message())
}

// traceTransport adds the process trace headers to every request.
type traceTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// IsRetryable reports whether err is worth another attempt later.
func IsRetryable(err error) bool {
	return errors.Is(err, shared.ErrTransient)
}
