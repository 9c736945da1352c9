// Package lms implements the LMS telemetry API client.
// This package handles all communication with the upstream learning platform:
// learner profiles, objective metadata, review events, study sessions, and
// objective outcomes consumed by the analytics core.
package lms

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/studyloop/insight-engine/pkg/circuitbreaker"
	"github.com/studyloop/insight-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the LMS API client.
type ClientConfig struct {
	// BaseURL is the LMS API base URL
	BaseURL string

	// APIKey is the API key for authentication (if applicable)
	APIKey string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimiterConfig for API rate limiting
	RateLimiterConfig RateLimiterConfig

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables debug logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           30 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the LMS telemetry API client.
type Client struct {
	config         ClientConfig
	httpClient     *http.Client
	logger         *slog.Logger
	rateLimiter    *RateLimiter
	circuitBreaker *circuitbreaker.CircuitBreaker
	retrier        *retry.Retrier
	mapper         *Mapper

	// Token management
	token   *TokenDTO
	tokenMu sync.RWMutex
}

// NewClient creates a new LMS API client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	logger := config.Logger.With("component", "lms_client")

	breaker := circuitbreaker.LMSAPIBreaker(func(name string, from, to circuitbreaker.State) {
		logger.Warn("circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
	})

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:         logger,
		rateLimiter:    NewRateLimiter(config.RateLimiterConfig),
		circuitBreaker: breaker,
		retrier:        retry.LMSAPIRetrier(),
		mapper:         NewMapper(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// Authenticate signs in with Basic Auth and stores the returned bearer token
// for subsequent requests.
func (c *Client) Authenticate(ctx context.Context, email, password string) (*TokenDTO, error) {
	fullURL := c.config.BaseURL + "/api/v1/auth/signin"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	credentials := email + ":" + password
	encoded := base64.StdEncoding.EncodeToString([]byte(credentials))
	req.Header.Set("Authorization", "Basic "+encoded)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var authResponse struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   string `json:"expires_at"`
	}
	if err := json.Unmarshal(respBody, &authResponse); err != nil {
		return nil, fmt.Errorf("parse auth response: %w", err)
	}

	token := TokenDTO{
		AccessToken: authResponse.AccessToken,
		TokenType:   "Bearer",
	}
	if authResponse.ExpiresAt != "" {
		if expiresAt, err := time.Parse(time.RFC3339, authResponse.ExpiresAt); err == nil {
			token.ExpiresAt = expiresAt
		}
	}

	c.tokenMu.Lock()
	c.token = &token
	c.tokenMu.Unlock()

	return &token, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNER OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetLearner fetches a single learner by ID.
func (c *Client) GetLearner(ctx context.Context, learnerID string) (*LearnerDTO, error) {
	path := fmt.Sprintf("/api/v1/learners/%s", url.PathEscape(learnerID))

	var response APIResponse[LearnerDTO]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, fmt.Errorf("get learner %s: %w", learnerID, err)
	}

	if !response.Success {
		return nil, fmt.Errorf("api error: %s", response.Error)
	}

	return &response.Data, nil
}

// ListLearners fetches a page of learners with optional filters.
func (c *Client) ListLearners(ctx context.Context, req LearnersRequestDTO) ([]LearnerDTO, *Meta, error) {
	params := url.Values{}
	if req.IsActive != nil {
		params.Set("is_active", strconv.FormatBool(*req.IsActive))
	}
	if req.ModifiedSince != nil {
		params.Set("modified_since", req.ModifiedSince.Format(time.RFC3339))
	}
	if req.Page > 0 {
		params.Set("page", strconv.Itoa(req.Page))
	}
	if req.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(req.PerPage))
	}

	path := "/api/v1/learners"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var response APIResponse[[]LearnerDTO]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, nil, fmt.Errorf("list learners: %w", err)
	}

	if !response.Success {
		return nil, nil, fmt.Errorf("api error: %s", response.Error)
	}

	return response.Data, response.Meta, nil
}

// GetAllLearners fetches every learner, handling pagination.
func (c *Client) GetAllLearners(ctx context.Context) ([]LearnerDTO, error) {
	var all []LearnerDTO
	page := 1
	perPage := 100

	for {
		learners, meta, err := c.ListLearners(ctx, LearnersRequestDTO{
			Page:    page,
			PerPage: perPage,
		})
		if err != nil {
			return nil, fmt.Errorf("get all learners page %d: %w", page, err)
		}

		all = append(all, learners...)

		if len(learners) < perPage || (meta != nil && page >= meta.TotalPages) {
			break
		}
		page++
	}

	return all, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// OBJECTIVE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetObjective fetches a single objective by ID, including prerequisite links.
func (c *Client) GetObjective(ctx context.Context, objectiveID string) (*ObjectiveDTO, error) {
	path := fmt.Sprintf("/api/v1/objectives/%s", url.PathEscape(objectiveID))

	var response APIResponse[ObjectiveDTO]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, fmt.Errorf("get objective %s: %w", objectiveID, err)
	}

	if !response.Success {
		return nil, fmt.Errorf("api error: %s", response.Error)
	}

	return &response.Data, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TELEMETRY OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetReviewEvents fetches a learner's review events since the given time.
func (c *Client) GetReviewEvents(ctx context.Context, learnerID string, since time.Time) ([]ReviewDTO, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("since", since.Format(time.RFC3339))
	}

	path := fmt.Sprintf("/api/v1/learners/%s/reviews", url.PathEscape(learnerID))
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var response APIResponse[[]ReviewDTO]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, fmt.Errorf("get review events: %w", err)
	}

	if !response.Success {
		return nil, fmt.Errorf("api error: %s", response.Error)
	}

	return response.Data, nil
}

// GetSessions fetches a learner's study sessions since the given time.
func (c *Client) GetSessions(ctx context.Context, learnerID string, since time.Time) ([]SessionDTO, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("since", since.Format(time.RFC3339))
	}

	path := fmt.Sprintf("/api/v1/learners/%s/sessions", url.PathEscape(learnerID))
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var response APIResponse[[]SessionDTO]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, fmt.Errorf("get sessions: %w", err)
	}

	if !response.Success {
		return nil, fmt.Errorf("api error: %s", response.Error)
	}

	return response.Data, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNC OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetSyncDelta fetches changes since the last sync token. An empty token
// requests a full snapshot.
func (c *Client) GetSyncDelta(ctx context.Context, syncToken string) (*SyncDeltaDTO, error) {
	params := url.Values{}
	if syncToken != "" {
		params.Set("sync_token", syncToken)
	}

	path := "/api/v1/sync/delta"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var response APIResponse[SyncDeltaDTO]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, fmt.Errorf("get sync delta: %w", err)
	}

	if !response.Success {
		return nil, fmt.Errorf("api error: %s", response.Error)
	}

	return &response.Data, nil
}

// FetchBatch fetches the sync delta and maps it to domain telemetry in one
// call. This is the sync job's entry point.
func (c *Client) FetchBatch(ctx context.Context, syncToken string) (*TelemetryBatch, error) {
	delta, err := c.GetSyncDelta(ctx, syncToken)
	if err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}

	batch := c.mapper.BatchFromDelta(delta)
	if batch.Dropped > 0 {
		c.logger.Warn("dropped malformed telemetry records", "count", batch.Dropped)
	}

	return batch, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs an HTTP request with rate limiting, circuit breaking,
// and retries.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	return c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.rateLimiter.Allow(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}

			err := c.doSingleRequest(ctx, method, path, body, result)
			if err == nil {
				return nil
			}

			var rateLimitErr *RateLimitError
			if errors.As(err, &rateLimitErr) {
				c.rateLimiter.RecordRateLimitHit(rateLimitErr.RetryAfter)
				return retry.Retryable(err)
			}

			if c.isRetryable(err) {
				return retry.Retryable(err)
			}
			return retry.Permanent(err)
		})
	})
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	fullURL := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	c.tokenMu.RLock()
	if c.token != nil && !c.token.IsExpired() {
		req.Header.Set("Authorization", c.token.TokenType+" "+c.token.AccessToken)
	}
	c.tokenMu.RUnlock()

	if c.config.Debug {
		c.logger.Debug("lms api request", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 60 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{
			RetryAfter: retryAfter,
			Message:    "rate limit exceeded",
		}
	}

	if resp.StatusCode >= 400 {
		var apiErr APIErrorDTO
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Message != "" {
			return &apiErr
		}
		return fmt.Errorf("api error: status %d", resp.StatusCode)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// isRetryable checks if an error is worth retrying.
func (c *Client) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIErrorDTO
	if errors.As(err, &apiErr) {
		return apiErr.Code == "SERVER_ERROR" || apiErr.Code == "TEMPORARILY_UNAVAILABLE"
	}

	// Network errors are generally retryable
	errStr := err.Error()
	for _, marker := range []string{"timeout", "connection refused", "temporary", "reset", "EOF"} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// IsHealthy checks if the LMS API is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	var response APIResponse[map[string]interface{}]
	err := c.doSingleRequest(ctx, http.MethodGet, "/api/v1/health", nil, &response)
	return err == nil && response.Success
}

// ClientStatus is a point-in-time view of client health.
type ClientStatus struct {
	RateLimiter   RateLimiterStatus
	CircuitState  circuitbreaker.State
	CircuitCounts circuitbreaker.Counts
	IsHealthy     bool
}

// Status returns the current status of the client.
func (c *Client) Status(ctx context.Context) ClientStatus {
	return ClientStatus{
		RateLimiter:   c.rateLimiter.Status(),
		CircuitState:  c.circuitBreaker.State(),
		CircuitCounts: c.circuitBreaker.Counts(),
		IsHealthy:     c.IsHealthy(ctx),
	}
}

// Reset resets the rate limiter and circuit breaker.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.circuitBreaker.Reset()
}
