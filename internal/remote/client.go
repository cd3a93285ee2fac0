// Package remote talks to the research backend's task-records API.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/metrics"
)

// ErrCircuitOpen is returned while the breaker rejects backend calls.
var ErrCircuitOpen = errors.New("backend circuit breaker open")

const (
	recordsPath = "/task-records"

	defaultBaseURL         = "http://localhost:8080/api"
	defaultTimeout         = 10 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
	breakerHalfOpenProbes  = 1
	maxResponseBytes       = 4 << 20
)

// Config configures the client.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client performs idempotent create-or-update saves of task sessions.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	backoff    retry.Config
	log        logger.Logger
	metrics    *metrics.Metrics
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics records save outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client for cfg.BaseURL (default http://localhost:8080/api).
func NewClient(cfg Config, log logger.Logger, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaultBreakerFailures
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = defaultBreakerTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}

	backoff := retry.DefaultConfig()
	if cfg.InitialBackoff > 0 {
		backoff.InitialDelay = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		backoff.MaxDelay = cfg.MaxBackoff
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		backoff:    backoff,
		log:        log,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "task-records",
		MaxRequests: breakerHalfOpenProbes,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isPermanent(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Backend circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BreakerState returns the current breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// GetByTaskID fetches the record for a composite task id. It returns
// ErrRecordNotFound when the backend answers 404.
func (c *Client) GetByTaskID(ctx context.Context, taskID string) (*TaskRecord, error) {
	var rec TaskRecord
	err := c.do(ctx, http.MethodGet, recordsPath+"/task/"+url.PathEscape(taskID), nil, &rec)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByParticipant returns every record stored for a participant.
func (c *Client) ListByParticipant(ctx context.Context, participantID string) ([]TaskRecord, error) {
	var recs []TaskRecord
	err := c.do(ctx, http.MethodGet, recordsPath+"/participant/"+url.PathEscape(participantID), nil, &recs)
	if err != nil {
		return nil, fmt.Errorf("list participant records: %w", err)
	}
	return recs, nil
}

// Save looks the session up by task id, then updates the existing record or
// creates a new one. A failed lookup other than 404 is logged and treated as
// not found.
func (c *Client) Save(ctx context.Context, s *domain.TaskSession) error {
	rec := ToRecord(s)
	log := c.log.With(logger.String("task_id", rec.TaskID))

	existing, err := c.GetByTaskID(ctx, rec.TaskID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		log.Warn("Task record lookup failed, creating instead", logger.Error(err))
	}

	if existing != nil && existing.ID != nil {
		rec.ID = existing.ID
		path := recordsPath + "/" + strconv.FormatInt(*existing.ID, 10)
		if putErr := c.do(ctx, http.MethodPut, path, rec, nil); putErr != nil {
			return fmt.Errorf("update task record %d: %w", *existing.ID, putErr)
		}
		c.metrics.RecordSync(metrics.SyncUpdated)
		log.Debug("Task record updated", logger.Int64("record_id", *existing.ID))
		return nil
	}

	var created TaskRecord
	if postErr := c.do(ctx, http.MethodPost, recordsPath, rec, &created); postErr != nil {
		return fmt.Errorf("create task record: %w", postErr)
	}
	c.metrics.RecordSync(metrics.SyncCreated)
	if created.ID == nil {
		log.Warn("Backend created task record without id", logger.Error(ErrNoRecordID))
		return nil
	}
	log.Debug("Task record created", logger.Int64("record_id", *created.ID))
	return nil
}

// SaveWithRetry makes one attempt plus up to maxRetries retries with bounded
// exponential backoff. It reports whether any attempt succeeded.
func (c *Client) SaveWithRetry(ctx context.Context, s *domain.TaskSession, maxRetries int) bool {
	cfg := c.backoff
	cfg.MaxAttempts = max(maxRetries, 0) + 1
	cfg.IsRetryable = func(err error) bool {
		return !isPermanent(err) && !errors.Is(err, ErrCircuitOpen)
	}
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.log.Debug("Retrying task record save",
			logger.String("task_id", s.TaskID),
			logger.Int("attempt", attempt),
			logger.Duration("wait", wait),
			logger.Error(err),
		)
	}

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		return c.Save(ctx, s)
	})
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		c.log.Debug("Task record save cancelled", logger.String("task_id", s.TaskID))
		return false
	}
	if err != nil {
		c.metrics.RecordSync(metrics.SyncFailed)
		c.log.Error("Failed to save task record",
			logger.String("task_id", s.TaskID),
			logger.Int("max_retries", maxRetries),
			logger.Error(err),
		)
		return false
	}
	return true
}

// DeleteAll removes every record on the backend.
func (c *Client) DeleteAll(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, recordsPath, nil, nil); err != nil {
		return fmt.Errorf("delete all task records: %w", err)
	}
	return nil
}

// Ping checks that the records endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, recordsPath, nil, nil); err != nil {
		return fmt.Errorf("ping backend: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, in)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err = json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in any) ([]byte, error) {
	var reqBody io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet &&
		strings.HasPrefix(path, recordsPath+"/task/") {
		return nil, ErrRecordNotFound
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, parseHTTPError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}
