package socrata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/malbeclabs/citylake/utils/pkg/retry"
	"github.com/malbeclabs/citylake/warehouse/pkg/metrics"
)

const (
	DefaultBaseURL  = "https://data.cityofnewyork.us"
	DefaultPageSize = 50_000

	// FloatingTimestamp is the SoQL floating timestamp format.
	FloatingTimestamp = "2006-01-02T15:04:05.000"
)

type Config struct {
	Logger   *slog.Logger
	BaseURL  string
	AppToken string

	PageSize int
	// MaxRows caps the rows returned by one Fetch. Zero means no cap.
	MaxRows int

	// RequestsPerSecond limits request rate across all fetches on the client.
	RequestsPerSecond float64
	Retry             retry.Config
	HTTPClient        *http.Client
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxRows < 0 {
		return errors.New("max rows must not be negative")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return nil
}

// Query selects rows of one dataset.
type Query struct {
	Dataset string
	// Where is a SoQL $where clause. Empty selects every row.
	Where string
	// Order defaults to :id, which gives stable pagination.
	Order string
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }

type Client struct {
	log     *slog.Logger
	cfg     Config
	limiter *rate.Limiter
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	burst := max(1, int(cfg.RequestsPerSecond))
	return &Client{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}, nil
}

// Fetch returns every row matching q, paging with $limit and $offset until a short page.
func (c *Client) Fetch(ctx context.Context, q Query) ([]map[string]any, error) {
	if q.Dataset == "" {
		return nil, errors.New("dataset is required")
	}
	if q.Order == "" {
		q.Order = ":id"
	}

	var rows []map[string]any
	for offset := 0; ; {
		limit := c.cfg.PageSize
		if c.cfg.MaxRows > 0 {
			limit = min(limit, c.cfg.MaxRows-len(rows))
		}

		page, err := retry.DoValue(ctx, c.retryConfig(q.Dataset), func() ([]map[string]any, error) {
			return c.page(ctx, q, limit, offset)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s at offset %d: %w", q.Dataset, offset, err)
		}
		rows = append(rows, page...)
		offset += len(page)

		c.log.Debug("socrata: fetched page", "dataset", q.Dataset, "rows", len(page), "total", len(rows))
		if len(page) < limit {
			break
		}
		if c.cfg.MaxRows > 0 && len(rows) >= c.cfg.MaxRows {
			c.log.Warn("socrata: row cap reached, remaining rows skipped", "dataset", q.Dataset, "max_rows", c.cfg.MaxRows)
			break
		}
	}

	c.log.Info("socrata: fetched dataset", "dataset", q.Dataset, "rows", len(rows), "where", q.Where)
	return rows, nil
}

func (c *Client) retryConfig(dataset string) retry.Config {
	cfg := c.cfg.Retry
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		c.log.Warn("socrata: request failed, retrying", "dataset", dataset, "attempt", attempt, "backoff", backoff, "error", err)
	}
	return cfg
}

func (c *Client) page(ctx context.Context, q Query, limit, offset int) ([]map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("$limit", strconv.Itoa(limit))
	params.Set("$offset", strconv.Itoa(offset))
	params.Set("$order", q.Order)
	if q.Where != "" {
		params.Set("$where", q.Where)
	}
	u := fmt.Sprintf("%s/resource/%s.json?%s", c.cfg.BaseURL, url.PathEscape(q.Dataset), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.AppToken != "" {
		req.Header.Set("X-App-Token", c.cfg.AppToken)
	}

	start := time.Now()
	resp, err := c.cfg.HTTPClient.Do(req)
	metrics.FetchRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchRequestsTotal.WithLabelValues(q.Dataset, "error").Inc()
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.FetchRequestsTotal.WithLabelValues(q.Dataset, strconv.Itoa(resp.StatusCode)).Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	metrics.FetchRequestsTotal.WithLabelValues(q.Dataset, "ok").Inc()

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return rows, nil
}

// WindowWhere selects rows whose column falls in [start, end).
func WindowWhere(column string, start, end time.Time) string {
	return fmt.Sprintf("%s >= '%s' AND %s < '%s'",
		column, start.UTC().Format(FloatingTimestamp),
		column, end.UTC().Format(FloatingTimestamp))
}
