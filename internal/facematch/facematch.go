// Package facematch is the client for the external face recognition
// service. The engine hands it crop references; the service resolves the
// pixels against the recording pipeline's frame store and answers with the
// best gallery match.
package facematch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/camwatch/camwatch-go/internal/errors"
	"github.com/camwatch/camwatch-go/internal/frame"
	"github.com/camwatch/camwatch-go/internal/httpclient"
	"github.com/camwatch/camwatch-go/internal/logging"
	"github.com/camwatch/camwatch-go/internal/observability/metrics"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultBackoffBase = 500 * time.Millisecond
)

// Crop references the source pixels for one recognition request. The engine
// holds no image data; the service resolves the reference against the
// recorder's frame store.
type Crop struct {
	CameraID string     `json:"camera_id"`
	TrackID  int64      `json:"track_id"`
	PTS      time.Time  `json:"pts"`
	Box      frame.BBox `json:"box"`
}

// MatchResult is the outcome of one face search. ID is empty when no
// gallery entry matched at or above the confidence floor.
type MatchResult struct {
	ID         string  `json:"id"`
	Confidence float64 `json:"confidence"`
}

// Known reports whether the search resolved to a gallery identity.
func (r MatchResult) Known() bool { return r.ID != "" }

// Service is the face matching contract the engine dispatches against.
type Service interface {
	Search(ctx context.Context, crop Crop) (MatchResult, error)
}

// Config for the HTTP client.
type Config struct {
	Endpoint       string
	APIKey         string
	Timeout        time.Duration
	MinConfidence  float64 // matches below this are reported as unknown
	RequestsPerSec float64 // transport pacing, 0 disables
	MaxRetries     int
	Debug          bool
}

// Client implements Service over HTTP. Requests are paced by a token bucket;
// transient failures (network, timeout, 429, 5xx) are retried with
// exponential backoff, client errors are not.
type Client struct {
	cfg       Config
	http      *httpclient.Client
	limiter   *rate.Limiter
	log       *slog.Logger
	telemetry *metrics.ExternalMetrics

	backoffBase time.Duration
}

// searchResponse is the recognition service wire format.
type searchResponse struct {
	MatchID    string  `json:"match_id"`
	Confidence float64 `json:"confidence"`
}

// New creates a face match client on the shared transport.
func New(cfg Config, hc *httpclient.Client) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.Newf("face match endpoint is required").
			Category(errors.CategoryConfiguration).
			Component("facematch").
			Build()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		burst := int(cfg.RequestsPerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst)
	}

	log := logging.ForService("facematch")
	if log == nil {
		log = slog.Default()
	}
	log.Info("Face match client initialized",
		"endpoint", cfg.Endpoint,
		"requests_per_sec", cfg.RequestsPerSec,
		"min_confidence", cfg.MinConfidence,
		"api_key_configured", cfg.APIKey != "")

	return &Client{
		cfg:         cfg,
		http:        hc,
		limiter:     limiter,
		log:         log,
		backoffBase: defaultBackoffBase,
	}, nil
}

// SetMetrics attaches telemetry counters. Safe to skip; recording is a no-op
// until set.
func (c *Client) SetMetrics(m *metrics.ExternalMetrics) {
	c.telemetry = m
}

// Search submits the crop and returns the best match. A search that finds
// nothing at or above the confidence floor returns a zero MatchResult and no
// error; an error means the service could not be asked.
func (c *Client) Search(ctx context.Context, crop Crop) (MatchResult, error) {
	endpoint := strings.TrimRight(c.cfg.Endpoint, "/") + "/v1/faces/search"

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if c.telemetry != nil {
				c.telemetry.RecordRetry(metrics.OpFaceSearch)
			}
			if err := c.waitBackoff(ctx, attempt); err != nil {
				return MatchResult{}, err
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return MatchResult{}, errors.New(err).
					Category(errors.CategoryCancellation).
					Component("facematch").
					Build()
			}
		}

		start := time.Now()
		result, retryable, err := c.search(ctx, endpoint, crop)
		c.recordAttempt(time.Since(start), err)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return MatchResult{}, err
		}
		c.log.Warn("Face search failed, will retry",
			"camera_id", crop.CameraID,
			"track_id", crop.TrackID,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"error", err)
	}
	return MatchResult{}, lastErr
}

// recordAttempt feeds one round trip into the telemetry counters.
func (c *Client) recordAttempt(elapsed time.Duration, err error) {
	if c.telemetry == nil {
		return
	}
	c.telemetry.RecordDuration(metrics.OpFaceSearch, elapsed.Seconds())
	if err == nil {
		c.telemetry.RecordOperation(metrics.OpFaceSearch, metrics.StatusSuccess)
		return
	}
	c.telemetry.RecordOperation(metrics.OpFaceSearch, metrics.StatusError)
	errorType := string(errors.CategoryGeneric)
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		errorType = enhanced.GetCategory()
	}
	c.telemetry.RecordError(metrics.OpFaceSearch, errorType)
}

// search performs one request. The second return reports whether the failure
// is worth retrying.
func (c *Client) search(ctx context.Context, endpoint string, crop Crop) (MatchResult, bool, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(crop)
	if err != nil {
		return MatchResult{}, false, errors.New(err).
			Category(errors.CategoryValidation).
			Component("facematch").
			Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return MatchResult{}, false, errors.Newf("failed to create search request: %w", err).
			Category(errors.CategoryNetwork).
			Component("facematch").
			Build()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		category := errors.CategoryNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			category = errors.CategoryTimeout
		}
		return MatchResult{}, true, errors.Newf("face search request failed: %w", err).
			Category(category).
			Component("facematch").
			ServiceContext("face-match", c.cfg.Endpoint, c.cfg.Timeout).
			TrackContext(crop.CameraID, crop.TrackID).
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return MatchResult{}, true, errors.Newf("failed to read search response: %w", err).
			Category(errors.CategoryNetwork).
			Component("facematch").
			Build()
	}
	elapsed := time.Since(start)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return MatchResult{}, true, errors.Newf("face match service throttled the request").
			Category(errors.CategoryRateLimit).
			Component("facematch").
			Context("status_code", resp.StatusCode).
			Build()
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.log.Error("Face match service rejected credentials",
			"status_code", resp.StatusCode,
			"has_api_key", c.cfg.APIKey != "")
		return MatchResult{}, false, errors.Newf("face match auth failed (status %d)", resp.StatusCode).
			Category(errors.CategoryFaceMatch).
			Component("facematch").
			Context("status_code", resp.StatusCode).
			Build()
	case resp.StatusCode >= 500:
		return MatchResult{}, true, errors.Newf("face match service error (status %d)", resp.StatusCode).
			Category(errors.CategoryFaceMatch).
			Component("facematch").
			Context("status_code", resp.StatusCode).
			Timing("face_search", elapsed).
			Build()
	case resp.StatusCode >= 400:
		return MatchResult{}, false, errors.Newf("face search rejected (status %d): %s", resp.StatusCode, body).
			Category(errors.CategoryFaceMatch).
			Component("facematch").
			Context("status_code", resp.StatusCode).
			Build()
	}

	var wire searchResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return MatchResult{}, false, errors.Newf("invalid search response: %w", err).
			Category(errors.CategoryValidation).
			Component("facematch").
			Build()
	}

	if wire.MatchID == "" || wire.Confidence < c.cfg.MinConfidence {
		if c.cfg.Debug {
			c.log.Debug("Face search returned no usable match",
				"camera_id", crop.CameraID,
				"track_id", crop.TrackID,
				"confidence", wire.Confidence,
				"min_confidence", c.cfg.MinConfidence,
				"elapsed", elapsed)
		}
		return MatchResult{}, false, nil
	}

	if c.cfg.Debug {
		c.log.Debug("Face search resolved",
			"camera_id", crop.CameraID,
			"track_id", crop.TrackID,
			"match_id", wire.MatchID,
			"confidence", wire.Confidence,
			"elapsed", elapsed)
	}
	return MatchResult{ID: wire.MatchID, Confidence: wire.Confidence}, false, nil
}

// waitBackoff sleeps exponentially longer per attempt, honoring ctx.
func (c *Client) waitBackoff(ctx context.Context, attempt int) error {
	delay := c.backoffBase << (attempt - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Category(errors.CategoryCancellation).
			Component("facematch").
			Build()
	case <-timer.C:
		return nil
	}
}
