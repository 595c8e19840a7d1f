// Package plateocr is the client for the external license plate OCR
// service. On a gate fire the engine submits the vehicle crop reference; the
// service answers with plate text candidates and the client picks the best
// one above the confidence floor.
package plateocr

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

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

// Crop references the vehicle pixels for one OCR request.
type Crop struct {
	CameraID string     `json:"camera_id"`
	TrackID  int64      `json:"track_id"`
	PTS      time.Time  `json:"pts"`
	Box      frame.BBox `json:"box"`
}

// PlateResult is the best plate read. Text is empty when no candidate
// cleared the confidence floor. Text is normalized to uppercase
// alphanumerics; Region is the issuing region as reported by the service.
type PlateResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Region     string  `json:"region,omitempty"`
}

// Valid reports whether the read produced usable plate text.
func (r PlateResult) Valid() bool { return r.Text != "" }

// Service is the plate reading contract the engine dispatches against.
type Service interface {
	Read(ctx context.Context, crop Crop) (PlateResult, error)
}

// Config for the HTTP client.
type Config struct {
	Endpoint       string
	APIKey         string
	Timeout        time.Duration
	MinConfidence  float64 // candidates below this are discarded
	RequestsPerSec float64 // transport pacing, 0 disables
	MaxRetries     int
	Debug          bool
}

// Client implements Service over HTTP, with the same pacing and retry
// discipline as the face match client.
type Client struct {
	cfg       Config
	http      *httpclient.Client
	limiter   *rate.Limiter
	log       *slog.Logger
	telemetry *metrics.ExternalMetrics

	backoffBase time.Duration
}

// readResponse is the OCR service wire format. Candidates arrive in service
// order, not confidence order.
type readResponse struct {
	Plates []plateCandidate `json:"plates"`
}

type plateCandidate struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Region     string  `json:"region"`
}

// New creates a plate OCR client on the shared transport.
func New(cfg Config, hc *httpclient.Client) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.Newf("plate OCR endpoint is required").
			Category(errors.CategoryConfiguration).
			Component("plateocr").
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

	log := logging.ForService("plateocr")
	if log == nil {
		log = slog.Default()
	}
	log.Info("Plate OCR client initialized",
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

// Read submits the crop and returns the best plate candidate. A read where
// no candidate clears the floor returns a zero PlateResult and no error; an
// error means the service could not be asked.
func (c *Client) Read(ctx context.Context, crop Crop) (PlateResult, error) {
	endpoint := strings.TrimRight(c.cfg.Endpoint, "/") + "/v1/plates/read"

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if c.telemetry != nil {
				c.telemetry.RecordRetry(metrics.OpPlateRead)
			}
			if err := c.waitBackoff(ctx, attempt); err != nil {
				return PlateResult{}, err
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return PlateResult{}, errors.New(err).
					Category(errors.CategoryCancellation).
					Component("plateocr").
					Build()
			}
		}

		start := time.Now()
		result, retryable, err := c.read(ctx, endpoint, crop)
		c.recordAttempt(time.Since(start), err)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return PlateResult{}, err
		}
		c.log.Warn("Plate read failed, will retry",
			"camera_id", crop.CameraID,
			"track_id", crop.TrackID,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"error", err)
	}
	return PlateResult{}, lastErr
}

// recordAttempt feeds one round trip into the telemetry counters.
func (c *Client) recordAttempt(elapsed time.Duration, err error) {
	if c.telemetry == nil {
		return
	}
	c.telemetry.RecordDuration(metrics.OpPlateRead, elapsed.Seconds())
	if err == nil {
		c.telemetry.RecordOperation(metrics.OpPlateRead, metrics.StatusSuccess)
		return
	}
	c.telemetry.RecordOperation(metrics.OpPlateRead, metrics.StatusError)
	errorType := string(errors.CategoryGeneric)
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		errorType = enhanced.GetCategory()
	}
	c.telemetry.RecordError(metrics.OpPlateRead, errorType)
}

func (c *Client) read(ctx context.Context, endpoint string, crop Crop) (PlateResult, bool, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(crop)
	if err != nil {
		return PlateResult{}, false, errors.New(err).
			Category(errors.CategoryValidation).
			Component("plateocr").
			Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return PlateResult{}, false, errors.Newf("failed to create read request: %w", err).
			Category(errors.CategoryNetwork).
			Component("plateocr").
			Build()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		category := errors.CategoryNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			category = errors.CategoryTimeout
		}
		return PlateResult{}, true, errors.Newf("plate read request failed: %w", err).
			Category(category).
			Component("plateocr").
			ServiceContext("plate-ocr", c.cfg.Endpoint, c.cfg.Timeout).
			TrackContext(crop.CameraID, crop.TrackID).
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return PlateResult{}, true, errors.Newf("failed to read OCR response: %w", err).
			Category(errors.CategoryNetwork).
			Component("plateocr").
			Build()
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return PlateResult{}, true, errors.Newf("plate OCR service throttled the request").
			Category(errors.CategoryRateLimit).
			Component("plateocr").
			Context("status_code", resp.StatusCode).
			Build()
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.log.Error("Plate OCR service rejected credentials",
			"status_code", resp.StatusCode,
			"has_api_key", c.cfg.APIKey != "")
		return PlateResult{}, false, errors.Newf("plate OCR auth failed (status %d)", resp.StatusCode).
			Category(errors.CategoryPlateOCR).
			Component("plateocr").
			Context("status_code", resp.StatusCode).
			Build()
	case resp.StatusCode >= 500:
		return PlateResult{}, true, errors.Newf("plate OCR service error (status %d)", resp.StatusCode).
			Category(errors.CategoryPlateOCR).
			Component("plateocr").
			Context("status_code", resp.StatusCode).
			Build()
	case resp.StatusCode >= 400:
		return PlateResult{}, false, errors.Newf("plate read rejected (status %d): %s", resp.StatusCode, body).
			Category(errors.CategoryPlateOCR).
			Component("plateocr").
			Context("status_code", resp.StatusCode).
			Build()
	}

	var wire readResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return PlateResult{}, false, errors.Newf("invalid OCR response: %w", err).
			Category(errors.CategoryValidation).
			Component("plateocr").
			Build()
	}
	return c.pickBest(wire.Plates, crop), false, nil
}

// pickBest selects the highest-confidence candidate that clears the floor
// and still has text after normalization.
func (c *Client) pickBest(candidates []plateCandidate, crop Crop) PlateResult {
	var best PlateResult
	for _, cand := range candidates {
		if cand.Confidence < c.cfg.MinConfidence {
			continue
		}
		text := NormalizePlate(cand.Text)
		if text == "" {
			continue
		}
		if !best.Valid() || cand.Confidence > best.Confidence {
			best = PlateResult{Text: text, Confidence: cand.Confidence, Region: cand.Region}
		}
	}

	if c.cfg.Debug {
		c.log.Debug("Plate read resolved",
			"camera_id", crop.CameraID,
			"track_id", crop.TrackID,
			"candidates", len(candidates),
			"plate", best.Text,
			"confidence", best.Confidence)
	}
	return best
}

// NormalizePlate uppercases the text and strips everything but letters and
// digits, so reads of the same plate compare equal across cameras.
func NormalizePlate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsLetter(r):
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
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
			Component("plateocr").
			Build()
	case <-timer.C:
		return nil
	}
}
