package shiftpolicy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/camwatch/camwatch-go/internal/errors"
	"github.com/camwatch/camwatch-go/internal/httpclient"
	"github.com/camwatch/camwatch-go/internal/logging"
	"github.com/camwatch/camwatch-go/internal/observability/metrics"
)

const defaultBackoffBase = 500 * time.Millisecond

// HTTPConfig configures the HR backend provider.
type HTTPConfig struct {
	Endpoint   string        // base URL of the HR backend
	APIKey     string        // sent as X-Api-Key
	Timeout    time.Duration // per-request timeout, 0 uses the transport default
	MaxRetries int           // retry attempts on transient failures
}

// HTTPProvider fetches shift policies from an HR backend. Transient
// failures (network errors, 5xx) are retried with exponential backoff;
// client errors are not.
type HTTPProvider struct {
	cfg       HTTPConfig
	http      *httpclient.Client
	log       *slog.Logger
	telemetry metrics.Recorder

	backoffBase time.Duration
}

// shiftResponse is the HR backend wire format.
type shiftResponse struct {
	ShiftStart            string `json:"shift_start"`
	ShiftEnd              string `json:"shift_end"`
	LateGraceMinutes      int    `json:"late_grace_minutes"`
	EarlyExitGraceMinutes int    `json:"early_exit_grace_minutes"`
}

// NewHTTP creates an HR backend provider on the shared transport.
func NewHTTP(cfg HTTPConfig, hc *httpclient.Client) *HTTPProvider {
	log := logging.ForService("shiftpolicy")
	if log == nil {
		log = slog.Default()
	}
	return &HTTPProvider{
		cfg:         cfg,
		http:        hc,
		log:         log,
		backoffBase: defaultBackoffBase,
	}
}

// SetMetrics attaches telemetry counters. Safe to skip; recording is a no-op
// until set.
func (p *HTTPProvider) SetMetrics(r metrics.Recorder) {
	p.telemetry = r
}

// Policy fetches the employee's shift policy.
func (p *HTTPProvider) Policy(ctx context.Context, employeeID string) (ShiftPolicy, error) {
	endpoint := fmt.Sprintf("%s/employees/%s/shift",
		strings.TrimRight(p.cfg.Endpoint, "/"), url.PathEscape(employeeID))

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := p.waitBackoff(ctx, attempt); err != nil {
				return ShiftPolicy{}, err
			}
		}

		start := time.Now()
		policy, retryable, err := p.fetch(ctx, endpoint, employeeID)
		p.recordAttempt(time.Since(start), err)
		if err == nil {
			return policy, nil
		}
		lastErr = err
		if !retryable {
			return ShiftPolicy{}, err
		}
		p.log.Warn("Shift policy fetch failed, will retry",
			"employee_id", employeeID,
			"attempt", attempt+1,
			"max_retries", p.cfg.MaxRetries,
			"error", err)
	}
	return ShiftPolicy{}, lastErr
}

// recordAttempt feeds one round trip into the telemetry counters.
func (p *HTTPProvider) recordAttempt(elapsed time.Duration, err error) {
	if p.telemetry == nil {
		return
	}
	p.telemetry.RecordDuration(metrics.OpPolicyFetch, elapsed.Seconds())
	if err == nil {
		p.telemetry.RecordOperation(metrics.OpPolicyFetch, metrics.StatusSuccess)
		return
	}
	p.telemetry.RecordOperation(metrics.OpPolicyFetch, metrics.StatusError)
	errorType := string(errors.CategoryGeneric)
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		errorType = enhanced.GetCategory()
	}
	p.telemetry.RecordError(metrics.OpPolicyFetch, errorType)
}

// fetch performs one request. The second return reports whether the failure
// is worth retrying.
func (p *HTTPProvider) fetch(ctx context.Context, endpoint, employeeID string) (ShiftPolicy, bool, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return ShiftPolicy{}, false, errors.Newf("failed to create shift request: %w", err).
			Category(errors.CategoryNetwork).
			Component("shiftpolicy").
			Build()
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", p.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(ctx, req)
	if err != nil {
		category := errors.CategoryNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			category = errors.CategoryTimeout
		}
		return ShiftPolicy{}, true, errors.Newf("shift policy request failed: %w", err).
			Category(category).
			Component("shiftpolicy").
			ServiceContext("hr-backend", p.cfg.Endpoint, p.cfg.Timeout).
			Context("employee_id", employeeID).
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ShiftPolicy{}, true, errors.Newf("failed to read shift response: %w", err).
			Category(errors.CategoryNetwork).
			Component("shiftpolicy").
			Build()
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ShiftPolicy{}, false, errors.Newf("no shift policy for employee %s", employeeID).
			Category(errors.CategoryNotFound).
			Component("shiftpolicy").
			Build()
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		p.log.Error("HR backend rejected credentials",
			"status_code", resp.StatusCode,
			"has_api_key", p.cfg.APIKey != "")
		return ShiftPolicy{}, false, errors.Newf("HR backend auth failed (status %d)", resp.StatusCode).
			Category(errors.CategoryShiftPolicy).
			Component("shiftpolicy").
			Context("status_code", resp.StatusCode).
			Build()
	case resp.StatusCode >= 500:
		return ShiftPolicy{}, true, errors.Newf("HR backend error (status %d)", resp.StatusCode).
			Category(errors.CategoryShiftPolicy).
			Component("shiftpolicy").
			Context("status_code", resp.StatusCode).
			Build()
	case resp.StatusCode >= 400:
		return ShiftPolicy{}, false, errors.Newf("shift policy request rejected (status %d): %s", resp.StatusCode, body).
			Category(errors.CategoryShiftPolicy).
			Component("shiftpolicy").
			Context("status_code", resp.StatusCode).
			Build()
	}

	var wire shiftResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return ShiftPolicy{}, false, errors.Newf("invalid shift response: %w", err).
			Category(errors.CategoryValidation).
			Component("shiftpolicy").
			Build()
	}
	return p.toPolicy(wire, employeeID)
}

// toPolicy converts the wire format, validating the clock fields.
func (p *HTTPProvider) toPolicy(wire shiftResponse, employeeID string) (ShiftPolicy, bool, error) {
	start, err := ParseTimeOfDay(wire.ShiftStart)
	if err != nil {
		return ShiftPolicy{}, false, err
	}
	end, err := ParseTimeOfDay(wire.ShiftEnd)
	if err != nil {
		return ShiftPolicy{}, false, err
	}
	p.log.Debug("Shift policy fetched",
		"employee_id", employeeID,
		"shift_start", wire.ShiftStart,
		"shift_end", wire.ShiftEnd)
	return ShiftPolicy{
		Start:          start,
		End:            end,
		LateGrace:      time.Duration(wire.LateGraceMinutes) * time.Minute,
		EarlyExitGrace: time.Duration(wire.EarlyExitGraceMinutes) * time.Minute,
	}, false, nil
}

// waitBackoff sleeps exponentially longer per attempt, honoring ctx.
func (p *HTTPProvider) waitBackoff(ctx context.Context, attempt int) error {
	delay := p.backoffBase << (attempt - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Category(errors.CategoryCancellation).
			Component("shiftpolicy").
			Build()
	case <-timer.C:
		return nil
	}
}
