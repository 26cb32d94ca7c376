// Package upstream wraps the WhatsApp Cloud API send endpoint, grounded on
// original_source/server/whatsapp/outbound.py's OutboundClient plus the
// plain net/http.Client pattern from aniladanir's msgsender.go (timeout'd
// client, context-scoped request, header injection).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAPIVersion = "v22.0"
	metaGraphAPIBase  = "https://graph.facebook.com"
	requestTimeout    = 30 * time.Second
)

// retryableCodes mirrors MetaAPIError.from_response's is_retryable set:
// transient conditions worth a backoff-and-retry rather than a permanent
// failure.
var retryableCodes = map[int]bool{
	1:      true, // unknown error
	2:      true, // service temporarily unavailable
	4:      true, // rate limit hit
	17:     true, // user request limit reached
	341:    true, // application limit reached
	368:    true, // temporarily blocked
	130429: true, // Cloud API rate limit
}

// Outcome classifies a send attempt for the Dispatcher's step 6.
type Outcome int

const (
	Accepted Outcome = iota
	TransientFailure
	PermanentFailure
	RateLimited
)

// APIError carries the classified Meta Graph API error, when present.
type APIError struct {
	StatusCode int
	Code       int
	Subcode    int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("meta api error %d (http %d): %s", e.Code, e.StatusCode, e.Message)
}

// Result is what the Dispatcher inspects after a send attempt.
type Result struct {
	UpstreamMessageID string
	Outcome           Outcome
	Err               *APIError
	// RetryAfter is the duration the upstream asked us to wait, parsed
	// from a 429's Retry-After header (§4.3). Zero means the upstream
	// didn't send one and the Dispatcher should fall back to its own
	// backoff schedule.
	RetryAfter time.Duration
}

// Client sends rendered payloads to the messages endpoint of whichever
// phone number each Send call names. One Client can be shared across all
// sends (stdlib http.Client pools connections by host), which is how
// cmd/worker uses it.
type Client struct {
	http       *http.Client
	apiVersion string
	baseURL    string
	log        *zap.Logger
}

func New(apiVersion string) *Client {
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	return &Client{
		http:       &http.Client{Timeout: requestTimeout},
		apiVersion: apiVersion,
		baseURL:    metaGraphAPIBase,
	}
}

// WithTimeout overrides the client's total per-request timeout, mirroring
// upstream.total_timeout_ms in spec.md §6.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.http.Timeout = d
	return c
}

// WithLogger attaches a logger used to log loudly (§4.3) when a 2xx
// response can't be classified as Accepted.
func (c *Client) WithLogger(log *zap.Logger) *Client {
	c.log = log
	return c
}

// NewWithBaseURL is New with the Graph API base overridden, for tests that
// stand up an httptest.Server in place of graph.facebook.com.
func NewWithBaseURL(apiVersion, baseURL string) *Client {
	c := New(apiVersion)
	c.baseURL = baseURL
	return c
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Code         int    `json:"code"`
		Message      string `json:"message"`
		ErrorSubcode int    `json:"error_subcode"`
	} `json:"error"`
}

// Send POSTs the rendered payload to
// {base}/{apiVersion}/{upstreamPhoneID}/messages with the given bearer
// token, carrying idempotencyKey (the Message id, invariant 4) as a
// request-level idempotency header, and classifies the outcome the way
// the Dispatcher needs it.
func (c *Client) Send(ctx context.Context, accessToken, upstreamPhoneID, idempotencyKey string, payload map[string]any) Result {
	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, upstreamPhoneID)

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Outcome: PermanentFailure, Err: &APIError{Message: "marshal payload: " + err.Error()}}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Outcome: TransientFailure, Err: &APIError{Message: "build request: " + err.Error()}}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Outcome: TransientFailure, Err: &APIError{Message: "network error: " + err.Error()}}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Outcome: TransientFailure, Err: &APIError{StatusCode: resp.StatusCode, Message: "read response: " + err.Error()}}
	}

	var parsed sendResponse
	parseErr := json.Unmarshal(raw, &parsed)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		result := classifyError(resp.StatusCode, parsed)
		if result.Outcome == RateLimited {
			result.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return result
	}

	// A 2xx whose body can't be parsed into messages[0].id is a recoverable
	// condition (§4.3): the send may well have gone through, so this is
	// retried rather than failed outright.
	if parseErr != nil {
		c.logLoud("upstream: 2xx response body failed to parse, retrying", resp.StatusCode, parseErr)
		return Result{Outcome: TransientFailure, Err: &APIError{StatusCode: resp.StatusCode, Message: "parse 2xx response: " + parseErr.Error()}}
	}
	if len(parsed.Messages) == 0 {
		c.logLoud("upstream: 2xx response carried no message id, retrying", resp.StatusCode, nil)
		return Result{Outcome: TransientFailure, Err: &APIError{StatusCode: resp.StatusCode, Message: "no message id in response"}}
	}

	return Result{UpstreamMessageID: parsed.Messages[0].ID, Outcome: Accepted}
}

func (c *Client) logLoud(msg string, statusCode int, err error) {
	if c.log == nil {
		return
	}
	fields := []zap.Field{zap.Int("status_code", statusCode)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	c.log.Warn(msg, fields...)
}

func classifyError(statusCode int, parsed sendResponse) Result {
	code, subcode, message := statusCode, 0, "unknown error"
	if parsed.Error != nil {
		code = parsed.Error.Code
		subcode = parsed.Error.ErrorSubcode
		message = parsed.Error.Message
	}

	apiErr := &APIError{StatusCode: statusCode, Code: code, Subcode: subcode, Message: message}

	switch {
	case statusCode == http.StatusTooManyRequests || code == 4 || code == 130429:
		return Result{Outcome: RateLimited, Err: apiErr}
	case statusCode >= 500 || retryableCodes[code]:
		return Result{Outcome: TransientFailure, Err: apiErr}
	default:
		return Result{Outcome: PermanentFailure, Err: apiErr}
	}
}

// parseRetryAfter accepts the delta-seconds form of Retry-After, the only
// one Meta's Graph API has been observed to send; an unparseable or absent
// header yields zero, telling the Dispatcher to use its own backoff.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
