package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Classification says what a caller should do about a failed call.
type Classification string

const (
	// Retryable failures (rate limits, 5xx, network, empty responses) are
	// retried on the same model with backoff.
	Retryable Classification = "retryable"
	// Fatal failures (bad credentials, exhausted balance or quota) stop all
	// translation: no retry, no fallback model.
	Fatal Classification = "fatal"
	// Fallback failures are model or request specific; the next configured
	// model may succeed.
	Fallback Classification = "fallback"
)

// APIError is a classified translation API failure.
type APIError struct {
	Status         int // 0 for transport failures
	Code           string
	Message        string
	Model          string
	Classification Classification
	RetryAfter     time.Duration
	Err            error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm %s error: status=%d code=%q model=%s: %s", e.Classification, e.Status, e.Code, e.Model, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// providerFatalCodes are provider error codes that mean the account itself
// cannot make calls, whatever the HTTP status.
var providerFatalCodes = map[string]struct{}{
	"invalid_api_key":            {},
	"invalid_authentication":     {},
	"authentication_error":       {},
	"insufficient_quota":         {},
	"insufficient_balance":       {},
	"billing_hard_limit_reached": {},
	"account_deactivated":        {},
}

// fatalMarkers identify credential and balance problems in 403 bodies.
var fatalMarkers = []string{
	"api key", "api_key", "apikey",
	"credential", "unauthorized", "authentication",
	"insufficient balance", "insufficient_balance",
	"quota", "billing", "credit",
}

// Classify maps an HTTP status and provider error to a Classification.
func Classify(status int, code, message string) Classification {
	if _, ok := providerFatalCodes[strings.ToLower(code)]; ok {
		return Fatal
	}
	switch {
	case status == 0:
		return Retryable
	case status == http.StatusUnauthorized, status == http.StatusPaymentRequired:
		return Fatal
	case status == http.StatusForbidden:
		if hasFatalMarker(code + " " + message) {
			return Fatal
		}
		return Fallback
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return Retryable
	case status >= 500:
		return Retryable
	case status >= 400:
		return Fallback
	default:
		return Retryable
	}
}

func hasFatalMarker(s string) bool {
	s = strings.ToLower(s)
	for _, m := range fatalMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// ClassificationOf returns the classification carried by err. Errors that are
// not *APIError are treated as transport failures.
func ClassificationOf(err error) Classification {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Classification
	}
	return Retryable
}

func IsRetryable(err error) bool { return err != nil && ClassificationOf(err) == Retryable }

func IsFatal(err error) bool { return err != nil && ClassificationOf(err) == Fatal }

func IsFallback(err error) bool { return err != nil && ClassificationOf(err) == Fallback }

// RetryAfter extracts the server-requested delay from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}
	return 0, false
}

// ParseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// ParseErrorBody pulls the provider code and message out of an error response.
// It understands {"error":{"code","message","type"}}, {"error":"..."} and
// {"message":"..."}, and falls back to the raw body.
func ParseErrorBody(raw []byte) (code, message string) {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Code    json.RawMessage `json:"code"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", truncate(strings.TrimSpace(string(raw)), 500)
	}
	code = rawString(env.Code)
	message = env.Message

	if len(env.Error) > 0 {
		var nested struct {
			Message string          `json:"message"`
			Type    string          `json:"type"`
			Code    json.RawMessage `json:"code"`
		}
		if err := json.Unmarshal(env.Error, &nested); err == nil {
			if c := rawString(nested.Code); c != "" {
				code = c
			} else if code == "" {
				code = nested.Type
			}
			if nested.Message != "" {
				message = nested.Message
			}
		} else {
			var s string
			if json.Unmarshal(env.Error, &s) == nil && s != "" {
				message = s
			}
		}
	}
	if message == "" {
		message = truncate(strings.TrimSpace(string(raw)), 500)
	}
	return code, message
}

// rawString renders a JSON code that may be a string, a number or null.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
