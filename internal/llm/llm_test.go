package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/joseph-ayodele/paper-translate/internal/common"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		status  int
		code    string
		message string
		want    Classification
	}{
		{0, "", "connection reset", Retryable},
		{http.StatusTooManyRequests, "rate_limit_exceeded", "slow down", Retryable},
		{http.StatusTooManyRequests, "insufficient_quota", "You exceeded your current quota", Fatal},
		{http.StatusInternalServerError, "", "oops", Retryable},
		{http.StatusServiceUnavailable, "", "overloaded", Retryable},
		{http.StatusUnauthorized, "", "bad key", Fatal},
		{http.StatusPaymentRequired, "", "Insufficient Balance", Fatal},
		{http.StatusForbidden, "", "Insufficient balance on account", Fatal},
		{http.StatusForbidden, "", "Invalid API key provided", Fatal},
		{http.StatusForbidden, "model_not_allowed", "this model is not available in your region", Fallback},
		{http.StatusBadRequest, "invalid_api_key", "Incorrect API key", Fatal},
		{http.StatusBadRequest, "context_length_exceeded", "too long", Fallback},
		{http.StatusNotFound, "model_not_found", "no such model", Fallback},
		{http.StatusUnprocessableEntity, "", "bad params", Fallback},
		{http.StatusConflict, "", "conflict", Fallback},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%s", tt.status, tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.status, tt.code, tt.message))
		})
	}
}

func TestClassificationHelpers(t *testing.T) {
	fatal := fmt.Errorf("wrapped: %w", &APIError{Status: 401, Classification: Fatal})
	assert.True(t, IsFatal(fatal))
	assert.False(t, IsRetryable(fatal))
	assert.True(t, IsFallback(&APIError{Status: 404, Classification: Fallback}))
	assert.True(t, IsRetryable(errors.New("dial tcp: i/o timeout")))
	assert.False(t, IsRetryable(nil))

	d, ok := RetryAfter(&APIError{Classification: Retryable, RetryAfter: 3 * time.Second})
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)
}

func TestParseErrorBody(t *testing.T) {
	code, msg := ParseErrorBody([]byte(`{"error":{"message":"Insufficient Balance","type":"unknown_error","code":"invalid_request_error"}}`))
	assert.Equal(t, "invalid_request_error", code)
	assert.Equal(t, "Insufficient Balance", msg)

	code, msg = ParseErrorBody([]byte(`{"error":{"message":"Rate limited","code":429}}`))
	assert.Equal(t, "429", code)
	assert.Equal(t, "Rate limited", msg)

	code, msg = ParseErrorBody([]byte(`{"error":{"message":"bad","type":"authentication_error","code":null}}`))
	assert.Equal(t, "authentication_error", code)
	assert.Equal(t, "bad", msg)

	_, msg = ParseErrorBody([]byte(`{"error":"model overloaded"}`))
	assert.Equal(t, "model overloaded", msg)

	_, msg = ParseErrorBody([]byte(`<html>502 Bad Gateway</html>`))
	assert.Equal(t, "<html>502 Bad Gateway</html>", msg)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, 7*time.Second, ParseRetryAfter("7", now))
	assert.Equal(t, 30*time.Second, ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, ParseRetryAfter("", now))
	assert.Zero(t, ParseRetryAfter("soon", now))
}

func TestCleanTranslation(t *testing.T) {
	tests := map[string]string{
		"plain answer":                         "plain answer",
		"  padded  ":                           "padded",
		"```\nfenced ⟦MATH_0⟧\n```":            "fenced ⟦MATH_0⟧",
		"```text\nTranslation: inner\n```":     "inner",
		"Translation: The result holds.":       "The result holds.",
		"English translation：结果":              "结果",
		"A Translation: is not a leading label": "A Translation: is not a leading label",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanTranslation(in), in)
	}
}

func TestBuildSystemPrompt_IncludesOnlyRelevantGlossary(t *testing.T) {
	glossary := []common.GlossaryEntry{
		{Source: "图神经网络", Target: "graph neural network"},
		{Source: "强化学习", Target: "reinforcement learning"},
	}
	p := BuildSystemPrompt("本文提出一种图神经网络方法。", glossary)
	assert.Contains(t, p, "图神经网络 → graph neural network")
	assert.NotContains(t, p, "reinforcement learning")
	assert.Contains(t, p, "⟦MATH_0⟧")
	assert.Contains(t, p, ParagraphSeparator)

	assert.False(t, strings.Contains(BuildSystemPrompt("无术语", glossary), "Use these term translations"))
}
