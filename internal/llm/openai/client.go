package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/paper-translate/internal/llm"
	"github.com/joseph-ayodele/paper-translate/internal/metrics"
	"github.com/joseph-ayodele/paper-translate/internal/retry"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Translate implements llm.Translator with chat/completions. Retryable
// failures are retried on the same model with capped exponential backoff;
// fatal and fallback failures return immediately.
func (c *Client) Translate(ctx context.Context, req llm.Request) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	body := chatRequest{
		Model:       req.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: llm.BuildSystemPrompt(req.Text, req.Glossary)},
			{Role: "user", Content: req.Text},
		},
	}

	c.logger.Debug("llm.translate.start",
		"req_id", rid,
		"model", req.Model,
		"temp", c.cfg.Temperature,
		"text_len", len(req.Text),
		"glossary_terms", len(llm.RelevantGlossary(req.Text, req.Glossary)),
	)

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	var out string
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: c.cfg.MaxAttempts,
		BaseDelay:   c.cfg.BaseDelay,
		MaxDelay:    c.cfg.MaxDelay,
		Retryable:   llm.IsRetryable,
		DelayHint:   llm.RetryAfter,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.logger.Warn("llm.translate.retry",
				"req_id", rid, "model", req.Model,
				"attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err,
			)
		},
	}, func(ctx context.Context) error {
		text, err := c.complete(ctx, rid, endpoint, body)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		c.logger.Error("llm.translate.failed",
			"req_id", rid, "model", req.Model,
			"classification", llm.ClassificationOf(err), "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", err
	}

	c.logger.Info("llm.translate.ok",
		"req_id", rid,
		"model", req.Model,
		"in_len", len(req.Text),
		"out_len", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// complete performs one HTTP round trip and classifies any failure.
func (c *Client) complete(ctx context.Context, rid, endpoint string, body chatRequest) (string, error) {
	start := time.Now()
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	resp, err := llm.SendJSON(ctx, c.http, endpoint, rid, body, headers, c.logger)
	metrics.LLMRequestDurationSeconds.WithLabelValues(body.Model).Observe(time.Since(start).Seconds())

	if resp == nil {
		// transport failure: no HTTP status at all
		return "", c.record(rid, &llm.APIError{
			Model:          body.Model,
			Message:        errString(err),
			Classification: llm.Retryable,
			Err:            err,
		})
	}
	if err != nil {
		code, msg := llm.ParseErrorBody(resp.Body)
		return "", c.record(rid, &llm.APIError{
			Status:         resp.Status,
			Code:           code,
			Message:        msg,
			Model:          body.Model,
			Classification: llm.Classify(resp.Status, code, msg),
			RetryAfter:     llm.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:            err,
		})
	}

	var cc chatResponse
	if err := json.Unmarshal(resp.Body, &cc); err != nil {
		return "", c.record(rid, &llm.APIError{
			Status:         resp.Status,
			Code:           "decode_error",
			Message:        err.Error(),
			Model:          body.Model,
			Classification: llm.Retryable,
			Err:            fmt.Errorf("decode chat response: %w", err),
		})
	}
	if len(cc.Choices) == 0 {
		return "", c.record(rid, &llm.APIError{
			Status:         resp.Status,
			Code:           "empty_choices",
			Message:        "no choices in response",
			Model:          body.Model,
			Classification: llm.Retryable,
		})
	}
	if cc.Choices[0].FinishReason == "length" {
		c.logger.Warn("llm.translate.truncated", "req_id", rid, "model", body.Model)
	}

	metrics.LLMRequests.WithLabelValues(body.Model, "ok").Inc()
	return cc.Choices[0].Message.Content, nil
}

// record logs and counts a classified failure before handing it back.
func (c *Client) record(rid string, apiErr *llm.APIError) error {
	metrics.LLMRequests.WithLabelValues(apiErr.Model, "error").Inc()
	metrics.LLMErrors.WithLabelValues(string(apiErr.Classification), strconv.Itoa(apiErr.Status)).Inc()

	attrs := []any{
		"req_id", rid,
		"status", apiErr.Status,
		"provider_code", apiErr.Code,
		"message", apiErr.Message,
		"model", apiErr.Model,
		"classification", apiErr.Classification,
	}
	if apiErr.Classification == llm.Fatal {
		c.logger.Error("llm.api.error", append(attrs, "alert", true)...)
	} else {
		c.logger.Warn("llm.api.error", attrs...)
	}
	return apiErr
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out: " + err.Error()
	}
	return err.Error()
}
