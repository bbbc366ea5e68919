package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
	"unicode"
)

// Response bodies are read up to maxLoggedResponseSize and kept up to
// maxStoredResponseSize.
const (
	maxStoredResponseSize = 1024
	maxLoggedResponseSize = 10 * 1024
)

// newHTTPClient returns a client with connection pooling
func newHTTPClient(timeoutSeconds int) *http.Client {
	return &http.Client{
		Timeout: time.Duration(timeoutSeconds) * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// DeliveryResult represents the result of a webhook delivery attempt
type DeliveryResult struct {
	Success      bool
	ResponseCode int
	ResponseBody string
	Error        error
}

// ComputeHMACSignature computes HMAC-SHA256 signature for a payload
func ComputeHMACSignature(payload, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// Deliver posts payload to cfg.URL. Only 2xx responses count as delivered.
func Deliver(ctx context.Context, client *http.Client, cfg *Config, payload string) DeliveryResult {
	finalURL := cfg.URL
	if cfg.ServiceToken != "" {
		finalURL = constructURLWithToken(cfg.URL, cfg.ServiceToken, cfg.Format)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, finalURL, bytes.NewBufferString(payload))
	if err != nil {
		slog.Error("failed to create webhook request", "url", cfg.URL, "error", err)
		return DeliveryResult{Error: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "MediaVault-Webhook/1.0")
	if cfg.Secret != "" {
		req.Header.Set("X-MediaVault-Signature", ComputeHMACSignature(payload, cfg.Secret))
		req.Header.Set("X-MediaVault-Signature-Algorithm", "sha256")
	}
	if cfg.ServiceToken != "" {
		addAuthHeaders(req, cfg.ServiceToken, cfg.Format)
	}

	startTime := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		slog.Error("webhook delivery failed", "url", cfg.URL, "duration", duration, "error", err)
		return DeliveryResult{Error: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxLoggedResponseSize))
	responseBody := string(bodyBytes)
	if err != nil {
		slog.Warn("failed to read webhook response body", "url", cfg.URL, "error", err)
		responseBody = fmt.Sprintf("failed to read response: %v", err)
	}

	storedResponseBody := responseBody
	if len(storedResponseBody) > maxStoredResponseSize {
		storedResponseBody = storedResponseBody[:maxStoredResponseSize] + "... (truncated)"
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if success {
		slog.Debug("webhook delivered",
			"url", cfg.URL,
			"status_code", resp.StatusCode,
			"duration", duration)
	} else {
		slog.Warn("webhook delivery received non-2xx status",
			"url", cfg.URL,
			"status_code", resp.StatusCode,
			"duration", duration,
			"response_body", storedResponseBody)
	}

	return DeliveryResult{
		Success:      success,
		ResponseCode: resp.StatusCode,
		ResponseBody: storedResponseBody,
	}
}

// CalculateRetryDelay calculates the delay before next retry using exponential backoff
func CalculateRetryDelay(attemptCount int) time.Duration {
	if attemptCount < 0 {
		return 1 * time.Second
	}
	if attemptCount > 30 {
		attemptCount = 30
	}

	// 1s, 2s, 4s, ... capped at 60s
	delay := time.Second * time.Duration(1<<uint(attemptCount))
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}

// ShouldRetry determines if a delivery should be retried based on attempt count and max retries
func ShouldRetry(attemptCount, maxRetries int) bool {
	return attemptCount < maxRetries
}

// constructURLWithToken adds the Gotify token as a query parameter
func constructURLWithToken(baseURL, token string, format WebhookFormat) string {
	if format != FormatGotify {
		return baseURL
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		slog.Error("failed to parse webhook URL for token injection", "url", baseURL, "error", err)
		return baseURL
	}
	query := parsedURL.Query()
	query.Set("token", token)
	parsedURL.RawQuery = query.Encode()
	return parsedURL.String()
}

// validateToken rejects tokens with control characters
func validateToken(token string) bool {
	for _, r := range token {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// addAuthHeaders sets the ntfy bearer token. Gotify takes its token in the
// URL and Discord embeds it in the webhook path.
func addAuthHeaders(req *http.Request, token string, format WebhookFormat) {
	if format != FormatNtfy {
		return
	}
	if !validateToken(token) {
		slog.Error("invalid service token contains control characters", "format", format)
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
