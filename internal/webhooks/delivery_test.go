package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestComputeHMACSignature(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		secret  string
	}{
		{"basic signature", `{"event":"sync.completed"}`, "test-secret"},
		{"empty payload", "", "test-secret"},
		{"long secret", "test payload", "very-long-secret-key-12345678901234567890"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := computeExpectedHMAC(tt.payload, tt.secret)
			if got := ComputeHMACSignature(tt.payload, tt.secret); got != want {
				t.Errorf("ComputeHMACSignature() = %v, want %v", got, want)
			}
		})
	}
}

func computeExpectedHMAC(payload, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func TestCalculateRetryDelay(t *testing.T) {
	tests := []struct {
		name         string
		attemptCount int
		expected     time.Duration
	}{
		{"first retry", 0, 1 * time.Second},
		{"second retry", 1, 2 * time.Second},
		{"third retry", 2, 4 * time.Second},
		{"sixth retry", 5, 32 * time.Second},
		{"max capped at 60s", 6, 60 * time.Second},
		{"negative input", -1, 1 * time.Second},
		{"overflow protection", 31, 60 * time.Second},
		{"large value", 100, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateRetryDelay(tt.attemptCount); got != tt.expected {
				t.Errorf("CalculateRetryDelay(%d) = %v, want %v", tt.attemptCount, got, tt.expected)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name         string
		attemptCount int
		maxRetries   int
		expected     bool
	}{
		{"first attempt under max", 1, 5, true},
		{"at max retries", 5, 5, false},
		{"over max retries", 6, 5, false},
		{"max retries zero", 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRetry(tt.attemptCount, tt.maxRetries); got != tt.expected {
				t.Errorf("ShouldRetry(%d, %d) = %v, want %v", tt.attemptCount, tt.maxRetries, got, tt.expected)
			}
		})
	}
}

func TestDeliver_Success(t *testing.T) {
	payload := `{"event":"sync.completed"}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %s", r.Header.Get("Content-Type"))
		}
		if got := r.Header.Get("X-MediaVault-Signature"); got != computeExpectedHMAC(payload, "test-secret") {
			t.Errorf("signature = %s", got)
		}
		if r.Header.Get("X-MediaVault-Signature-Algorithm") != "sha256" {
			t.Errorf("algorithm = %s", r.Header.Get("X-MediaVault-Signature-Algorithm"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != payload {
			t.Errorf("body = %s", body)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"received"}`))
	}))
	defer server.Close()

	cfg := &Config{URL: server.URL, Secret: "test-secret", Format: FormatJSON}
	result := Deliver(context.Background(), newHTTPClient(5), cfg, payload)

	if !result.Success {
		t.Errorf("expected success, got failure: %v", result.Error)
	}
	if result.ResponseCode != 200 {
		t.Errorf("ResponseCode = %d, want 200", result.ResponseCode)
	}
	if result.ResponseBody != `{"status":"received"}` {
		t.Errorf("ResponseBody = %s", result.ResponseBody)
	}
}

func TestDeliver_NoSecretNoSignature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MediaVault-Signature") != "" {
			t.Error("signature header should be absent without a secret")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	result := Deliver(context.Background(), newHTTPClient(5), &Config{URL: server.URL, Format: FormatJSON}, `{}`)
	if !result.Success {
		t.Errorf("expected success: %v", result.Error)
	}
}

func TestDeliver_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal error"}`))
	}))
	defer server.Close()

	result := Deliver(context.Background(), newHTTPClient(5), &Config{URL: server.URL}, `{}`)

	if result.Success {
		t.Error("expected failure, got success")
	}
	if result.ResponseCode != 500 {
		t.Errorf("ResponseCode = %d, want 500", result.ResponseCode)
	}
}

func TestDeliver_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result := Deliver(ctx, newHTTPClient(5), &Config{URL: server.URL}, `{}`)
	if result.Success || result.Error == nil {
		t.Errorf("expected timeout error, got %+v", result)
	}
}

func TestDeliver_ResponseBodyTruncation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer server.Close()

	result := Deliver(context.Background(), newHTTPClient(5), &Config{URL: server.URL}, `{}`)
	if !result.Success {
		t.Errorf("expected success: %v", result.Error)
	}
	if want := maxStoredResponseSize + len("... (truncated)"); len(result.ResponseBody) != want {
		t.Errorf("ResponseBody length = %d, want %d", len(result.ResponseBody), want)
	}
}

func TestDeliver_ServiceTokens(t *testing.T) {
	tests := []struct {
		name      string
		format    WebhookFormat
		token     string
		wantQuery string
		wantAuth  string
	}{
		{"gotify uses query parameter", FormatGotify, "app&token", "app&token", ""},
		{"ntfy uses bearer header", FormatNtfy, "tk_abc", "", "Bearer tk_abc"},
		{"ntfy rejects control characters", FormatNtfy, "bad\ntoken", "", ""},
		{"discord ignores token", FormatDiscord, "ignored", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotQuery, gotAuth string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotQuery = r.URL.Query().Get("token")
				gotAuth = r.Header.Get("Authorization")
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := &Config{URL: server.URL + "/message", Format: tt.format, ServiceToken: tt.token}
			if result := Deliver(context.Background(), newHTTPClient(5), cfg, `{}`); !result.Success {
				t.Fatalf("delivery failed: %v", result.Error)
			}
			if gotQuery != tt.wantQuery {
				t.Errorf("token query = %q, want %q", gotQuery, tt.wantQuery)
			}
			if gotAuth != tt.wantAuth {
				t.Errorf("Authorization = %q, want %q", gotAuth, tt.wantAuth)
			}
		})
	}
}
