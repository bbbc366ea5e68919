package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "generic error",
			err:      errors.New("some error"),
			expected: false,
		},
		{
			name:     "serialization failure",
			err:      &pgconn.PgError{Code: SerializationFailure},
			expected: true,
		},
		{
			name:     "deadlock detected",
			err:      &pgconn.PgError{Code: DeadlockDetected},
			expected: true,
		},
		{
			name:     "unique violation (not retryable)",
			err:      &pgconn.PgError{Code: UniqueViolation},
			expected: false,
		},
		{
			name:     "wrapped serialization failure",
			err:      errors.Join(errors.New("commit"), &pgconn.PgError{Code: SerializationFailure}),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isRetryableError(tt.err)
			if result != tt.expected {
				t.Errorf("isRetryableError() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("some error"), false},
		{"unique violation", &pgconn.PgError{Code: UniqueViolation}, true},
		{"foreign key violation", &pgconn.PgError{Code: ForeignKeyViolation}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.expected {
				t.Errorf("isUniqueViolation() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("retries serialization failures", func(t *testing.T) {
		calls := 0
		got, err := withRetry(ctx, 3, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, &pgconn.PgError{Code: SerializationFailure}
			}
			return 42, nil
		})
		if err != nil || got != 42 {
			t.Fatalf("withRetry() = %d, %v", got, err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		calls := 0
		err := withRetryNoReturn(ctx, 3, func() error {
			calls++
			return errors.New("boom")
		})
		if err == nil || calls != 1 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := withRetryNoReturn(ctx, 1, func() error {
			calls++
			return &pgconn.PgError{Code: DeadlockDetected}
		})
		if err == nil || calls != 2 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := withRetryNoReturn(cctx, 3, func() error {
			return &pgconn.PgError{Code: SerializationFailure}
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

func TestTxOptions(t *testing.T) {
	opts := TxOptions()
	if opts.IsoLevel != pgx.Serializable {
		t.Errorf("IsoLevel = %q, want serializable", opts.IsoLevel)
	}
	if opts.AccessMode != pgx.ReadWrite {
		t.Errorf("AccessMode = %q, want read write", opts.AccessMode)
	}
}

func TestNullableTime(t *testing.T) {
	if nullableTime(nil) != nil {
		t.Error("nullableTime(nil) should be nil")
	}
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2024, 3, 15, 10, 0, 0, 0, loc)
	got, ok := nullableTime(&ts).(time.Time)
	if !ok || got.Location() != time.UTC || !got.Equal(ts) {
		t.Errorf("nullableTime() = %v", got)
	}

	if utcPtr(nil) != nil {
		t.Error("utcPtr(nil) should be nil")
	}
	if p := utcPtr(&ts); p.Location() != time.UTC {
		t.Errorf("utcPtr location = %v", p.Location())
	}
}
