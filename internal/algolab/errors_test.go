package algolab

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{400, KindValidation},
		{401, KindAuthentication},
		{403, KindAuthentication},
		{422, KindOrder},
		{429, KindRateLimit},
		{502, KindServer},
		{503, KindMarketData},
		{504, KindTimeout},
		{500, KindServer},
		{418, KindUnknown},
	}

	for _, tt := range tests {
		got := ClassifyStatus(tt.status, "boom", 0)
		if got.Kind != tt.want {
			t.Errorf("ClassifyStatus(%d).Kind = %q, want %q", tt.status, got.Kind, tt.want)
		}
		if got.HTTPStatus != tt.status {
			t.Errorf("ClassifyStatus(%d).HTTPStatus = %d, want %d", tt.status, got.HTTPStatus, tt.status)
		}
	}
}

func TestClassifyStatusRateLimit(t *testing.T) {
	got := ClassifyStatus(429, "", 2*time.Second)
	if got.Kind != KindRateLimit {
		t.Fatalf("Kind = %q, want %q", got.Kind, KindRateLimit)
	}
	if got.Message != "rate limit exceeded" {
		t.Errorf("Message = %q, want %q", got.Message, "rate limit exceeded")
	}
	if got.RetryAfter != 2*time.Second {
		t.Errorf("RetryAfter = %v, want %v", got.RetryAfter, 2*time.Second)
	}
}

func TestClassifyTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"timeout text", errors.New("read tcp: i/o timeout"), KindTimeout},
		{"timed out text", errors.New("request timed out"), KindTimeout},
		{"connection refused", errors.New("dial tcp 127.0.0.1:443: connection refused"), KindConnection},
		{"connection reset", errors.New("connection reset by peer"), KindConnection},
		{"other", errors.New("something odd"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.want {
				t.Errorf("Classify(%v).Kind = %q, want %q", tt.err, got.Kind, tt.want)
			}
			if !errors.Is(got, tt.err) && got.Err != tt.err {
				t.Errorf("Classify(%v) lost the underlying error", tt.err)
			}
		})
	}
}

func TestClassifyPassesThroughClassified(t *testing.T) {
	orig := NewError(KindOrder, "rejected by risk")
	wrapped := fmt.Errorf("submit: %w", orig)

	got := Classify(wrapped)
	if got != orig {
		t.Errorf("Classify did not pass through an already classified error")
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(nil); got != nil {
		t.Errorf("Classify(nil) = %v, want nil", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindRateLimit, true},
		{KindTimeout, true},
		{KindConnection, true},
		{KindServer, true},
		{KindAuthentication, false},
		{KindValidation, false},
		{KindOrder, false},
	}

	for _, tt := range tests {
		e := NewError(tt.kind, "x")
		if got := e.IsRetryable(); got != tt.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
