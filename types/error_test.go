package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true)

	if GetErrorCode(err) != ErrUpstreamError {
		t.Fatalf("expected code %s, got %s", ErrUpstreamError, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestGetErrorCode_Wrapped(t *testing.T) {
	t.Parallel()

	base := NewError(ErrCleared, "cleared")
	wrapped := fmt.Errorf("execute: %w", base)

	if got := GetErrorCode(wrapped); got != ErrCleared {
		t.Fatalf("expected %s, got %s", ErrCleared, got)
	}
	if !IsCleared(wrapped) {
		t.Fatalf("expected IsCleared on wrapped error")
	}
	if IsCleared(errors.New("plain")) {
		t.Fatalf("plain error must not be cleared")
	}
	if IsCleared(nil) {
		t.Fatalf("nil must not be cleared")
	}
}

func TestNewConfigurationError(t *testing.T) {
	t.Parallel()

	err := NewConfigurationError("batch_size must be positive, got %d", 0)
	if err.Code != ErrConfiguration {
		t.Fatalf("unexpected code %s", err.Code)
	}
	if err.Message != "batch_size must be positive, got 0" {
		t.Fatalf("unexpected message %q", err.Message)
	}
}

func TestRequest_Text(t *testing.T) {
	t.Parallel()

	r := &Request{Prompt: "hello"}
	if r.Text() != "hello" {
		t.Fatalf("unexpected text %q", r.Text())
	}
	r.Messages = []Message{{Role: RoleSystem, Content: "a"}, {Role: RoleUser, Content: "b"}}
	if r.Text() != "a\nb" {
		t.Fatalf("unexpected text %q", r.Text())
	}
	var nilReq *Request
	if nilReq.Text() != "" {
		t.Fatalf("nil request text should be empty")
	}
}

func TestResponse_Clone(t *testing.T) {
	t.Parallel()

	orig := &Response{ID: "1", Content: "x"}
	cp := orig.Clone()
	cp.Cached = true
	if orig.Cached {
		t.Fatalf("clone must not alias the original")
	}
	var nilResp *Response
	if nilResp.Clone() != nil {
		t.Fatalf("nil clone should be nil")
	}
}
