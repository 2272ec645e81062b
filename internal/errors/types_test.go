package errors

import (
	stderrors "errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestClassifyWrappedKinds(t *testing.T) {
	transient := NewTransient(stderrors.New("rate limited"), "save throttled")
	if Classify(transient) != KindTransient {
		t.Error("TransientError must classify transient")
	}
	permanent := NewPermanent(stderrors.New("no binary"), "monolith not installed")
	if Classify(permanent) != KindPermanent {
		t.Error("PermanentError must classify permanent")
	}

	// Kinds survive fmt.Errorf wrapping.
	wrapped := fmt.Errorf("archiving: %w", permanent)
	if Classify(wrapped) != KindPermanent {
		t.Error("wrapped PermanentError must stay permanent")
	}
}

func TestClassifyDefaultsToTransient(t *testing.T) {
	if Classify(stderrors.New("something odd happened")) != KindTransient {
		t.Error("unknown errors must land on the retry ladder")
	}
}

func TestIsTransientNetworkErrors(t *testing.T) {
	cases := []error{
		&net.DNSError{Err: "no such host", Name: "gone.example"},
		&net.OpError{Op: "dial", Err: stderrors.New("refused")},
		fmt.Errorf("post: %w", syscall.ECONNREFUSED),
		stderrors.New("read tcp: connection reset by peer"),
	}
	for _, err := range cases {
		if !IsTransient(err) {
			t.Errorf("expected %v transient", err)
		}
	}
}

func TestHTTPStatusClasses(t *testing.T) {
	tooMany := &TransientError{StatusCode: 429, Message: "throttled"}
	if !IsTransient(tooMany) || HTTPStatus(tooMany) != 429 {
		t.Error("429 must be transient and carry its status")
	}

	gone := &PermanentError{StatusCode: 410, Message: "gone"}
	if !IsPermanent(gone) || HTTPStatus(gone) != 410 {
		t.Error("410 must be permanent and carry its status")
	}

	for code, transient := range map[int]bool{
		429: true, 500: true, 502: true, 503: true, 504: true,
		400: false, 401: false, 403: false, 404: false, 410: false, 422: false,
	} {
		if got := isTransientHTTPStatus(code); got != transient {
			t.Errorf("isTransientHTTPStatus(%d) = %v", code, got)
		}
		if transient && isPermanentHTTPStatus(code) {
			t.Errorf("status %d classified both ways", code)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	withMsg := NewTransient(stderrors.New("underlying"), "caller-facing")
	if withMsg.Error() != "caller-facing" {
		t.Errorf("message form = %q", withMsg.Error())
	}
	withoutMsg := NewTransient(stderrors.New("underlying"), "")
	if withoutMsg.Error() != "transient error: underlying" {
		t.Errorf("fallback form = %q", withoutMsg.Error())
	}
	if !stderrors.Is(withMsg, withMsg.Err) {
		t.Error("Unwrap must expose the underlying error")
	}
}

func TestNilErrorClassification(t *testing.T) {
	if IsTransient(nil) || IsPermanent(nil) {
		t.Error("nil is neither transient nor permanent")
	}
}
