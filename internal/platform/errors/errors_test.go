package errors

import (
	stderrs "errors"
	"testing"
)

func TestErrorTypeAndMethods(t *testing.T) {
	// nil *Error should render "<nil>"
	var e *Error
	if e.Error() != "<nil>" {
		t.Fatalf("nil *Error render = %q, want <nil>", e.Error())
	}

	// New / Newf
	e1 := New(ErrorCodeValidation, "bad stuff")
	if CodeOf(e1) != ErrorCodeValidation {
		t.Fatalf("CodeOf(New) = %v", CodeOf(e1))
	}
	e2 := Newf(ErrorCodeTooLarge, "repo is %d bytes", 42)
	if got := e2.Error(); got != "repo is 42 bytes" {
		t.Fatalf("Newf().Error = %q", got)
	}

	// Wrap / Wrapf / Unwrap
	src := stderrs.New("root")
	e3 := Wrap(src, ErrorCodeDB, "db failed")
	if u := stderrs.Unwrap(e3); u == nil || u.Error() != "root" {
		t.Fatalf("Wrap did not keep orig")
	}
	if CodeOf(e3) != ErrorCodeDB {
		t.Fatalf("CodeOf(Wrap) = %v", CodeOf(e3))
	}
	e4 := Wrapf(src, ErrorCodeMaterialization, "clone %s", "here")
	// Error() includes message + ": " + orig
	if want := "clone here: root"; e4.Error() != want {
		t.Fatalf("Wrapf().Error = %q, want %q", e4.Error(), want)
	}

	// As
	if got, ok := As(e4); !ok || got.Code() != ErrorCodeMaterialization {
		t.Fatalf("As() failed for our error")
	}
	if _, ok := As(src); ok {
		t.Fatalf("As() true for foreign error")
	}

	// WithOp is copy-on-write
	e5 := Wrap(src, ErrorCodeInvalidArgument, "oops")
	e6 := WithOp(e5, "submit")
	if oe, ok := As(e6); !ok || oe.Op() != "submit" {
		t.Fatalf("WithOp failed")
	}
	if oe0, _ := As(e5); oe0.Op() != "" {
		t.Fatalf("copy-on-write mutated original")
	}
	if out := WithOp(src, "submit"); out != src {
		t.Fatalf("WithOp changed foreign error")
	}
}

func TestRootAndWrapIf(t *testing.T) {
	if Root(nil) != nil {
		t.Fatalf("Root(nil) should be nil")
	}
	src := stderrs.New("deep")
	wrapped := Wrap(Wrap(src, ErrorCodeDB, "inner"), ErrorCodeUnavailable, "outer")
	if Root(wrapped) != src {
		t.Fatalf("Root did not reach deepest cause")
	}

	if WrapIf(nil, ErrorCodeDB, "x") != nil {
		t.Fatalf("WrapIf(nil) should be nil")
	}
	if CodeOf(WrapIf(src, ErrorCodeDB, "x")) != ErrorCodeDB {
		t.Fatalf("WrapIf did not wrap non-nil error")
	}
}

func TestSugarConstructors(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{NotFoundf("x"), ErrorCodeNotFound},
		{InvalidArgf("x"), ErrorCodeInvalidArgument},
		{DuplicateKeyf("x"), ErrorCodeDuplicateKey},
		{DBf("x"), ErrorCodeDB},
		{PanicErrf("x"), ErrorCodePanic},
		{Conflictf("x"), ErrorCodeConflict},
		{Unavailablef("x"), ErrorCodeUnavailable},
		{TooLargef("x"), ErrorCodeTooLarge},
		{TooManyCommitsf("x"), ErrorCodeTooManyCommits},
		{Materializationf("x"), ErrorCodeMaterialization},
		{Internalf("x"), ErrorCodeUnknown},
	}
	for _, c := range cases {
		if got := CodeOf(c.err); got != c.want {
			t.Fatalf("CodeOf(%v) = %v, want %v", c.err, got, c.want)
		}
		if !IsCode(c.err, c.want) {
			t.Fatalf("IsCode(%v, %v) = false", c.err, c.want)
		}
	}
	if CodeOf(stderrs.New("foreign")) != ErrorCodeUnknown {
		t.Fatalf("CodeOf(foreign) should default to Unknown")
	}
}

func TestAdmission(t *testing.T) {
	if !Admission(TooLargef("2GB over")) {
		t.Fatalf("TooLarge should be an admission rejection")
	}
	if !Admission(TooManyCommitsf("300k commits")) {
		t.Fatalf("TooManyCommits should be an admission rejection")
	}
	if Admission(Unavailablef("flaky")) {
		t.Fatalf("Unavailable is not an admission rejection")
	}
	if Admission(nil) {
		t.Fatalf("Admission(nil) should be false")
	}
}

func TestRetryableByCode(t *testing.T) {
	if Retryable(nil) {
		t.Fatalf("Retryable(nil) should be false")
	}
	if !Retryable(Unavailablef("down")) {
		t.Fatalf("Unavailable should be retryable")
	}
	if !Retryable(New(ErrorCodeTooManyRequests, "slow down")) {
		t.Fatalf("TooManyRequests should be retryable")
	}
	// admission rejections are permanent even though they wrap failures
	if Retryable(TooLargef("too big")) {
		t.Fatalf("TooLarge must never be retryable")
	}
	if Retryable(TooManyCommitsf("too many")) {
		t.Fatalf("TooManyCommits must never be retryable")
	}
	// unclassified errors fall through to the DB heuristics
	if Retryable(stderrs.New("something else")) {
		t.Fatalf("plain error should not be retryable")
	}
}
