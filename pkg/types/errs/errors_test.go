package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"classified transient", Classify(ClassTransientExternal, base), ClassTransientExternal},
		{"classified invalid", Classify(ClassInvalidInput, base), ClassInvalidInput},
		{"classified storage", Classify(ClassStorage, base), ClassStorage},
		{"wrapped keeps class", fmt.Errorf("stage: %w", Classify(ClassTransientExternal, base)), ClassTransientExternal},
		{"quota sentinel", fmt.Errorf("reserve: %w", ErrQuotaExceeded), ClassQuotaExceeded},
		{"invalid sentinel", fmt.Errorf("parse: %w", ErrInvalidInput), ClassInvalidInput},
		{"unclassified", base, ClassInternalInconsistency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassOf(tt.err); got != tt.want {
				t.Fatalf("ClassOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !ClassTransientExternal.Retryable() {
		t.Fatal("transient_external must be retryable")
	}
	if !ClassStorage.Retryable() {
		t.Fatal("storage_error must be retryable")
	}
	for _, c := range []Class{ClassInvalidInput, ClassQuotaExceeded, ClassInternalInconsistency} {
		if c.Retryable() {
			t.Fatalf("%q must not be retryable", c)
		}
	}
}

func TestClassifyPreservesOriginal(t *testing.T) {
	base := errors.New("boom")
	err := Classify(ClassStorage, base)

	if !errors.Is(err, base) {
		t.Fatal("classified error must unwrap to the original")
	}
	if Classify(ClassStorage, nil) != nil {
		t.Fatal("Classify(nil) must be nil")
	}
}
