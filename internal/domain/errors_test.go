package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	err := fmt.Errorf("materialize: %w", NewError(KindPermissionDenied, errors.New("no grant for file 7")))

	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatal("expected errors.Is to match ErrPermissionDenied")
	}
	if errors.Is(err, ErrDecryptionFailed) {
		t.Fatal("unexpected match on ErrDecryptionFailed")
	}
	if err.Error() != "materialize: no grant for file 7" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestError_UnwrapKeepsChain(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewError(KindSearchFailed, fmt.Errorf("ft.search: %w", inner))

	if !errors.Is(err, inner) {
		t.Fatal("expected wrapped inner error to be reachable")
	}
}

func TestError_NilInnerUsesSentinelText(t *testing.T) {
	err := &Error{Kind: KindServiceUnavailable}
	if err.Error() != "service unavailable" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"classified", Errorf(KindInvalidRequest, "File ID or URL is required"), KindInvalidRequest},
		{"wrapped classified", fmt.Errorf("x: %w", NewError(KindDecryptionFailed, errors.New("bad tag"))), KindDecryptionFailed},
		{"bare sentinel", fmt.Errorf("registry: %w", ErrPermissionDenied), KindPermissionDenied},
		{"unknown", errors.New("boom"), KindInternal},
		{"payment", ErrPaymentRequired, KindPaymentRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassify_KeepsExistingKind(t *testing.T) {
	orig := NewError(KindPermissionDenied, errors.New("denied"))
	got := Classify(KindInternal, fmt.Errorf("wrap: %w", orig))

	if KindOf(got) != KindPermissionDenied {
		t.Errorf("expected PermissionDenied preserved, got %s", KindOf(got))
	}
	if Classify(KindInternal, nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestKind_String(t *testing.T) {
	if KindSearchFailed.String() != "SearchFailed" {
		t.Errorf("unexpected string: %s", KindSearchFailed)
	}
	if Kind(99).String() != "Kind(99)" {
		t.Errorf("unexpected string: %s", Kind(99))
	}
	if Kind(99).Sentinel() != ErrInternal {
		t.Error("expected out-of-range kind to map to ErrInternal")
	}
}

func TestCollectionName(t *testing.T) {
	if got := CollectionName("abc123"); got != "query_abc123" {
		t.Errorf("unexpected collection name: %s", got)
	}
}
