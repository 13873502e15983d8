package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the response envelope.
type Kind int

// Failure kinds. The zero value is KindInternal.
const (
	KindInternal Kind = iota
	KindServiceUnavailable
	KindInvalidRequest
	KindPermissionDenied
	KindDecryptionFailed
	KindSearchFailed
	KindUnauthorized
	KindPaymentRequired
)

var (
	// ErrInternal is the catch-all failure.
	ErrInternal = errors.New("internal error")
	// ErrServiceUnavailable signals a dependency that failed to initialize.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrInvalidRequest signals a malformed or unresolvable request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPermissionDenied signals a missing decryption grant.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDecryptionFailed signals a fetch or decrypt failure.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrSearchFailed signals an index search failure.
	ErrSearchFailed = errors.New("search failed")
	// ErrUnauthorized signals missing or invalid settlement headers.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPaymentRequired signals an exhausted balance or query quota.
	ErrPaymentRequired = errors.New("payment required")

	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrCollectionNotFound signals a collection missing from the vector index.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmbeddingQuotaExceeded signals an exhausted embedding budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrQueryQuotaExceeded signals an exhausted per-user query quota.
	ErrQueryQuotaExceeded = errors.New("query quota exceeded")
	// ErrInsufficientBalance signals a balance below the query price.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrNonceReused signals a replayed settlement nonce.
	ErrNonceReused = errors.New("nonce already used")
)

var kindSentinels = [...]error{
	KindInternal:           ErrInternal,
	KindServiceUnavailable: ErrServiceUnavailable,
	KindInvalidRequest:     ErrInvalidRequest,
	KindPermissionDenied:   ErrPermissionDenied,
	KindDecryptionFailed:   ErrDecryptionFailed,
	KindSearchFailed:       ErrSearchFailed,
	KindUnauthorized:       ErrUnauthorized,
	KindPaymentRequired:    ErrPaymentRequired,
}

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "Internal"
	case KindServiceUnavailable:
		return "ServiceUnavailable"
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindDecryptionFailed:
		return "DecryptionFailed"
	case KindSearchFailed:
		return "SearchFailed"
	case KindUnauthorized:
		return "Unauthorized"
	case KindPaymentRequired:
		return "PaymentRequired"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinel returns the sentinel error matched by errors.Is for this kind.
func (k Kind) Sentinel() error {
	if k < 0 || int(k) >= len(kindSentinels) {
		return ErrInternal
	}
	return kindSentinels[k]
}

// Error is a classified failure. errors.Is matches both the kind sentinel and the wrapped chain.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Sentinel().Error()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.Sentinel()
}

// NewError classifies err under kind.
func NewError(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify wraps err under kind unless it already carries a classification.
func Classify(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the classification of err. Bare sentinels are recognized; anything else is internal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	for k, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return Kind(k)
		}
	}
	return KindInternal
}
