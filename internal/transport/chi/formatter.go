package chi

import (
	"fmt"
	"net/http"
	"regexp"

	"go.uber.org/zap"

	"github.com/kailas-cloud/querynode/internal/domain"
	logpkg "github.com/kailas-cloud/querynode/internal/logger"
)

// Error envelope types.
const (
	typeServiceUnavailable = "service_unavailable"
	typeInvalidRequest     = "invalid_request_error"
	typeAuthentication     = "authentication_error"
	typeInsufficient       = "insufficient_balance"
	typeInternal           = "internal_error"
)

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// secretRun matches base64 runs at least as long as an RSA-2048 ciphertext (344 chars)
// or a PEM key body. Hashes, CIDs and collection names are shorter and stay readable.
var secretRun = regexp.MustCompile(`[A-Za-z0-9+/]{300,}={0,2}`)

func redact(s string) string {
	return secretRun.ReplaceAllString(s, "[redacted]")
}

func writeError(w http.ResponseWriter, status int, typ, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Message: message, Type: typ}})
}

// writeDomainError maps a classified failure to its status and envelope.
func writeDomainError(w http.ResponseWriter, r *http.Request, req fmt.Stringer, err error) {
	log := logpkg.FromContext(r.Context())
	kind := domain.KindOf(err)

	switch kind {
	case domain.KindServiceUnavailable:
		writeError(w, http.StatusServiceUnavailable, typeServiceUnavailable, redact(err.Error()))
	case domain.KindInvalidRequest:
		writeError(w, http.StatusBadRequest, typeInvalidRequest, redact(err.Error()))
	case domain.KindUnauthorized:
		writeError(w, http.StatusUnauthorized, typeAuthentication, redact(err.Error()))
	case domain.KindPaymentRequired:
		writeError(w, http.StatusPaymentRequired, typeInsufficient, redact(err.Error()))
	case domain.KindPermissionDenied,
		domain.KindDecryptionFailed,
		domain.KindSearchFailed,
		domain.KindInternal:
		log.Error("Query failed", zap.Stringer("kind", kind), zap.Error(err))
		writeError(w, http.StatusInternalServerError, typeInternal,
			redact(fmt.Sprintf("Error processing request for req: %s. Error: %s", req, err)))
	default:
		log.Error("Unclassified failure", zap.Stringer("kind", kind), zap.Error(err))
		writeError(w, http.StatusInternalServerError, typeInternal, "internal error")
	}
}
