package chi

import (
	"context"
	"net/http"
	"strings"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	logpkg "github.com/kailas-cloud/querynode/internal/logger"
	"github.com/kailas-cloud/querynode/internal/usecase/billing"
)

// Settlement request headers.
const (
	HeaderUser      = "X-LazAI-User"
	HeaderNonce     = "X-LazAI-Nonce"
	HeaderSignature = "X-LazAI-Signature"
)

type settlementHeaders struct {
	User      string `validate:"required,eth_addr"`
	Nonce     string `validate:"required,number,max=78"`
	Signature string `validate:"required,hexadecimal,max=130"`
}

// ticket carries the settled file id from the handler back to the middleware.
type ticket struct {
	fileID int64
}

type ticketKey struct{}

func ticketFrom(ctx context.Context) *ticket {
	t, _ := ctx.Value(ticketKey{}).(*ticket)
	return t
}

type plainText string

func (p plainText) String() string { return string(p) }

// SettlementMiddleware validates settlement headers, checks the caller can pay,
// and charges them once the query succeeded.
func SettlementMiddleware(biller Biller) func(http.Handler) http.Handler {
	validate := validator.New()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			h := settlementHeaders{
				User:      strings.TrimSpace(r.Header.Get(HeaderUser)),
				Nonce:     strings.TrimSpace(r.Header.Get(HeaderNonce)),
				Signature: strings.TrimSpace(r.Header.Get(HeaderSignature)),
			}
			if err := validate.Struct(h); err != nil {
				writeError(w, http.StatusUnauthorized, typeAuthentication,
					"Missing or invalid settlement headers: "+validationMessage(err))
				return
			}

			req := plainText(r.Method + " " + r.URL.Path + " user=" + h.User)
			acc, err := biller.Authenticate(ctx, billing.Credentials{User: h.User, Nonce: h.Nonce, Signature: h.Signature})
			if err != nil {
				writeDomainError(w, r, req, err)
				return
			}
			if err := biller.Authorize(ctx, acc); err != nil {
				writeDomainError(w, r, req, err)
				return
			}

			t := &ticket{}
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(context.WithValue(ctx, ticketKey{}, t)))

			if ww.Status() != http.StatusOK {
				return
			}
			if err := biller.Settle(context.WithoutCancel(ctx), h.User, h.Nonce, t.fileID); err != nil {
				logpkg.FromContext(ctx).Error("Query served but not settled",
					zap.String("user", h.User), zap.String("nonce", h.Nonce), zap.Error(err))
			}
		})
	}
}
