package chi

import (
	"context"

	"github.com/kailas-cloud/querynode/internal/domain"
	"github.com/kailas-cloud/querynode/internal/usecase/billing"
	healthuc "github.com/kailas-cloud/querynode/internal/usecase/health"
)

// Querier answers RAG requests.
type Querier interface {
	Available() bool
	Handle(ctx context.Context, req domain.QueryRequest) (domain.QueryResult, error)
}

// HealthChecker reports component readiness.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// Biller authenticates, authorizes and settles paid queries.
type Biller interface {
	Authenticate(ctx context.Context, c billing.Credentials) (domain.Account, error)
	Authorize(ctx context.Context, acc domain.Account) error
	Settle(ctx context.Context, user, nonce string, fileID int64) error
}
