package billing

import (
	"context"

	"github.com/kailas-cloud/querynode/internal/domain"
	"github.com/kailas-cloud/querynode/internal/usecase/quota"
)

// Accounts reads balances and settles charges.
type Accounts interface {
	GetAccount(ctx context.Context, user string) (domain.Account, error)
	Charge(ctx context.Context, c domain.Charge) error
}

// Nonces spends settlement nonces.
type Nonces interface {
	Claim(ctx context.Context, user, nonce string) (bool, error)
}

// Quotas returns the per-user query counter.
type Quotas interface {
	For(ctx context.Context, subject string) *quota.Tracker
}
