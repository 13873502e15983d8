// Package billing authenticates pay-per-query callers and settles their queries.
package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/querynode/internal/domain"
	"github.com/kailas-cloud/querynode/internal/metrics"
)

// Credentials are the settlement headers of one request.
type Credentials struct {
	User      string
	Nonce     string
	Signature string
}

// Service enforces balances and query quotas.
type Service struct {
	accounts   Accounts
	nonces     Nonces
	quotas     Quotas
	price      int64
	nodeSecret string
	logger     *zap.Logger
}

// New creates a billing service. nodeSecret signs for accounts without their own secret.
func New(accounts Accounts, nonces Nonces, quotas Quotas, price int64, nodeSecret string, logger *zap.Logger) *Service {
	return &Service{
		accounts:   accounts,
		nonces:     nonces,
		quotas:     quotas,
		price:      price,
		nodeSecret: nodeSecret,
		logger:     logger,
	}
}

// Sign returns hex(HMAC-SHA256(secret, user:nonce)).
func Sign(secret, user, nonce string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.ToLower(user) + ":" + nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate verifies the signature and spends the nonce.
func (s *Service) Authenticate(ctx context.Context, c Credentials) (domain.Account, error) {
	acc, err := s.accounts.GetAccount(ctx, c.User)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Account{}, domain.Errorf(domain.KindUnauthorized, "unknown user %s", c.User)
	}
	if err != nil {
		return domain.Account{}, domain.Classify(domain.KindInternal, err)
	}

	secret := acc.Secret
	if secret == "" {
		secret = s.nodeSecret
	}
	if secret == "" {
		return domain.Account{}, domain.Errorf(domain.KindUnauthorized, "no signing secret for user %s", c.User)
	}

	got, err := hex.DecodeString(strings.TrimPrefix(c.Signature, "0x"))
	if err != nil {
		return domain.Account{}, domain.Errorf(domain.KindUnauthorized, "signature is not hex")
	}
	want, _ := hex.DecodeString(Sign(secret, c.User, c.Nonce))
	if !hmac.Equal(got, want) {
		return domain.Account{}, domain.Errorf(domain.KindUnauthorized, "invalid signature")
	}

	fresh, err := s.nonces.Claim(ctx, c.User, c.Nonce)
	if err != nil {
		return domain.Account{}, domain.Classify(domain.KindInternal, err)
	}
	if !fresh {
		return domain.Account{}, domain.NewError(domain.KindUnauthorized, domain.ErrNonceReused)
	}
	return acc, nil
}

// Authorize checks that acc can pay for one more query.
func (s *Service) Authorize(ctx context.Context, acc domain.Account) error {
	if acc.Balance < s.price {
		return domain.NewError(domain.KindPaymentRequired,
			fmt.Errorf("balance %d below price %d: %w", acc.Balance, s.price, domain.ErrInsufficientBalance))
	}
	if err := s.quotas.For(ctx, acc.User).Check(ctx); err != nil {
		return domain.Classify(domain.KindPaymentRequired, err)
	}
	return nil
}

// Settle charges user for one successful query on fileID.
func (s *Service) Settle(ctx context.Context, user, nonce string, fileID int64) error {
	err := s.accounts.Charge(ctx, domain.Charge{User: user, Nonce: nonce, Amount: s.price, FileID: fileID})
	if err != nil {
		metrics.SettlementChargesTotal.WithLabelValues("error").Inc()
		s.logger.Error("Settlement charge failed",
			zap.String("user", user), zap.String("nonce", nonce), zap.Int64("file_id", fileID), zap.Error(err))
		return fmt.Errorf("settle query: %w", err)
	}

	s.quotas.For(ctx, user).Record(1)
	metrics.SettlementChargesTotal.WithLabelValues("success").Inc()
	return nil
}
