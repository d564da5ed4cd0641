package memory

import (
	"context"
	"time"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/pkg/cmap"
)

var _ service.TokenStore = (*TokenStore)(nil)

// TokenStore is an in-memory service.TokenStore.
type TokenStore struct {
	tokens *cmap.Map[*domain.DownloadToken]
	lines  *cmap.Map[string] // order/product -> token id
}

// NewTokenStore creates an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: cmap.New[*domain.DownloadToken](),
		lines:  cmap.New[string](),
	}
}

func lineKey(orderID, productID string) string { return orderID + "/" + productID }

// Put inserts a token, then claims its order line. A lost line claim
// removes the token again.
func (s *TokenStore) Put(_ context.Context, tok *domain.DownloadToken) error {
	if !s.tokens.SetIfAbsent(tok.TokenID, tok.Clone()) {
		return domain.ErrTokenDuplicate
	}
	if !s.lines.SetIfAbsent(lineKey(tok.OrderID, tok.ProductID), tok.TokenID) {
		s.tokens.Delete(tok.TokenID)
		return domain.ErrLineAlreadyIssued
	}
	return nil
}

// Get returns a copy of the token record.
func (s *TokenStore) Get(_ context.Context, tokenID string) (*domain.DownloadToken, error) {
	tok, ok := s.tokens.Get(tokenID)
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	return tok.Clone(), nil
}

// GetByLine returns the token issued for an order line.
func (s *TokenStore) GetByLine(ctx context.Context, orderID, productID string) (*domain.DownloadToken, error) {
	id, ok := s.lines.Get(lineKey(orderID, productID))
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	return s.Get(ctx, id)
}

// TryConsume spends one use under the token's shard lock.
func (s *TokenStore) TryConsume(ctx context.Context, tokenID string, now time.Time) (domain.ConsumeResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConsumeResult{}, domain.ErrStoreUnavailable.WithCause(err)
	}
	res := domain.ConsumeResult{Outcome: domain.ConsumeNotFound}
	s.tokens.Compute(tokenID, func(cur *domain.DownloadToken, exists bool) (*domain.DownloadToken, bool) {
		if !exists {
			return cur, false
		}
		next := cur.Clone()
		res.Outcome = next.TryConsume(now)
		res.Remaining = next.Remaining()
		res.Token = next.Clone()
		return next, res.Outcome == domain.ConsumeOK
	})
	return res, nil
}

// Sweep removes tokens that expired before cutoff.
func (s *TokenStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	limit := cutoff.UnixMilli()
	var expired []*domain.DownloadToken
	n := s.tokens.DeleteIf(func(_ string, tok *domain.DownloadToken) bool {
		if tok.ExpiresAt < limit {
			expired = append(expired, tok)
			return true
		}
		return false
	})
	for _, tok := range expired {
		s.lines.Delete(lineKey(tok.OrderID, tok.ProductID))
	}
	return n, nil
}

// Len returns the number of stored tokens.
func (s *TokenStore) Len() int {
	return s.tokens.Count()
}
