package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
)

var _ service.TokenStore = (*TokenStore)(nil)

const tokenColumns = `token_id, order_id, product_id, user_id, issued_at, expires_at, max_uses, uses_consumed`

// TokenStore is a PostgreSQL-backed service.TokenStore.
type TokenStore struct {
	db *sql.DB
}

// NewTokenStore creates a token store on an open database.
func NewTokenStore(db *DB) *TokenStore {
	return &TokenStore{db: db.sql}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*domain.DownloadToken, error) {
	var t domain.DownloadToken
	err := row.Scan(&t.TokenID, &t.OrderID, &t.ProductID, &t.UserID,
		&t.IssuedAt, &t.ExpiresAt, &t.MaxUses, &t.UsesConsumed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Put inserts a new token.
func (s *TokenStore) Put(ctx context.Context, tok *domain.DownloadToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO download_tokens (`+tokenColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		tok.TokenID, tok.OrderID, tok.ProductID, tok.UserID,
		tok.IssuedAt, tok.ExpiresAt, tok.MaxUses, tok.UsesConsumed)
	if constraint, ok := constraintViolated(err); ok {
		if constraint == "download_tokens_pkey" {
			return domain.ErrTokenDuplicate
		}
		return domain.ErrLineAlreadyIssued
	}
	return mapErr(err, false)
}

// Get returns a token record.
func (s *TokenStore) Get(ctx context.Context, tokenID string) (*domain.DownloadToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM download_tokens WHERE token_id = $1`, tokenID)
	tok, err := scanToken(row)
	return tok, mapErr(err, false)
}

// GetByLine returns the token issued for an order line.
func (s *TokenStore) GetByLine(ctx context.Context, orderID, productID string) (*domain.DownloadToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM download_tokens WHERE order_id = $1 AND product_id = $2`,
		orderID, productID)
	tok, err := scanToken(row)
	return tok, mapErr(err, false)
}

// TryConsume increments uses_consumed with one conditional UPDATE. When no
// row matches, the current row is read back only to classify the failure.
func (s *TokenStore) TryConsume(ctx context.Context, tokenID string, now time.Time) (domain.ConsumeResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConsumeResult{}, domain.ErrStoreUnavailable.WithCause(err)
	}
	row := s.db.QueryRowContext(ctx,
		`UPDATE download_tokens SET uses_consumed = uses_consumed + 1
		 WHERE token_id = $1 AND expires_at > $2 AND uses_consumed < max_uses
		 RETURNING `+tokenColumns,
		tokenID, now.UnixMilli())
	tok, err := scanToken(row)
	if err == nil {
		return domain.ConsumeResult{Outcome: domain.ConsumeOK, Remaining: tok.Remaining(), Token: tok}, nil
	}
	if !errors.Is(err, domain.ErrTokenNotFound) {
		return domain.ConsumeResult{}, mapErr(err, true)
	}

	cur, err := s.Get(ctx, tokenID)
	if errors.Is(err, domain.ErrTokenNotFound) {
		return domain.ConsumeResult{Outcome: domain.ConsumeNotFound}, nil
	}
	if err != nil {
		return domain.ConsumeResult{}, err
	}
	outcome := cur.Classify(now)
	if outcome == domain.ConsumeOK {
		// The UPDATE saw the last use taken; the read raced a sweep or restore.
		outcome = domain.ConsumeExhausted
	}
	return domain.ConsumeResult{Outcome: outcome, Remaining: cur.Remaining(), Token: cur}, nil
}

// Sweep deletes tokens that expired before cutoff.
func (s *TokenStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM download_tokens WHERE expires_at < $1`, cutoff.UnixMilli())
	if err != nil {
		return 0, mapErr(err, false)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapErr(err, false)
	}
	return int(n), nil
}
