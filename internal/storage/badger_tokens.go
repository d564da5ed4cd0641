package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
)

// Key layout:
//
//	tok/{token_id}                -> JSON DownloadToken
//	line/{order_id}/{product_id}  -> token_id
const (
	tokenKeyPrefix = "tok/"
	lineKeyPrefix  = "line/"
	sweepBatchSize = 1000
)

var _ service.TokenStore = (*TokenStore)(nil)

// TokenStore is a Badger-backed service.TokenStore.
type TokenStore struct {
	engine *BadgerEngine
}

// NewTokenStore creates a token store on an open engine.
func NewTokenStore(engine *BadgerEngine) *TokenStore {
	return &TokenStore{engine: engine}
}

func tokenKey(tokenID string) []byte { return []byte(tokenKeyPrefix + tokenID) }

func lineKey(orderID, productID string) []byte {
	return []byte(lineKeyPrefix + orderID + "/" + productID)
}

// Put inserts a new token and claims its order line.
func (s *TokenStore) Put(ctx context.Context, tok *domain.DownloadToken) error {
	val, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	err = s.engine.Update(ctx, func(txn *badger.Txn) error {
		if exists, err := keyExists(txn, tokenKey(tok.TokenID)); err != nil {
			return err
		} else if exists {
			return domain.ErrTokenDuplicate
		}
		lk := lineKey(tok.OrderID, tok.ProductID)
		if exists, err := keyExists(txn, lk); err != nil {
			return err
		} else if exists {
			return domain.ErrLineAlreadyIssued
		}
		if err := txn.Set(tokenKey(tok.TokenID), val); err != nil {
			return err
		}
		return txn.Set(lk, []byte(tok.TokenID))
	})
	return mapWriteErr(err, false)
}

// Get returns a token record.
func (s *TokenStore) Get(ctx context.Context, tokenID string) (*domain.DownloadToken, error) {
	var tok *domain.DownloadToken
	err := s.engine.View(ctx, func(txn *badger.Txn) error {
		var err error
		tok, err = loadToken(txn, tokenID)
		return err
	})
	if err != nil {
		return nil, mapReadErr(err)
	}
	return tok, nil
}

// GetByLine returns the token issued for an order line.
func (s *TokenStore) GetByLine(ctx context.Context, orderID, productID string) (*domain.DownloadToken, error) {
	var tok *domain.DownloadToken
	err := s.engine.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(lineKey(orderID, productID))
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		tok, err = loadToken(txn, string(id))
		return err
	})
	if err != nil {
		return nil, mapReadErr(err)
	}
	return tok, nil
}

// TryConsume atomically spends one use. Conflicting concurrent consumes
// are retried against the latest committed state.
func (s *TokenStore) TryConsume(ctx context.Context, tokenID string, now time.Time) (domain.ConsumeResult, error) {
	var res domain.ConsumeResult
	err := s.engine.Update(ctx, func(txn *badger.Txn) error {
		res = domain.ConsumeResult{}
		tok, err := loadToken(txn, tokenID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			res.Outcome = domain.ConsumeNotFound
			return nil
		}
		if err != nil {
			return err
		}

		res.Outcome = tok.TryConsume(now)
		res.Token = tok
		res.Remaining = tok.Remaining()
		if res.Outcome != domain.ConsumeOK {
			return nil
		}
		val, err := json.Marshal(tok)
		if err != nil {
			return err
		}
		return txn.Set(tokenKey(tokenID), val)
	})
	if err != nil {
		return domain.ConsumeResult{}, mapWriteErr(err, true)
	}
	return res, nil
}

// Sweep deletes tokens that expired before cutoff together with their
// line keys.
func (s *TokenStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	limit := cutoff.UnixMilli()
	removed := 0
	for {
		var batch []*domain.DownloadToken
		err := s.engine.View(ctx, func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(tokenKeyPrefix)
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.Valid() && len(batch) < sweepBatchSize; it.Next() {
				var tok domain.DownloadToken
				err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &tok) })
				if err != nil {
					return err
				}
				if tok.ExpiresAt < limit {
					batch = append(batch, &tok)
				}
			}
			return nil
		})
		if err != nil {
			return removed, mapReadErr(err)
		}
		if len(batch) == 0 {
			return removed, nil
		}

		err = s.engine.Update(ctx, func(txn *badger.Txn) error {
			for _, tok := range batch {
				if err := txn.Delete(tokenKey(tok.TokenID)); err != nil {
					return err
				}
				if err := txn.Delete(lineKey(tok.OrderID, tok.ProductID)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return removed, mapWriteErr(err, false)
		}
		removed += len(batch)
		if len(batch) < sweepBatchSize {
			return removed, nil
		}
	}
}

func loadToken(txn *badger.Txn, tokenID string) (*domain.DownloadToken, error) {
	item, err := txn.Get(tokenKey(tokenID))
	if err != nil {
		return nil, err
	}
	var tok domain.DownloadToken
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &tok) }); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}

func keyExists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

func mapReadErr(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.ErrTokenNotFound
	}
	if domain.IsDomainError(err, "") {
		return err
	}
	return domain.ErrStoreUnavailable.WithCause(err)
}

// mapWriteErr converts engine errors to domain errors. Errors raised inside
// the transaction function are passed through. A commit of uncertain
// outcome is indeterminate for consumes.
func mapWriteErr(err error, consume bool) error {
	if err == nil || domain.IsDomainError(err, "") {
		return err
	}
	var ce *CommitError
	if consume && errors.As(err, &ce) {
		return domain.ErrConsumeIndeterminate.WithCause(err)
	}
	return domain.ErrStoreUnavailable.WithCause(err)
}
