package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
)

var _ service.TokenStore = (*TokenStore)(nil)

// putScript claims the token id and the order line together.
// KEYS: token, line. ARGV: token_id, fields..., expire_at_ms.
// Returns 0 on success, 1 on duplicate token, 2 on issued line.
var putScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 1 end
if redis.call('EXISTS', KEYS[2]) == 1 then return 2 end
redis.call('HSET', KEYS[1],
	'order_id', ARGV[2], 'product_id', ARGV[3], 'user_id', ARGV[4],
	'issued_at', ARGV[5], 'expires_at', ARGV[6],
	'max_uses', ARGV[7], 'uses_consumed', ARGV[8])
redis.call('SET', KEYS[2], ARGV[1])
redis.call('PEXPIREAT', KEYS[1], ARGV[9])
redis.call('PEXPIREAT', KEYS[2], ARGV[9])
return 0
`)

// consumeScript spends one use if the token is live.
// KEYS: token. ARGV: now_ms.
// Returns {code, HGETALL...}: 0 missing, 1 ok, 2 expired, 3 exhausted.
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {0} end
local exp = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
local max = tonumber(redis.call('HGET', KEYS[1], 'max_uses'))
local used = tonumber(redis.call('HGET', KEYS[1], 'uses_consumed'))
local code = 1
if tonumber(ARGV[1]) >= exp then
	code = 2
elseif used >= max then
	code = 3
else
	redis.call('HINCRBY', KEYS[1], 'uses_consumed', 1)
end
local out = {code}
for _, v in ipairs(redis.call('HGETALL', KEYS[1])) do table.insert(out, v) end
return out
`)

// TokenStore is a Redis-backed service.TokenStore.
type TokenStore struct {
	client redis.UniversalClient
	cfg    Config
}

// NewTokenStore creates a token store on a connected client.
func NewTokenStore(client redis.UniversalClient, cfg Config) *TokenStore {
	return &TokenStore{client: client, cfg: cfg}
}

func (s *TokenStore) tokenKey(id string) string { return s.cfg.prefix() + "tok:" + id }

func (s *TokenStore) lineKey(orderID, productID string) string {
	return s.cfg.prefix() + "line:" + orderID + ":" + productID
}

// Put inserts a new token and claims its order line.
func (s *TokenStore) Put(ctx context.Context, tok *domain.DownloadToken) error {
	expireAt := tok.ExpiresAt + s.cfg.retention().Milliseconds()
	code, err := putScript.Run(ctx, s.client,
		[]string{s.tokenKey(tok.TokenID), s.lineKey(tok.OrderID, tok.ProductID)},
		tok.TokenID, tok.OrderID, tok.ProductID, tok.UserID,
		tok.IssuedAt, tok.ExpiresAt, tok.MaxUses, tok.UsesConsumed, expireAt,
	).Int()
	if err != nil {
		return mapErr(err, false)
	}
	switch code {
	case 0:
		return nil
	case 1:
		return domain.ErrTokenDuplicate
	default:
		return domain.ErrLineAlreadyIssued
	}
}

// Get returns a token record.
func (s *TokenStore) Get(ctx context.Context, tokenID string) (*domain.DownloadToken, error) {
	fields, err := s.client.HGetAll(ctx, s.tokenKey(tokenID)).Result()
	if err != nil {
		return nil, mapErr(err, false)
	}
	if len(fields) == 0 {
		return nil, domain.ErrTokenNotFound
	}
	return decodeToken(tokenID, fields)
}

// GetByLine returns the token issued for an order line.
func (s *TokenStore) GetByLine(ctx context.Context, orderID, productID string) (*domain.DownloadToken, error) {
	id, err := s.client.Get(ctx, s.lineKey(orderID, productID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, mapErr(err, false)
	}
	return s.Get(ctx, id)
}

// TryConsume atomically spends one use.
func (s *TokenStore) TryConsume(ctx context.Context, tokenID string, now time.Time) (domain.ConsumeResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConsumeResult{}, domain.ErrStoreUnavailable.WithCause(err)
	}
	reply, err := consumeScript.Run(ctx, s.client, []string{s.tokenKey(tokenID)}, now.UnixMilli()).Slice()
	if err != nil {
		return domain.ConsumeResult{}, mapErr(err, true)
	}
	if len(reply) == 0 {
		return domain.ConsumeResult{}, domain.ErrConsumeIndeterminate.WithDetails("empty script reply")
	}
	code, _ := reply[0].(int64)
	if code == 0 {
		return domain.ConsumeResult{Outcome: domain.ConsumeNotFound}, nil
	}

	fields := make(map[string]string, (len(reply)-1)/2)
	for i := 1; i+1 < len(reply); i += 2 {
		k, _ := reply[i].(string)
		v, _ := reply[i+1].(string)
		fields[k] = v
	}
	tok, err := decodeToken(tokenID, fields)
	if err != nil {
		// The increment, if any, has been applied.
		return domain.ConsumeResult{}, domain.ErrConsumeIndeterminate.WithCause(err)
	}

	res := domain.ConsumeResult{Token: tok, Remaining: tok.Remaining()}
	switch code {
	case 1:
		res.Outcome = domain.ConsumeOK
	case 2:
		res.Outcome = domain.ConsumeExpired
	default:
		res.Outcome = domain.ConsumeExhausted
	}
	return res, nil
}

// Sweep deletes tokens that expired before cutoff together with their
// line keys. Keys past Retention are already gone by then.
func (s *TokenStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	limit := cutoff.UnixMilli()
	prefix := s.tokenKey("")
	removed := 0

	iter := s.client.Scan(ctx, 0, prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		tokenID := key[len(prefix):]
		tok, err := s.Get(ctx, tokenID)
		if errors.Is(err, domain.ErrTokenNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		if tok.ExpiresAt >= limit {
			continue
		}
		n, err := s.client.Del(ctx, key, s.lineKey(tok.OrderID, tok.ProductID)).Result()
		if err != nil {
			return removed, mapErr(err, false)
		}
		if n > 0 {
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, mapErr(err, false)
	}
	return removed, nil
}

func decodeToken(tokenID string, f map[string]string) (*domain.DownloadToken, error) {
	t := &domain.DownloadToken{
		TokenID:   tokenID,
		OrderID:   f["order_id"],
		ProductID: f["product_id"],
		UserID:    f["user_id"],
	}
	var err error
	if t.IssuedAt, err = strconv.ParseInt(f["issued_at"], 10, 64); err != nil {
		return nil, fmt.Errorf("decode token issued_at: %w", err)
	}
	if t.ExpiresAt, err = strconv.ParseInt(f["expires_at"], 10, 64); err != nil {
		return nil, fmt.Errorf("decode token expires_at: %w", err)
	}
	if t.MaxUses, err = strconv.Atoi(f["max_uses"]); err != nil {
		return nil, fmt.Errorf("decode token max_uses: %w", err)
	}
	if t.UsesConsumed, err = strconv.Atoi(f["uses_consumed"]); err != nil {
		return nil, fmt.Errorf("decode token uses_consumed: %w", err)
	}
	return t, nil
}
