package service

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/yndnr/tokvault-go/internal/core/domain"
)

// DownloadConfig holds configuration for DownloadService.
type DownloadConfig struct {
	// StoreTimeout bounds every token store call (default: 2s).
	StoreTimeout time.Duration
}

// Redemption is a successfully redeemed token, ready to stream.
// The caller must close Body.
type Redemption struct {
	Asset     *Asset
	Body      io.ReadCloser
	Remaining int
	Token     *domain.DownloadToken
}

// DownloadService redeems download tokens.
//
// A use is consumed before any byte is streamed. If the transfer fails or
// the client disconnects afterwards, the use stays spent.
type DownloadService struct {
	store    TokenStore
	codec    TokenCodec
	assets   AssetResolver
	recorder Recorder
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewDownloadService creates a DownloadService.
func NewDownloadService(store TokenStore, codec TokenCodec, assets AssetResolver, rec Recorder, logger *slog.Logger, cfg *DownloadConfig) *DownloadService {
	timeout := 2 * time.Second
	if cfg != nil && cfg.StoreTimeout > 0 {
		timeout = cfg.StoreTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadService{
		store:    store,
		codec:    codec,
		assets:   assets,
		recorder: recorderOrNop(rec),
		logger:   logger,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Redeem verifies tokenID, consumes one use and opens the purchased asset.
//
// Token failures are returned as domain.ErrTokenIntegrity, ErrTokenExpired,
// ErrTokenExhausted or ErrTokenNotFound and never mutate state. Store
// failures are domain.ErrStoreUnavailable (use not spent) or
// domain.ErrConsumeIndeterminate (use treated as spent).
func (s *DownloadService) Redeem(ctx context.Context, tokenID string) (*Redemption, error) {
	md, err := s.codec.Verify(tokenID)
	if err != nil {
		s.recorder.Redemption("integrity")
		return nil, domain.ErrTokenIntegrity.WithCause(err)
	}

	asset, err := s.assets.Resolve(ctx, md.ProductID)
	if err != nil {
		s.recorder.Redemption("asset_unavailable")
		if errors.Is(err, domain.ErrAssetUnavailable) {
			return nil, err
		}
		return nil, domain.ErrAssetUnavailable.WithCause(err)
	}
	body, err := s.assets.Open(ctx, asset)
	if err != nil {
		s.recorder.Redemption("asset_unavailable")
		return nil, domain.ErrAssetUnavailable.WithCause(err)
	}
	asset = openedSize(asset, body)

	res, err := s.consume(ctx, tokenID)
	if err != nil {
		body.Close()
		s.recorder.Redemption(transientLabel(err))
		s.logger.Warn("token consume failed",
			"token", domain.MaskToken(tokenID),
			"error", err)
		return nil, err
	}
	s.recorder.Redemption(res.Outcome.String())
	if res.Outcome != domain.ConsumeOK {
		body.Close()
		return nil, res.Outcome.Err()
	}

	s.logger.Info("download token redeemed",
		"token", domain.MaskToken(tokenID),
		"order_id", md.OrderID,
		"product_id", md.ProductID,
		"remaining", res.Remaining)
	return &Redemption{
		Asset:     asset,
		Body:      body,
		Remaining: res.Remaining,
		Token:     res.Token,
	}, nil
}

// Check reports what Redeem would serve for tokenID without consuming a
// use or opening the asset. The returned Redemption has a nil Body and
// Remaining is the count before any download.
func (s *DownloadService) Check(ctx context.Context, tokenID string) (*Redemption, error) {
	md, err := s.codec.Verify(tokenID)
	if err != nil {
		return nil, domain.ErrTokenIntegrity.WithCause(err)
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	rec, err := s.store.Get(sctx, tokenID)
	cancel()
	s.recorder.StoreOperation("get", ignoreNotFound(err), time.Since(start))
	switch {
	case errors.Is(err, domain.ErrTokenNotFound):
		return nil, err
	case err != nil && !domain.IsTransient(err):
		return nil, domain.ErrStoreUnavailable.WithCause(err)
	case err != nil:
		return nil, err
	}
	if o := rec.Classify(s.now()); o != domain.ConsumeOK {
		return nil, o.Err()
	}

	asset, err := s.assets.Resolve(ctx, md.ProductID)
	if err != nil {
		if errors.Is(err, domain.ErrAssetUnavailable) {
			return nil, err
		}
		return nil, domain.ErrAssetUnavailable.WithCause(err)
	}
	return &Redemption{Asset: asset, Remaining: rec.Remaining(), Token: rec}, nil
}

// openedSize returns asset with Size taken from the opened body when it can
// be stat'ed, so a file re-staged after Resolve is described correctly.
func openedSize(asset *Asset, body io.Reader) *Asset {
	st, ok := body.(interface{ Stat() (fs.FileInfo, error) })
	if !ok {
		return asset
	}
	info, err := st.Stat()
	if err != nil || info.Size() == asset.Size {
		return asset
	}
	sized := *asset
	sized.Size = info.Size()
	return &sized
}

func (s *DownloadService) consume(ctx context.Context, tokenID string) (domain.ConsumeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.store.TryConsume(ctx, tokenID, s.now())
	s.recorder.StoreOperation("try_consume", err, time.Since(start))
	if err == nil {
		return res, nil
	}
	if domain.IsTransient(err) {
		return domain.ConsumeResult{}, err
	}
	// Anything the store could not classify may have committed.
	return domain.ConsumeResult{}, domain.ErrConsumeIndeterminate.WithCause(err)
}

func transientLabel(err error) string {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return "store_unavailable"
	}
	return "indeterminate"
}

// TokenView is an administrative view of a token.
type TokenView struct {
	Token     string                `json:"token"`
	Metadata  domain.TokenMetadata  `json:"metadata"`
	Record    *domain.DownloadToken `json:"record,omitempty"`
	Status    string                `json:"status"`
	Remaining int                   `json:"remaining"`
}

// Inspect verifies tokenID and loads its record without consuming a use.
// The returned view carries a masked token.
func (s *DownloadService) Inspect(ctx context.Context, tokenID string) (*TokenView, error) {
	md, err := s.codec.Verify(tokenID)
	if err != nil {
		return nil, domain.ErrTokenIntegrity.WithCause(err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rec, err := s.store.Get(ctx, tokenID)
	view := &TokenView{Token: domain.MaskToken(tokenID), Metadata: md}
	switch {
	case errors.Is(err, domain.ErrTokenNotFound):
		view.Status = domain.ConsumeNotFound.String()
		return view, nil
	case err != nil:
		return nil, err
	}
	rec = rec.Clone()
	rec.TokenID = view.Token
	view.Record = rec
	view.Remaining = rec.Remaining()
	if o := rec.Classify(s.now()); o == domain.ConsumeOK {
		view.Status = "valid"
	} else {
		view.Status = o.String()
	}
	return view, nil
}
