package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/pkg/token"
)

// DeliveryConfig holds configuration for DeliveryService.
type DeliveryConfig struct {
	// PublicBaseURL prefixes download links, e.g. https://shop.example.com.
	PublicBaseURL string

	// StoreTimeout bounds every token store call (default: 2s).
	StoreTimeout time.Duration

	// Concurrency bounds how many order lines are delivered in parallel.
	Concurrency int

	// MintAttempts bounds retries on token id collisions (default: 3).
	MintAttempts int
}

// DefaultDeliveryConfig returns default configuration.
func DefaultDeliveryConfig() *DeliveryConfig {
	return &DeliveryConfig{
		PublicBaseURL: "http://localhost:8080",
		StoreTimeout:  2 * time.Second,
		Concurrency:   4,
		MintAttempts:  3,
	}
}

// DeliveryResult is the outcome of delivering one order.
type DeliveryResult struct {
	OrderID   string                `json:"order_id"`
	Lines     []domain.LineDelivery `json:"lines"`
	Ready     int                   `json:"ready"`
	Preparing int                   `json:"preparing"`
}

// DeliveryService is the only code path that mints download tokens.
type DeliveryService struct {
	store    TokenStore
	codec    TokenCodec
	assets   AssetResolver
	notifier Notifier
	policy   *PolicyResolver
	recorder Recorder
	logger   *slog.Logger
	cfg      DeliveryConfig
	now      func() time.Time
}

// DeliveryDeps groups the collaborators of DeliveryService.
type DeliveryDeps struct {
	Store    TokenStore
	Codec    TokenCodec
	Assets   AssetResolver
	Notifier Notifier
	Policy   *PolicyResolver
	Recorder Recorder
	Logger   *slog.Logger
}

// NewDeliveryService creates a DeliveryService.
func NewDeliveryService(deps DeliveryDeps, cfg *DeliveryConfig) *DeliveryService {
	if cfg == nil {
		cfg = DefaultDeliveryConfig()
	}
	c := *cfg
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 2 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MintAttempts <= 0 {
		c.MintAttempts = 3
	}
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")

	if deps.Policy == nil {
		deps.Policy = NewPolicyResolver(nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &DeliveryService{
		store:    deps.Store,
		codec:    deps.Codec,
		assets:   deps.Assets,
		notifier: deps.Notifier,
		policy:   deps.Policy,
		recorder: recorderOrNop(deps.Recorder),
		logger:   deps.Logger,
		cfg:      c,
		now:      time.Now,
	}
}

// DownloadURL builds the public link for a token.
func (s *DeliveryService) DownloadURL(tokenID string) string {
	return s.cfg.PublicBaseURL + "/download/" + url.PathEscape(tokenID)
}

// Deliver issues or reuses one token per line item of a completed order.
//
// A line whose asset is not staged, or whose token could not be recorded,
// is returned as Preparing and can be retried by calling Deliver again.
// Re-invocation returns the existing token for lines already delivered,
// including tokens already swept from the store.
// Line failures never fail the whole call.
func (s *DeliveryService) Deliver(ctx context.Context, order *domain.Order) (*DeliveryResult, error) {
	if order == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("nil order")
	}
	if order.Status != domain.OrderCompleted {
		return nil, domain.ErrInvalidTransition.WithDetails("order " + order.ID + " is " + string(order.Status))
	}

	lines := make([]domain.LineDelivery, len(order.Items))
	minted := make([]bool, len(order.Items))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, item := range order.Items {
		g.Go(func() error {
			lines[i], minted[i] = s.deliverLine(ctx, order, item)
			return nil
		})
	}
	_ = g.Wait()

	res := &DeliveryResult{OrderID: order.ID, Lines: lines}
	for i, l := range lines {
		s.recorder.LineDelivered(l.Status)
		switch l.Status {
		case domain.DeliveryReady:
			res.Ready++
			if minted[i] {
				s.notify(ctx, order, l)
			}
		case domain.DeliveryPreparing:
			res.Preparing++
		}
	}

	s.logger.Info("order delivered",
		"order_id", order.ID,
		"ready", res.Ready,
		"preparing", res.Preparing)
	return res, nil
}

// Renotify re-sends notifications for every ready line of a delivered order.
func (s *DeliveryService) Renotify(ctx context.Context, order *domain.Order) int {
	n := 0
	for _, l := range order.Deliveries {
		if l.Status == domain.DeliveryReady {
			s.notify(ctx, order, l)
			n++
		}
	}
	return n
}

// deliverLine returns the line delivery and whether a new token was minted.
func (s *DeliveryService) deliverLine(ctx context.Context, order *domain.Order, item domain.LineItem) (domain.LineDelivery, bool) {
	log := s.logger.With("order_id", order.ID, "product_id", item.ProductID)
	line := domain.LineDelivery{
		ProductID:   item.ProductID,
		ProductName: item.ProductName,
		Status:      domain.DeliveryPreparing,
	}

	asset, err := s.assets.Resolve(ctx, item.ProductID)
	if err != nil {
		if errors.Is(err, domain.ErrAssetUnavailable) {
			line.Reason = "asset not yet available"
		} else {
			log.Warn("asset lookup failed", "error", err)
			line.Reason = "asset lookup failed"
		}
		return line, false
	}
	line.FileAvailable = true
	if line.ProductName == "" {
		line.ProductName = asset.Name
	}

	existing, err := s.getByLine(ctx, order.ID, item.ProductID)
	switch {
	case err == nil:
		return s.readyLine(line, existing), false
	case !errors.Is(err, domain.ErrTokenNotFound):
		log.Warn("token lookup failed", "error", err)
		line.Reason = "token store unavailable"
		return line, false
	}

	// The line claim is gone but the order already holds a token for this
	// product: the token was swept after expiry and is never re-issued.
	if prior := s.priorToken(order, item.ProductID); prior != nil {
		line = s.readyLine(line, prior)
		line.Reason = "download link expired"
		return line, false
	}

	policy := s.policy.Resolve(item.ProductID, order.Policy)
	for attempt := 1; attempt <= s.cfg.MintAttempts; attempt++ {
		tok, err := s.mint(order, item.ProductID, policy)
		if err != nil {
			log.Error("mint token failed", "error", err)
			line.Reason = "token mint failed"
			return line, false
		}

		err = s.put(ctx, tok)
		switch {
		case err == nil:
			s.recorder.TokenIssued(item.ProductID)
			log.Info("download token issued",
				"token", domain.MaskToken(tok.TokenID),
				"max_uses", tok.MaxUses,
				"expires_at", time.UnixMilli(tok.ExpiresAt).UTC())
			return s.readyLine(line, tok), true

		case errors.Is(err, domain.ErrLineAlreadyIssued):
			// A concurrent delivery won the line; return its token.
			winner, gerr := s.getByLine(ctx, order.ID, item.ProductID)
			if gerr == nil {
				return s.readyLine(line, winner), false
			}
			log.Warn("load concurrent line token failed", "error", gerr)
			line.Reason = "token store unavailable"
			return line, false

		case errors.Is(err, domain.ErrTokenDuplicate):
			log.Warn("token id collision, re-minting", "attempt", attempt)
			continue

		default:
			log.Warn("record token failed", "error", err)
			line.Reason = "token store unavailable"
			return line, false
		}
	}
	line.Reason = "token mint failed"
	return line, false
}

// priorToken returns the token previously issued for productID on order,
// rebuilt from its signed metadata, or nil if none was recorded.
func (s *DeliveryService) priorToken(order *domain.Order, productID string) *domain.DownloadToken {
	ids := make([]string, 0, len(order.DownloadTokenIDs)+len(order.Deliveries))
	for _, d := range order.Deliveries {
		if d.ProductID == productID && d.TokenID != "" {
			ids = append(ids, d.TokenID)
		}
	}
	ids = append(ids, order.DownloadTokenIDs...)

	for _, id := range ids {
		md, err := s.codec.Verify(id)
		if err != nil {
			continue
		}
		if md.OrderID == order.ID && md.ProductID == productID {
			return domain.NewDownloadToken(id, md)
		}
	}
	return nil
}

func (s *DeliveryService) mint(order *domain.Order, productID string, p domain.Policy) (*domain.DownloadToken, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	tokenID, md, err := s.codec.Mint(token.MintRequest{
		OrderID:   order.ID,
		ProductID: productID,
		UserID:    order.UserID,
		TTL:       p.TTL,
		MaxUses:   p.MaxUses,
	})
	if err != nil {
		return nil, err
	}
	return domain.NewDownloadToken(tokenID, md), nil
}

func (s *DeliveryService) readyLine(line domain.LineDelivery, tok *domain.DownloadToken) domain.LineDelivery {
	line.Status = domain.DeliveryReady
	line.Reason = ""
	line.TokenID = tok.TokenID
	line.DownloadURL = s.DownloadURL(tok.TokenID)
	line.ExpiresAt = tok.ExpiresAt
	line.ExpiresInDays = domain.Policy{TTL: time.Duration(tok.ExpiresAt-tok.IssuedAt) * time.Millisecond}.ExpiresInDays()
	line.MaxDownloads = tok.MaxUses
	return line
}

func (s *DeliveryService) notify(ctx context.Context, order *domain.Order, line domain.LineDelivery) {
	if s.notifier == nil {
		return
	}
	recipient := order.CustomerEmail
	if recipient == "" {
		recipient = order.UserID
	}
	err := s.notifier.Notify(ctx, Notification{
		Recipient:   recipient,
		OrderID:     order.ID,
		ProductID:   line.ProductID,
		ProductName: line.ProductName,
		URL:         line.DownloadURL,
		ExpiresAt:   time.UnixMilli(line.ExpiresAt),
		MaxUses:     line.MaxDownloads,
	})
	if err != nil {
		s.logger.Warn("delivery notification failed",
			"order_id", order.ID,
			"product_id", line.ProductID,
			"error", err)
	}
}

func (s *DeliveryService) getByLine(ctx context.Context, orderID, productID string) (*domain.DownloadToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	start := time.Now()
	tok, err := s.store.GetByLine(ctx, orderID, productID)
	s.recorder.StoreOperation("get_by_line", ignoreNotFound(err), time.Since(start))
	return tok, err
}

func (s *DeliveryService) put(ctx context.Context, tok *domain.DownloadToken) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	start := time.Now()
	err := s.store.Put(ctx, tok)
	s.recorder.StoreOperation("put", err, time.Since(start))
	return err
}

func ignoreNotFound(err error) error {
	if errors.Is(err, domain.ErrTokenNotFound) {
		return nil
	}
	return err
}
