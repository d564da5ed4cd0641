package domain

import (
	"strings"
	"time"

	"github.com/yndnr/tokvault-go/pkg/token"
)

// Token constants.
const (
	// TokenPrefix is the prefix for download tokens (sensitive, uses underscore).
	TokenPrefix = token.Prefix

	// DefaultTokenTTL is the default lifetime of a download token.
	DefaultTokenTTL = 7 * 24 * time.Hour

	// DefaultMaxUses is the default number of permitted downloads.
	DefaultMaxUses = 5

	// MaxIDLength bounds order, product and user identifiers.
	MaxIDLength = 128
)

// TokenMetadata is the content embedded in a download token string.
type TokenMetadata = token.Metadata

// DownloadToken is a stored download credential.
//
// UsesConsumed is the only mutable field and is only advanced by an
// atomic consume in the token store.
type DownloadToken struct {
	// TokenID is the full encoded token string (tvdl_...). It is the store key.
	TokenID string `json:"token_id"`

	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	UserID    string `json:"user_id"`

	// IssuedAt is the issuance timestamp (Unix milliseconds).
	IssuedAt int64 `json:"issued_at"`

	// ExpiresAt is the absolute expiration timestamp (Unix milliseconds).
	ExpiresAt int64 `json:"expires_at"`

	MaxUses      int `json:"max_uses"`
	UsesConsumed int `json:"uses_consumed"`
}

// NewDownloadToken builds a fresh record for a minted token.
func NewDownloadToken(tokenID string, md TokenMetadata) *DownloadToken {
	return &DownloadToken{
		TokenID:   tokenID,
		OrderID:   md.OrderID,
		ProductID: md.ProductID,
		UserID:    md.UserID,
		IssuedAt:  md.IssuedAt,
		ExpiresAt: md.ExpiresAt,
		MaxUses:   md.MaxUses,
	}
}

// IsExpired reports whether the token lifetime has elapsed at now.
func (t *DownloadToken) IsExpired(now time.Time) bool {
	return now.UnixMilli() >= t.ExpiresAt
}

// IsExhausted reports whether all permitted downloads were used.
func (t *DownloadToken) IsExhausted() bool {
	return t.UsesConsumed >= t.MaxUses
}

// IsValid reports whether a download would be permitted at now.
func (t *DownloadToken) IsValid(now time.Time) bool {
	return !t.IsExpired(now) && !t.IsExhausted()
}

// Remaining returns the number of downloads left.
func (t *DownloadToken) Remaining() int {
	if r := t.MaxUses - t.UsesConsumed; r > 0 {
		return r
	}
	return 0
}

// Classify returns the consume outcome that would apply at now, without
// mutating the token. Expiry takes precedence over exhaustion.
func (t *DownloadToken) Classify(now time.Time) ConsumeOutcome {
	switch {
	case t.IsExpired(now):
		return ConsumeExpired
	case t.IsExhausted():
		return ConsumeExhausted
	default:
		return ConsumeOK
	}
}

// TryConsume applies one use in place if the token is valid at now.
// Stores call it inside their own atomic section.
func (t *DownloadToken) TryConsume(now time.Time) ConsumeOutcome {
	outcome := t.Classify(now)
	if outcome == ConsumeOK {
		t.UsesConsumed++
	}
	return outcome
}

// Clone returns a copy of the token.
func (t *DownloadToken) Clone() *DownloadToken {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// ConsumeOutcome is the closed set of results of an atomic consume.
type ConsumeOutcome int

const (
	// ConsumeOK means one use was consumed.
	ConsumeOK ConsumeOutcome = iota + 1
	// ConsumeExpired means the token lifetime elapsed; nothing was mutated.
	ConsumeExpired
	// ConsumeExhausted means no uses remain; nothing was mutated.
	ConsumeExhausted
	// ConsumeNotFound means the store has no record of the token.
	ConsumeNotFound
)

// String returns the metric/log label for the outcome.
func (o ConsumeOutcome) String() string {
	switch o {
	case ConsumeOK:
		return "ok"
	case ConsumeExpired:
		return "expired"
	case ConsumeExhausted:
		return "exhausted"
	case ConsumeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Err maps a failed outcome to its domain error. ConsumeOK returns nil.
func (o ConsumeOutcome) Err() error {
	switch o {
	case ConsumeOK:
		return nil
	case ConsumeExpired:
		return ErrTokenExpired
	case ConsumeExhausted:
		return ErrTokenExhausted
	case ConsumeNotFound:
		return ErrTokenNotFound
	default:
		return ErrInternalServer.WithDetails("unknown consume outcome")
	}
}

// ConsumeResult is returned by a token store consume.
type ConsumeResult struct {
	Outcome ConsumeOutcome
	// Remaining is the number of uses left after a successful consume.
	Remaining int
	// Token is the post-consume snapshot; nil when Outcome is ConsumeNotFound.
	Token *DownloadToken
}

// HasTokenPrefix reports whether s looks like a download token.
func HasTokenPrefix(s string) bool {
	return strings.HasPrefix(s, TokenPrefix)
}

// MaskToken masks a token for safe logging.
// Example: tvdl_AQx...k9Q
func MaskToken(tokenID string) string {
	if len(tokenID) < 12 || !HasTokenPrefix(tokenID) {
		return "***REDACTED***"
	}
	body := tokenID[len(TokenPrefix):]
	return TokenPrefix + body[:3] + "..." + body[len(body)-3:]
}
