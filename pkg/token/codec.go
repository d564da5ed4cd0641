package token

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	// Prefix is prepended to every encoded token.
	Prefix = "tvdl_"

	// Version is the current binary layout version.
	Version byte = 1

	// NonceLength is the number of random bytes in each token.
	NonceLength = 16

	// MinSecretLength is the minimum accepted secret length in bytes.
	MinSecretLength = 32

	digestLength = sha256.Size
	headerLength = 1 + digestLength
	keyInfo      = "tokvault download token v1"
)

var encoding = base64.RawURLEncoding.Strict()

// ErrIntegrity is returned by Verify for any token that was not minted by
// this codec or was altered after minting.
var ErrIntegrity = errors.New("token: integrity check failed")

// ErrWeakSecret is returned when a secret is shorter than MinSecretLength.
var ErrWeakSecret = fmt.Errorf("token: secret must be at least %d bytes", MinSecretLength)

// Metadata is the content embedded in a token. Field order is the
// canonical serialization order.
type Metadata struct {
	Nonce     string `json:"n"`
	OrderID   string `json:"o"`
	ProductID string `json:"p"`
	UserID    string `json:"u"`
	IssuedAt  int64  `json:"iat"` // Unix milliseconds
	ExpiresAt int64  `json:"exp"` // Unix milliseconds
	MaxUses   int    `json:"max"`
}

// MintRequest describes a token to mint.
type MintRequest struct {
	OrderID   string
	ProductID string
	UserID    string
	TTL       time.Duration
	MaxUses   int
}

// Codec mints and verifies tokens. It is safe for concurrent use.
type Codec struct {
	keys   [][]byte // keys[0] signs; all verify
	now    func() time.Time
	random io.Reader
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the clock used for issued_at.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithRandom overrides the nonce source.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) { c.random = r }
}

// WithPreviousSecrets adds retired secrets that are still accepted by Verify.
// Tokens minted under a retired secret stay redeemable until they expire.
func WithPreviousSecrets(secrets ...[]byte) Option {
	return func(c *Codec) {
		for _, s := range secrets {
			if len(s) >= MinSecretLength {
				c.keys = append(c.keys, deriveKey(s))
			}
		}
	}
}

// NewCodec creates a codec whose signing key is derived from secret.
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	c := &Codec{
		keys:   [][]byte{deriveKey(secret)},
		now:    time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func deriveKey(secret []byte) []byte {
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, secret, nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		// HKDF-SHA256 can emit up to 255*32 bytes; 32 never fails.
		panic(err)
	}
	return key
}

// Mint creates a new token for req.
func (c *Codec) Mint(req MintRequest) (string, Metadata, error) {
	if req.OrderID == "" || req.ProductID == "" || req.UserID == "" {
		return "", Metadata{}, errors.New("token: order, product and user ids are required")
	}
	if req.TTL <= 0 || req.MaxUses <= 0 {
		return "", Metadata{}, errors.New("token: ttl and max uses must be positive")
	}

	nonce := make([]byte, NonceLength)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return "", Metadata{}, fmt.Errorf("token: read nonce: %w", err)
	}

	issued := c.now()
	md := Metadata{
		Nonce:     base64.RawURLEncoding.EncodeToString(nonce),
		OrderID:   req.OrderID,
		ProductID: req.ProductID,
		UserID:    req.UserID,
		IssuedAt:  issued.UnixMilli(),
		ExpiresAt: issued.Add(req.TTL).UnixMilli(),
		MaxUses:   req.MaxUses,
	}
	payload, err := json.Marshal(md)
	if err != nil {
		return "", Metadata{}, fmt.Errorf("token: encode metadata: %w", err)
	}

	buf := make([]byte, 0, headerLength+len(payload))
	buf = append(buf, Version)
	buf = append(buf, sign(c.keys[0], payload)...)
	buf = append(buf, payload...)
	return Prefix + encoding.EncodeToString(buf), md, nil
}

// Verify checks that tokenID was minted by this codec and returns its
// embedded metadata. It fails closed with ErrIntegrity.
func (c *Codec) Verify(tokenID string) (Metadata, error) {
	body, ok := strings.CutPrefix(tokenID, Prefix)
	if !ok {
		return Metadata{}, ErrIntegrity
	}
	raw, err := encoding.DecodeString(body)
	if err != nil || len(raw) <= headerLength || raw[0] != Version {
		return Metadata{}, ErrIntegrity
	}
	digest, payload := raw[1:headerLength], raw[headerLength:]

	matched := false
	for _, key := range c.keys {
		if hmac.Equal(digest, sign(key, payload)) {
			matched = true
		}
	}
	if !matched {
		return Metadata{}, ErrIntegrity
	}

	md, err := decodeMetadata(payload)
	if err != nil {
		return Metadata{}, ErrIntegrity
	}
	return md, nil
}

func sign(key, payload []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte{Version})
	mac.Write(payload)
	return mac.Sum(nil)
}

func decodeMetadata(payload []byte) (Metadata, error) {
	var md Metadata
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&md); err != nil {
		return Metadata{}, err
	}
	if dec.More() {
		return Metadata{}, errors.New("trailing data")
	}
	canonical, err := json.Marshal(md)
	if err != nil || !bytes.Equal(canonical, payload) {
		return Metadata{}, errors.New("non-canonical metadata")
	}
	nonce, err := base64.RawURLEncoding.Strict().DecodeString(md.Nonce)
	if err != nil || len(nonce) != NonceLength {
		return Metadata{}, errors.New("bad nonce")
	}
	if md.OrderID == "" || md.ProductID == "" || md.UserID == "" ||
		md.ExpiresAt <= md.IssuedAt || md.MaxUses <= 0 {
		return Metadata{}, errors.New("incomplete metadata")
	}
	return md, nil
}
