package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestCodec(t *testing.T, opts ...Option) *Codec {
	t.Helper()
	c, err := NewCodec(testSecret, opts...)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	return c
}

func testRequest() MintRequest {
	return MintRequest{
		OrderID:   "ord-01hzx",
		ProductID: "ebook-go",
		UserID:    "user-42",
		TTL:       time.Hour,
		MaxUses:   2,
	}
}

func TestNewCodec_WeakSecret(t *testing.T) {
	if _, err := NewCodec([]byte("short")); !errors.Is(err, ErrWeakSecret) {
		t.Errorf("NewCodec(short) error = %v, want ErrWeakSecret", err)
	}
}

func TestMintVerify_RoundTrip(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_123)
	c := newTestCodec(t, WithClock(func() time.Time { return fixed }))

	tok, md, err := c.Mint(testRequest())
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if !strings.HasPrefix(tok, Prefix) {
		t.Errorf("token %q lacks prefix %q", tok, Prefix)
	}
	if md.IssuedAt != fixed.UnixMilli() {
		t.Errorf("IssuedAt = %d, want %d", md.IssuedAt, fixed.UnixMilli())
	}
	if md.ExpiresAt != fixed.Add(time.Hour).UnixMilli() {
		t.Errorf("ExpiresAt = %d, want issued+1h", md.ExpiresAt)
	}

	got, err := c.Verify(tok)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != md {
		t.Errorf("Verify() = %+v, want %+v", got, md)
	}
}

func TestMint_Unique(t *testing.T) {
	c := newTestCodec(t)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		tok, _, err := c.Mint(testRequest())
		if err != nil {
			t.Fatalf("Mint() error = %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token minted: %s", tok)
		}
		seen[tok] = true
	}
}

func TestMint_InvalidRequest(t *testing.T) {
	c := newTestCodec(t)
	tests := []struct {
		name   string
		mutate func(*MintRequest)
	}{
		{"missing order", func(r *MintRequest) { r.OrderID = "" }},
		{"missing product", func(r *MintRequest) { r.ProductID = "" }},
		{"missing user", func(r *MintRequest) { r.UserID = "" }},
		{"zero ttl", func(r *MintRequest) { r.TTL = 0 }},
		{"zero uses", func(r *MintRequest) { r.MaxUses = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest()
			tt.mutate(&req)
			if _, _, err := c.Mint(req); err == nil {
				t.Error("Mint() should fail")
			}
		})
	}
}

func TestVerify_EverySingleBitFlip(t *testing.T) {
	c := newTestCodec(t)
	tok, _, err := c.Mint(testRequest())
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	raw := []byte(tok)
	for i := range raw {
		for bit := 0; bit < 8; bit++ {
			mutated := bytes.Clone(raw)
			mutated[i] ^= 1 << bit
			if _, err := c.Verify(string(mutated)); !errors.Is(err, ErrIntegrity) {
				t.Fatalf("Verify(flip byte %d bit %d) error = %v, want ErrIntegrity", i, bit, err)
			}
		}
	}
}

func TestVerify_Malformed(t *testing.T) {
	c := newTestCodec(t)
	tok, _, _ := c.Mint(testRequest())

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"prefix only", Prefix},
		{"wrong prefix", "tmtk_" + strings.TrimPrefix(tok, Prefix)},
		{"not base64", Prefix + "!!!!"},
		{"truncated", tok[:len(tok)-4]},
		{"header only", Prefix + base64.RawURLEncoding.EncodeToString(make([]byte, 33))},
		{"padded", tok + "=="},
		{"trailing garbage", tok + "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Verify(tt.input); !errors.Is(err, ErrIntegrity) {
				t.Errorf("Verify() error = %v, want ErrIntegrity", err)
			}
		})
	}
}

func TestVerify_ForeignSecret(t *testing.T) {
	other, err := NewCodec(bytes.Repeat([]byte("x"), 32))
	if err != nil {
		t.Fatal(err)
	}
	tok, _, _ := other.Mint(testRequest())
	if _, err := newTestCodec(t).Verify(tok); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Verify(foreign) error = %v, want ErrIntegrity", err)
	}
}

func TestVerify_PreviousSecret(t *testing.T) {
	retired := bytes.Repeat([]byte("r"), 32)
	old, _ := NewCodec(retired)
	tok, md, _ := old.Mint(testRequest())

	c := newTestCodec(t, WithPreviousSecrets(retired))
	got, err := c.Verify(tok)
	if err != nil {
		t.Fatalf("Verify(retired key) error = %v", err)
	}
	if got != md {
		t.Errorf("Verify() = %+v, want %+v", got, md)
	}
}

func TestVerify_NonCanonicalMetadata(t *testing.T) {
	c := newTestCodec(t)
	_, md, _ := c.Mint(testRequest())

	// Signed correctly but serialized with extra whitespace.
	payload, _ := json.MarshalIndent(md, "", " ")
	buf := append([]byte{Version}, sign(c.keys[0], payload)...)
	buf = append(buf, payload...)
	tok := Prefix + base64.RawURLEncoding.EncodeToString(buf)

	if _, err := c.Verify(tok); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Verify(non-canonical) error = %v, want ErrIntegrity", err)
	}
}
