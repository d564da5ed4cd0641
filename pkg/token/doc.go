// Package token implements the self-describing download token format.
//
// Token Format:
//
//   - Prefix: tvdl_ (5 characters)
//   - Body: strict Base64 RawURL of version(1) || digest(32) || metadata
//   - Digest: HMAC-SHA256 over version || metadata, keyed with an
//     HKDF-SHA256 derivation of the configured secret
//   - Metadata: JSON with a fixed field order and a 16-byte random nonce
//
// The full token string is the store key. A successful Verify proves the
// token was minted with one of the configured secrets; it says nothing about
// expiry or remaining uses, which live in the token store.
package token
