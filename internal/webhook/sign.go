package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// CanonicalPayload is the exact field set signed and sent over the wire.
type CanonicalPayload struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
	WebhookID string         `json:"webhookId"`
	UserID    string         `json:"userId"`
	Attempt   int            `json:"attempt"`
	Signature string         `json:"signature"`
}

// Canonicalize renders payload as UTF-8 JSON with sorted keys and no
// insignificant whitespace, so the same attempt always produces identical
// bytes regardless of map iteration order. The signature field is
// included, so this is what goes out on the wire — never what gets
// signed; see canonicalizeUnsigned for that.
func Canonicalize(p CanonicalPayload) ([]byte, error) {
	return canonicalJSON(canonicalMap(p, true))
}

// canonicalizeUnsigned renders payload the same way as Canonicalize but
// with the signature key omitted from the object entirely, rather than
// present with an empty value. A receiver reconstructs the payload and
// drops the signature field before hashing; signing over a payload that
// still carries `"signature":""` would produce a different digest and
// every delivery would fail verification.
func canonicalizeUnsigned(p CanonicalPayload) ([]byte, error) {
	return canonicalJSON(canonicalMap(p, false))
}

func canonicalMap(p CanonicalPayload, includeSignature bool) map[string]any {
	m := map[string]any{
		"id":        p.ID,
		"event":     p.Event,
		"timestamp": p.Timestamp,
		"data":      p.Data,
		"webhookId": p.WebhookID,
		"userId":    p.UserID,
		"attempt":   p.Attempt,
	}
	if includeSignature {
		m["signature"] = p.Signature
	}
	return m
}

// canonicalJSON recursively renders v with object keys sorted, so
// semantically identical payloads always serialize to identical bytes.
func canonicalJSON(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := canonicalJSON(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			ib, err := canonicalJSON(item)
			if err != nil {
				return nil, err
			}
			buf.Write(ib)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return json.Marshal(val)
	}
}

// HMACSigner computes hex(HMAC_SHA256(secret, payload)) over the canonical
// payload bytes with the signature field excluded.
type HMACSigner struct{}

// NewHMACSigner constructs an HMACSigner.
func NewHMACSigner() *HMACSigner { return &HMACSigner{} }

// Sign computes the signature over payload with the signature key omitted
// from the canonical bytes, then returns the hex digest to be written back
// into the field before transport.
func (s *HMACSigner) Sign(secret []byte, p CanonicalPayload) (string, error) {
	unsigned := p
	unsigned.Signature = ""
	bytesToSign, err := canonicalizeUnsigned(unsigned)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(bytesToSign)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the signature over payload (with the signature key omitted)
// and compares it to expectedSig in constant time.
func (s *HMACSigner) Verify(secret []byte, p CanonicalPayload, expectedSig string) (bool, error) {
	sig, err := s.Sign(secret, p)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(sig), []byte(expectedSig)), nil
}
