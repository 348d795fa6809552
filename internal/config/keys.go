package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodedKeys is the binary form of KeysConfig
type DecodedKeys struct {
	HMACSecret       []byte
	Ed25519PublicKey ed25519.PublicKey
	// IssuerSecret signs trial licenses generated on this machine. It falls
	// back to HMACSecret when unset.
	IssuerSecret []byte
}

// Decode converts the base64 key material into bytes
func (k KeysConfig) Decode() (*DecodedKeys, error) {
	out := &DecodedKeys{}

	if k.HMACSecret != "" {
		b, err := decodeBase64(k.HMACSecret)
		if err != nil {
			return nil, fmt.Errorf("invalid hmac secret: %w", err)
		}
		if len(b) < 16 {
			return nil, fmt.Errorf("hmac secret must be at least 16 bytes, got %d", len(b))
		}
		out.HMACSecret = b
	}

	if k.Ed25519PublicKey != "" {
		b, err := decodeBase64(k.Ed25519PublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid ed25519 public key: %w", err)
		}
		if len(b) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
		}
		out.Ed25519PublicKey = ed25519.PublicKey(b)
	}

	if k.IssuerSecret != "" {
		b, err := decodeBase64(k.IssuerSecret)
		if err != nil {
			return nil, fmt.Errorf("invalid issuer secret: %w", err)
		}
		out.IssuerSecret = b
	} else {
		out.IssuerSecret = out.HMACSecret
	}

	return out, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
