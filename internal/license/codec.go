package license

import (
	"bytes"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Token envelope: isxlic.v1.<alg>.<base64url(payload)>.<base64url(tag)>.<crc32 hex>
const (
	TokenMagic   = "isxlic"
	TokenVersion = 1

	tokenFields = 6
	crcHexLen   = 8
)

// Algorithm names the integrity tag scheme
type Algorithm string

const (
	AlgHS256   Algorithm = "hs256"
	AlgEd25519 Algorithm = "ed25519"
)

var b64 = base64.RawURLEncoding.Strict()

// DecodeErrorKind classifies decode failures
type DecodeErrorKind int

const (
	KindMalformed DecodeErrorKind = iota + 1
	KindTampered
	KindUnsupportedVersion
)

var (
	ErrMalformed          = errors.New("license token malformed")
	ErrTampered           = errors.New("license token integrity check failed")
	ErrUnsupportedVersion = errors.New("license token version or algorithm unsupported")
)

// DecodeError reports why a token was rejected
type DecodeError struct {
	Kind   DecodeErrorKind
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.sentinel().Error(), e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.sentinel() }

func (e *DecodeError) sentinel() error {
	switch e.Kind {
	case KindTampered:
		return ErrTampered
	case KindUnsupportedVersion:
		return ErrUnsupportedVersion
	default:
		return ErrMalformed
	}
}

func malformed(format string, args ...any) *DecodeError {
	return &DecodeError{Kind: KindMalformed, Reason: fmt.Sprintf(format, args...)}
}

// SigningKey produces integrity tags
type SigningKey struct {
	Algorithm  Algorithm
	HMACSecret []byte
	PrivateKey ed25519.PrivateKey
}

// HMACSigningKey returns an hs256 signing key
func HMACSigningKey(secret []byte) SigningKey {
	return SigningKey{Algorithm: AlgHS256, HMACSecret: secret}
}

// Ed25519SigningKey returns an ed25519 signing key
func Ed25519SigningKey(priv ed25519.PrivateKey) SigningKey {
	return SigningKey{Algorithm: AlgEd25519, PrivateKey: priv}
}

// VerificationKeys holds everything Decode may verify with. Several HMAC
// secrets may be configured; a tag matching any of them is accepted.
type VerificationKeys struct {
	HMACSecrets [][]byte
	PublicKey   ed25519.PublicKey
}

func (k VerificationKeys) supports(alg Algorithm) bool {
	switch alg {
	case AlgHS256:
		for _, s := range k.HMACSecrets {
			if len(s) > 0 {
				return true
			}
		}
	case AlgEd25519:
		return len(k.PublicKey) == ed25519.PublicKeySize
	}
	return false
}

// wirePayload is the canonical JSON form. Field order is fixed by the struct.
type wirePayload struct {
	LicenseID      string    `json:"license_id" validate:"required"`
	OwnerEmail     string    `json:"owner_email" validate:"required,email,max=254"`
	Tier           Tier      `json:"tier" validate:"required,oneof=TRIAL STANDARD PROFESSIONAL ENTERPRISE"`
	Features       []Feature `json:"features" validate:"required,unique"`
	IssuedAt       int64     `json:"issued_at" validate:"gt=0"`
	ExpiresAt      *int64    `json:"expires_at,omitempty"`
	MaxActivations int       `json:"max_activations" validate:"min=1"`
}

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

func toWire(p Payload) wirePayload {
	w := wirePayload{
		LicenseID:      p.LicenseID,
		OwnerEmail:     p.OwnerEmail,
		Tier:           p.Tier,
		Features:       p.Features,
		IssuedAt:       p.IssuedAt.Unix(),
		MaxActivations: p.MaxActivations,
	}
	if w.Features == nil {
		w.Features = []Feature{}
	}
	if p.ExpiresAt != nil {
		e := p.ExpiresAt.Unix()
		w.ExpiresAt = &e
	}
	return w
}

func (w wirePayload) toPayload() Payload {
	p := Payload{
		LicenseID:      w.LicenseID,
		OwnerEmail:     w.OwnerEmail,
		Tier:           w.Tier,
		Features:       w.Features,
		IssuedAt:       time.Unix(w.IssuedAt, 0).UTC(),
		MaxActivations: w.MaxActivations,
	}
	if w.ExpiresAt != nil {
		e := time.Unix(*w.ExpiresAt, 0).UTC()
		p.ExpiresAt = &e
	}
	return p
}

// validate checks every field; the error text names the first problem
func (w wirePayload) validate() error {
	if err := payloadValidator.Struct(w); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("field %s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return err
	}
	key, err := ParseLicenseKey(w.LicenseID)
	if err != nil {
		return err
	}
	if key.String() != w.LicenseID {
		return fmt.Errorf("license_id is not in canonical form")
	}
	for _, f := range w.Features {
		if !f.Valid() {
			return fmt.Errorf("unknown feature %q", f)
		}
	}
	if w.ExpiresAt != nil && *w.ExpiresAt <= w.IssuedAt {
		return fmt.Errorf("expires_at must be after issued_at")
	}
	return nil
}

// Encode normalises p, fills in a license_id when empty, validates it and
// returns the signed token.
func Encode(p Payload, key SigningKey) (string, error) {
	if p.LicenseID == "" {
		id, err := GenerateLicenseKey()
		if err != nil {
			return "", err
		}
		p.LicenseID = id.String()
	}
	p = p.Normalize()

	w := toWire(p)
	if err := w.validate(); err != nil {
		return "", fmt.Errorf("invalid license payload: %w", err)
	}

	body, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("failed to encode license payload: %w", err)
	}

	signingInput := signingPrefix(key.Algorithm) + b64.EncodeToString(body)
	tag, err := sign(key, []byte(signingInput))
	if err != nil {
		return "", err
	}

	envelope := signingInput + "." + b64.EncodeToString(tag)
	return envelope + "." + crcHex(envelope), nil
}

// Decode parses and verifies a token. Either every field is present and
// verified or a *DecodeError is returned.
func Decode(token string, keys VerificationKeys) (*Token, error) {
	token = strings.TrimSpace(token)
	parts := strings.Split(token, ".")
	if len(parts) < 2 || parts[0] != TokenMagic {
		return nil, malformed("expected %d fields starting with %s", tokenFields, TokenMagic)
	}
	if len(parts) != tokenFields {
		// another format version may frame its envelope differently
		if version, err := parseVersion(parts[1]); err == nil && version != TokenVersion {
			return nil, &DecodeError{Kind: KindUnsupportedVersion, Reason: fmt.Sprintf("version %d", version)}
		}
		return nil, malformed("expected %d fields starting with %s", tokenFields, TokenMagic)
	}

	envelope := token[:strings.LastIndexByte(token, '.')]
	if len(parts[5]) != crcHexLen || parts[5] != crcHex(envelope) {
		return nil, malformed("checksum mismatch")
	}

	version, err := parseVersion(parts[1])
	if err != nil {
		return nil, err
	}
	if version != TokenVersion {
		return nil, &DecodeError{Kind: KindUnsupportedVersion, Reason: fmt.Sprintf("version %d", version)}
	}

	alg := Algorithm(parts[2])
	if alg != AlgHS256 && alg != AlgEd25519 {
		return nil, &DecodeError{Kind: KindUnsupportedVersion, Reason: fmt.Sprintf("algorithm %q", parts[2])}
	}
	if !keys.supports(alg) {
		return nil, &DecodeError{Kind: KindUnsupportedVersion, Reason: fmt.Sprintf("no key configured for %s", alg)}
	}

	body, err := b64.DecodeString(parts[3])
	if err != nil {
		return nil, malformed("payload encoding: %v", err)
	}
	tag, err := b64.DecodeString(parts[4])
	if err != nil {
		return nil, malformed("tag encoding: %v", err)
	}

	signingInput := strings.Join(parts[:4], ".")
	if !verify(alg, keys, []byte(signingInput), tag) {
		return nil, &DecodeError{Kind: KindTampered, Reason: "integrity tag mismatch"}
	}

	var w wirePayload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return nil, malformed("payload: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, malformed("payload: trailing data")
	}
	if err := w.validate(); err != nil {
		return nil, malformed("payload: %v", err)
	}

	return &Token{
		Payload:   w.toPayload(),
		Version:   version,
		Algorithm: alg,
		Raw:       token,
	}, nil
}

// parseVersion accepts only the canonical form v<n>
func parseVersion(field string) (int, error) {
	if len(field) < 2 || field[0] != 'v' {
		return 0, malformed("version field %q", field)
	}
	n, err := strconv.Atoi(field[1:])
	if err != nil || n < 0 || "v"+strconv.Itoa(n) != field {
		return 0, malformed("version field %q", field)
	}
	return n, nil
}

func signingPrefix(alg Algorithm) string {
	return fmt.Sprintf("%s.v%d.%s.", TokenMagic, TokenVersion, alg)
}

func sign(key SigningKey, input []byte) ([]byte, error) {
	switch key.Algorithm {
	case AlgHS256:
		if len(key.HMACSecret) == 0 {
			return nil, errors.New("hs256 signing requires a secret")
		}
		mac := hmac.New(sha256.New, key.HMACSecret)
		mac.Write(input)
		return mac.Sum(nil), nil
	case AlgEd25519:
		if len(key.PrivateKey) != ed25519.PrivateKeySize {
			return nil, errors.New("ed25519 signing requires a private key")
		}
		return ed25519.Sign(key.PrivateKey, input), nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", key.Algorithm)
	}
}

func verify(alg Algorithm, keys VerificationKeys, input, tag []byte) bool {
	switch alg {
	case AlgHS256:
		if len(tag) != sha256.Size {
			return false
		}
		for _, secret := range keys.HMACSecrets {
			if len(secret) == 0 {
				continue
			}
			mac := hmac.New(sha256.New, secret)
			mac.Write(input)
			if hmac.Equal(mac.Sum(nil), tag) {
				return true
			}
		}
		return false
	case AlgEd25519:
		return len(tag) == ed25519.SignatureSize && ed25519.Verify(keys.PublicKey, input, tag)
	}
	return false
}

func crcHex(envelope string) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE([]byte(envelope)))
}
