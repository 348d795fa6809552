// Package license issues, activates and validates offline ISX licenses.
//
// A license travels as a signed token:
//
//	isxlic.v1.<alg>.<payload>.<tag>.<crc32>
//
// where payload and tag are base64url without padding and crc32 covers
// everything before it. Decode verifies the envelope, the version, the
// integrity tag and finally the payload, in that order.
//
// Manager is the single entry point. It combines the codec with a secure
// store (see package store), the revocation registry, the audit log and a
// machine fingerprint, and walks the license lifecycle:
//
//	NONE -> PENDING_ACTIVATION -> ACTIVE | EXPIRED | REVOKED | HARDWARE_MISMATCH
//	any settled state -> DEACTIVATED -> NONE
//
// Every operation re-reads the store and the registry. Nothing decoded is
// cached between calls.
package license
