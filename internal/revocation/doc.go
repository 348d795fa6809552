// Package revocation records license revocations in an append-only registry.
//
// Every Revoke call appends an Entry; nothing is ever rewritten. Whether a
// license is currently revoked is decided by Authoritative:
//
//   - any permanent entry wins and can never be lifted
//   - otherwise the most recent temporary entry (by RevokedAt, later
//     insertion wins ties) decides
//   - a temporary entry whose ReinstateAt is at or before now means the
//     license has been reinstated
//   - a temporary entry without ReinstateAt stays in force until a newer
//     entry supersedes it
//
// Validation does not read the registry directly. Callers load a Snapshot
// first so the decision itself is pure and never blocks.
package revocation
