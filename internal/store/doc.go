// Package store persists small secret blobs (the current license token and
// the trial ledger) in the best place the host offers.
//
// Backends:
//
//   - KeyringStore uses the OS credential store (Keychain, Windows
//     Credential Manager, Secret Service). Every call is bounded by a
//     timeout because some platforms block on an unlock prompt.
//   - FileStore is the fallback. Blobs are AES-256-GCM encrypted with a
//     scrypt derived key and written atomically under a file lock. It is
//     reported as Degraded: anyone who can read the file and the
//     passphrase can read the license.
//   - MemoryStore keeps data for the lifetime of the process.
//
// Open probes the keyring and falls back to FileStore when the probe fails.
// All backends return *StoreError so callers can tell transient failures
// (Retryable) from corrupt data.
package store
