// Package shared holds helpers used by more than one package that belong to
// no single domain or layer.
//
// The testutil subpackage provides:
//
//   - BufferedSlogHandler and NewTestLogger for asserting on structured logs
//   - LicenseTestFixtures with fixed keys, e-mails and fingerprints
//   - FakeClock for expiry and reinstatement tests
//
// testutil must not import domain packages; it is imported by their tests.
//
// Example usage:
//
//	func TestSomething(t *testing.T) {
//	    logger, logs := testutil.NewTestLogger(t)
//	    fixtures := testutil.NewLicenseTestFixtures(t.TempDir())
//	    ...
//	}
package shared
