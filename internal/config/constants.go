package config

// Application constants
const (
	AppName = "ISX License"

	// Store account under which the current license token is kept
	StoreAccountLicense = "license"
	// Store account under which the trial ledger is kept
	StoreAccountTrials = "trials"

	// Data files (inside the data directory)
	StoreFileName      = "license.store"
	TrialStoreFileName = "trials.store"
	RegistryFileName   = "revocations.jsonl"
	AuditFileName      = "audit.jsonl"
	CatalogFileName    = "catalog.json"

	// License key format: ISX-XXXX-XXXX-XXXX-XXXX
	LicenseKeyPrefix = "ISX"
)
