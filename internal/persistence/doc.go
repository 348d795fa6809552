// Package persistence stores the key catalog, the revocation registry and
// the audit log in PostgreSQL through GORM. It is selected with
// storage.driver=postgres; the file backends in catalog, revocation and
// audit are the default.
//
// Tables: license_keys, license_validation_log, license_revocation and
// security_events. Migrations are embedded and applied in lexical order.
package persistence
