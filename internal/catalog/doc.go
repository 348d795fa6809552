// Package catalog keeps the local key catalog: the license keys this
// installation knows about and the signed token delivered with each one.
// FileCatalog is the default backend; persistence.Catalog stores the same
// rows in the license_keys table.
package catalog
