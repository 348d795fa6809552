// Package config provides centralized configuration management for the
// license service and CLI.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file (ISXLIC_CONFIG or licensed.yaml)
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern ISXLIC_<SECTION>_<FIELD>:
//
//	ISXLIC_SERVER_PORT=8080
//	ISXLIC_STORE_BACKEND=keyring
//	ISXLIC_STORAGE_DRIVER=postgres
//	ISXLIC_STORAGE_DSN=postgres://...
//	ISXLIC_KEYS_HMAC_SECRET=<base64>
//
// # Path Management
//
// Paths are resolved relative to the executable, never the working directory:
//
//	paths, err := config.GetPaths()
//	if err != nil {
//	    return err
//	}
//	if err := paths.EnsureDirectories(); err != nil {
//	    return err
//	}
package config
