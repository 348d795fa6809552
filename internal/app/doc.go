// Package app provides application initialization and lifecycle management
// for the license server. It wires configuration, logging, telemetry, the
// license engine and the HTTP surface together.
//
// # Initialization Flow
//
//	1. Load configuration from the YAML file and ISXLIC_* variables
//	2. Initialize logging and OpenTelemetry
//	3. Open the secure stores (keyring, falling back to an encrypted file)
//	4. Open the revocation registry, audit log and key catalog
//	   (JSON files under the data directory, or Postgres)
//	5. Build the license manager, services and handlers
//	6. Configure and start the HTTP server
//
// OpenCore performs steps 3 to 5 without any HTTP surface; licensectl uses
// it directly.
//
// # Usage
//
//	application, err := app.NewApplication(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// # Graceful Shutdown
//
// Run returns after SIGINT or SIGTERM once active requests have completed,
// websocket clients are closed, the database pool is released and
// telemetry is flushed. The package never calls os.Exit.
package app
