// Package services sits between the HTTP handlers and the license manager.
//
// LicenseService turns manager results into the response contracts in
// pkg/contracts/domain: it classifies a stored license as active, warning,
// critical or expired by days remaining, builds renewal hints and attaches
// the request trace ID. HealthService aggregates the manager health check
// with process and event stream information.
//
// Services never cache manager results; every call goes back to the
// manager, which re-reads storage.
package services
