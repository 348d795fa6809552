// Package http implements the HTTP handlers for the license engine.
//
// Handlers stay thin: they decode and validate the request, call a service
// and render either the response DTO or an RFC 7807 problem. Routing and
// middleware ordering live in internal/app.
//
// # Endpoints
//
//	POST /api/license/activate     activate a license key or token
//	GET  /api/license/status       re-validate the installed license
//	POST /api/license/deactivate   remove the installed license
//	POST /api/license/validate     stateless check of a key or token
//	POST /api/license/trial        issue a local trial license
//	POST /api/license/revoke       add a revocation entry (admin)
//	GET  /api/audit                list audit events (admin)
//	GET  /api/audit/export         download audit events as csv or xlsx (admin)
//	GET  /healthz                  readiness with component detail
//	GET  /api/health/live          liveness
//	GET  /api/health/ready         readiness
//	GET  /api/version              build information
//
// # Errors
//
// Every failure is rendered through errors.ErrorHandler so that domain
// sentinels map to the same problem types regardless of the endpoint.
package http
