// Package api implements the HTTP REST API and WebSocket change feed of the
// admin console.
//
// This package provides:
//   - Session endpoints (login, refresh, logout, register)
//   - User, role and menu management, and the permission-scoped /async-routes
//   - The audit trail listing
//   - A WebSocket hub that announces user, role and menu changes
//   - Middleware stack (request ID, logging, recovery, CORS, bearer auth)
//
// Every JSON response uses the same envelope:
//
//	{"success": true, "code": 1001, "data": ...}
//	{"success": false, "code": 9002, "data": null, "message": "...", "errors": {"field": "..."}}
//
// success follows the HTTP status (2xx); code is the business code.
//
// # Security
//
// Protected routes take an access token in "Authorization: Bearer". Reads
// need any authenticated caller; mutations and the audit trail need the
// configured super role. WebSocket connections authenticate with a
// single-use ticket from POST /auth/ws-ticket so tokens stay out of URLs.
//
// The server follows the same lifecycle as the infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
