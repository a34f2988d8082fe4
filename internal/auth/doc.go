// Package auth verifies bearer tokens for hostel messaging clients.
//
// Credentials are issued elsewhere; this package only checks them. Tokens are
// HS256 JWTs signed with the configured jwt_secret and carry:
//
//   - sub: the resident or staff id
//   - role: "participant" or "support" (defaults to participant)
//
// HTTPAuthMiddleware reads the Authorization header, or the "token" query
// parameter for websocket upgrades, and stores an AuthContext in the request
// context. With no verifier configured, authentication is disabled and
// requests pass through untouched.
package auth
