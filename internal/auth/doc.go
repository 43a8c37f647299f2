// Package auth provides authentication, accounts and roles for Mortal Core.
//
// Sessions follow a small state machine: anonymous, authenticated (login),
// authenticated again (refresh), anonymous (logout).
//   - Passwords are hashed with Argon2id and never leave the package
//   - Access tokens are HS256 JWTs carrying the user id, username, enabled
//     role codes and the session (token family) id; they are not revocable
//   - Refresh tokens are opaque 256-bit values stored as SHA-256 hashes;
//     revoked rows form the blacklist, and reuse of a revoked token revokes
//     the whole family
//
// Roles are granted menu nodes; the union of a user's enabled role grants
// scopes the navigation routes they receive.
package auth
