// Package auth issues and verifies participant tokens for the huddle.
//
// # Tokens
//
// Tokens are HS256 JWTs signed with the configured jwt_secret:
//
//   - sub: the participant identity
//   - room: the room the token admits to
//   - iat, exp: issue and expiry times
//
// # HTTP
//
// TokenHandler serves GET /api/token?room=R&username=U and answers
// {"token": ..., "url": ...}. Authenticator resolves the identity of a
// WebSocket upgrade request from a "token" query parameter or a bearer
// Authorization header and rejects tokens minted for another room.
package auth
