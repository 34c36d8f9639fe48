// Package auth issues and checks the bearer tokens that guard the local
// control API.
//
// Tokens are HS256 JWTs signed with the shared security.jwt.secret. A token
// carries a role; each role maps to a fixed set of permissions:
//   - viewer: read status and event history, join the event relay
//   - operator: viewer plus mastership requests and releases
//   - admin: operator plus cleanup and host acknowledgement injection
package auth
