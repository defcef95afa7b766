// Package token issues and verifies signed access tokens.
//
// Access tokens are compact JWTs carrying the principal id, tenant, session
// id, a token-version counter, and a snapshot of the principal's roles. They
// are verifiable without a storage lookup; coarse revocation is achieved by
// comparing the embedded token version against the principal's current
// version, which the session store bumps on mass revocation.
//
// This package performs no I/O. Refresh tokens are a separate, opaque
// construct owned by the refresh and session packages.
package token
