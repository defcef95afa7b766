// Package authcore is an embeddable credential and session core: argon2id
// password storage, JWT access tokens, rotating opaque refresh tokens with
// reuse detection, lockout, rate limiting and role-based authorization.
//
// The engine keeps all ephemeral security state in Redis so any number of
// instances behave as one. Durable account state lives behind the
// UserProvider interface; store/postgres ships a ready implementation.
//
// Construct an engine with the builder:
//
//	eng, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithUserProvider(users).
//		Build()
//
// All operations take a context carrying the tenant and, optionally, the
// client address (WithTenant, WithClientIP). Errors are matched with
// errors.Is against the package sentinels.
package authcore
