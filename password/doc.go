// Package password implements one-way credential hashing with Argon2id.
//
// Hashes are stored in PHC string format with the cost parameters embedded,
// so records hashed under an older policy remain verifiable after the
// parameters are raised. Use [Hasher.NeedsRehash] to detect such records
// and rehash them opportunistically on the next successful verification.
//
// The plaintext password is never persisted, logged, or returned; it exists
// only for the duration of a Hash or Verify call.
package password
