// Package security provides the ambient security layer of the identity
// provider: AES-256-GCM encryption for secrets at rest (PKCE challenges),
// per-identifier rate limiting with LRU eviction, audit logging with hashed
// PII, request ID propagation, client IP extraction, and security response
// headers.
package security
