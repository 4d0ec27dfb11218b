// Package token holds the secret-handling primitives shared by the invite codec,
// the redemption ledger and the session issuer.
//
// One master secret (PIXELPACT_SECRET) is loaded at startup. Every consumer gets
// its own sub-key derived with HKDF-SHA256 and a purpose label, so a key leaked
// from one component cannot forge material for another.
//
// Hash helpers return lowercase hex, which is what the ledger stores.
package token
