// Package session issues and verifies room-scoped session credentials.
//
// A credential is a PASETO v4.public token carrying the session id, the room
// it grants access to, the holder's role in that room, and the SHA-256 of an
// anti-forgery token handed to the client alongside it. Nothing is stored
// server side; a credential is valid until it expires.
package session
