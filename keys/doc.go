// Package keys provides channel participant identities.
//
// An Identity is derived deterministically from a seed string. It holds a
// signing key (ed25519 or dilithium3) and an X25519 exchange key. The public
// half, PublicIdentity, is what travels inside announcements, subscriptions and
// keyloads; its ID is the fingerprint used to name publishers and branches.
//
// API stability:
//
// Stable:
//   - Seed derivation, identity fingerprints and signature verification.
//
// Experimental:
//   - Filesystem-backed seed storage (KeyStore). It is a local-first utility used by
//     the command line tools and is not part of the channel protocol.
package keys
