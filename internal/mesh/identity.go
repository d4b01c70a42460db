package mesh

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Identity is a user's chat persona on the channel. The keypair is derived
// deterministically from the user id, so any instance of the service can
// reconstruct it without shared state.
//
// The passphrase scheme is intentionally weak: it is guessable by anyone who
// knows a user id. Encryption of room traffic does not rest on it (that is
// the room key's job), but replacing it with per-user secret material is the
// first hardening step for any real deployment.
type Identity struct {
	UserID    uint
	Alias     string
	PublicKey ed25519.PublicKey

	priv ed25519.PrivateKey
}

// Alias returns the channel alias for a user id.
func Alias(userID uint) string {
	return fmt.Sprintf("forge_secure_%d", userID)
}

// Passphrase returns the deterministic passphrase for a user id. The salt is
// configurable; the default reproduces "pass_<id>_for_startup_forge_2025".
func Passphrase(userID uint, salt string) string {
	return fmt.Sprintf("pass_%d_%s", userID, salt)
}

// DeriveIdentity builds the Ed25519 identity for a user from the alias and
// passphrase. The seed is the SHA-256 of the passphrase, so the same user id
// and salt always yield the same keypair.
func DeriveIdentity(userID uint, salt string) *Identity {
	seed := sha256.Sum256([]byte(Passphrase(userID, salt)))
	priv := ed25519.NewKeyFromSeed(seed[:])

	return &Identity{
		UserID:    userID,
		Alias:     Alias(userID),
		PublicKey: priv.Public().(ed25519.PublicKey),
		priv:      priv,
	}
}

// PublicKeyHex returns the hex encoding of the identity's public key, the
// form stored in the channel's identity registry.
func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.PublicKey)
}

// Sign signs msg with the identity's private key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.priv, msg)
}

// Verify reports whether sig is a valid signature of msg by the identity.
func (id *Identity) Verify(msg, sig []byte) bool {
	return ed25519.Verify(id.PublicKey, msg, sig)
}
