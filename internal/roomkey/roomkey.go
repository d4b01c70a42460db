// Package roomkey derives deterministic chat room identifiers from
// connection IDs. Any party that knows a connection ID can compute the
// same key without coordination, so the key doubles as the rendezvous
// name for the room's channel.
package roomkey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Prefix namespaces the digest input so connection-derived keys can never
// collide with keys derived for other entity kinds.
const Prefix = "connection:"

// Derive returns the room key for a connection: the lowercase hex SHA-256
// digest of "connection:<id>" with the ID in decimal. The result is always
// 64 characters.
func Derive(connectionID uint) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s%d", Prefix, connectionID)))
	return hex.EncodeToString(sum[:])
}

// DecodeKey decodes a room key back into the 32 raw digest bytes. It
// rejects strings that are not exactly 64 hex characters.
func DecodeKey(key string) ([]byte, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("room key must be 64 hex characters, got %d", len(key))
	}
	raw, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("room key is not valid hex: %w", err)
	}
	return raw, nil
}
