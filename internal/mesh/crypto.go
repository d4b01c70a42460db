package mesh

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"forge/internal/roomkey"

	"golang.org/x/crypto/chacha20poly1305"
)

// envelope is the wire form of an entry: the body travels as XChaCha20-
// Poly1305 ciphertext, everything else stays in the clear so peers can
// replicate without the room key.
type envelope struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	SenderKey string `json:"sender_key,omitempty"`
	Type      string `json:"type,omitempty"`
	Nonce     string `json:"nonce"`
	Body      string `json:"body"`
	FileName  string `json:"file_name,omitempty"`
	SentAt    int64  `json:"sent_at"`
}

// aad binds a ciphertext to its room so an envelope copied between room
// namespaces fails authentication instead of decrypting.
func aad(key string) []byte {
	return []byte("forge:room:" + key)
}

// roomCipherKey turns the 64-char hex room key into the 32-byte AEAD key.
func roomCipherKey(key string) ([]byte, error) {
	raw, err := roomkey.DecodeKey(key)
	if err != nil {
		return nil, err
	}
	if len(raw) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("room key decodes to %d bytes, want %d", len(raw), chacha20poly1305.KeySize)
	}
	return raw, nil
}

// sealEntry encrypts the entry body under the room key and returns the
// serialized envelope.
func sealEntry(key string, entry *Entry) ([]byte, error) {
	cipherKey, err := roomCipherKey(key)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(cipherKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ct := aead.Seal(nil, nonce, []byte(entry.Body), aad(key))

	env := envelope{
		ID:        entry.ID,
		Author:    entry.Author,
		SenderKey: entry.SenderKey,
		Type:      entry.Type,
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
		Body:      base64.StdEncoding.EncodeToString(ct),
		FileName:  entry.FileName,
		SentAt:    entry.SentAt.UnixMilli(),
	}
	return json.Marshal(env)
}

// openEntry parses a serialized envelope and decrypts the body. A failure
// means the payload is not for this room key or was tampered with.
func openEntry(key string, raw []byte) (*Entry, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	cipherKey, err := roomCipherKey(key)
	if err != nil {
		return nil, err
	}

	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("malformed nonce: %w", err)
	}
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("nonce is %d bytes, want %d", len(nonce), chacha20poly1305.NonceSizeX)
	}

	ct, err := base64.StdEncoding.DecodeString(env.Body)
	if err != nil {
		return nil, fmt.Errorf("malformed ciphertext: %w", err)
	}

	aead, err := chacha20poly1305.NewX(cipherKey)
	if err != nil {
		return nil, err
	}

	plain, err := aead.Open(nil, nonce, ct, aad(key))
	if err != nil {
		return nil, fmt.Errorf("decrypt failed: %w", err)
	}

	entryType := env.Type
	if entryType == "" {
		// Envelopes sealed before types existed are all text.
		entryType = EntryTypeText
	}

	return &Entry{
		ID:        env.ID,
		Author:    env.Author,
		SenderKey: env.SenderKey,
		Type:      entryType,
		Body:      string(plain),
		FileName:  env.FileName,
		SentAt:    time.UnixMilli(env.SentAt),
		RoomKey:   key,
	}, nil
}
