// Package mesh is the chat transport: an encrypted, decentralized-style
// channel addressed by room key. The rest of the application only sees the
// Channel interface; the Redis implementation, the sealing format and the
// identity scheme are all swappable behind it.
//
// A room's channel is a convergent set of entries: appends from different
// writers need no coordination, replay plus live delivery may duplicate or
// reorder entries, and consumers must tolerate both.
package mesh

import (
	"context"
	"time"
)

// Entry kinds. Text entries carry the message in Body; file entries carry
// the shared payload reference in Body and its display name in FileName.
const (
	EntryTypeText = "text"
	EntryTypeFile = "file"
)

// Entry is one decrypted chat message as consumers see it. SenderKey is the
// hex public key of the author identity; Author keeps the readable alias.
type Entry struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	SenderKey string    `json:"sender_key,omitempty"`
	Type      string    `json:"type"`
	Body      string    `json:"body"`
	FileName  string    `json:"file_name,omitempty"`
	SentAt    time.Time `json:"sent_at"`
	RoomKey   string    `json:"room_key"`
}

// Subscription is a live attachment to a room's channel. Entries arrive on C:
// first the replayed history, then live appends. The subscriber MUST call
// Unsubscribe when done; an abandoned subscription leaks a pump goroutine.
type Subscription interface {
	// C delivers decrypted entries. It is closed by Unsubscribe.
	C() <-chan Entry
	// Unsubscribe releases the underlying transport resources and closes C.
	// Safe to call more than once.
	Unsubscribe()
}

// Channel is the narrow surface the application depends on.
type Channel interface {
	// RegisterIdentity ensures the chat identity for the user exists on the
	// channel, creating it on first use and authenticating against the
	// stored public key afterwards.
	RegisterIdentity(ctx context.Context, userID uint) (*Identity, error)

	// Append seals the entry and adds it to the room's set. The entry's ID
	// and SentAt are filled in when zero.
	Append(ctx context.Context, roomKey string, entry *Entry) error

	// Subscribe replays the room's history and then streams live appends.
	Subscribe(ctx context.Context, roomKey string) (Subscription, error)
}
