package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	InboxKeyPrefix   = "inbox:%d"
	PendingKeyPrefix = "pending:%d"
	RoomByConnPrefix = "room:conn:%d"
)

const (
	InboxTTL   = 2 * time.Minute
	PendingTTL = 1 * time.Minute
	RoomTTL    = 30 * time.Minute
)

func InboxKey(userID uint) string {
	return fmt.Sprintf(InboxKeyPrefix, userID)
}

func PendingKey(userID uint) string {
	return fmt.Sprintf(PendingKeyPrefix, userID)
}

func RoomByConnectionKey(connectionID uint) string {
	return fmt.Sprintf(RoomByConnPrefix, connectionID)
}

// GetJSON loads a cached value into dest. Returns false on any miss or
// error; callers fall back to the database.
func GetJSON(ctx context.Context, key string, dest any) bool {
	if client == nil {
		return false
	}
	raw, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

// SetJSON stores a value under the key with a TTL. Failures are ignored:
// the cache is an accelerator, never the source of truth.
func SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	if client == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	client.Set(ctx, key, raw, ttl)
}

func Invalidate(ctx context.Context, keys ...string) {
	if client != nil && len(keys) > 0 {
		client.Del(ctx, keys...)
	}
}

// InvalidateInbox drops each user's cached inbox and pending request list.
func InvalidateInbox(ctx context.Context, userIDs ...uint) {
	keys := make([]string, 0, len(userIDs)*2)
	for _, id := range userIDs {
		keys = append(keys, InboxKey(id), PendingKey(id))
	}
	Invalidate(ctx, keys...)
}

// CachedRoomKey returns the cached room key for a connection, if present.
func CachedRoomKey(ctx context.Context, connectionID uint) (string, bool) {
	if client == nil {
		return "", false
	}
	key, err := client.Get(ctx, RoomByConnectionKey(connectionID)).Result()
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

// StoreRoomKey caches the room key for a connection. Room keys never change
// once derived, so the TTL only bounds memory, not staleness.
func StoreRoomKey(ctx context.Context, connectionID uint, roomKey string) {
	if client == nil {
		return
	}
	client.Set(ctx, RoomByConnectionKey(connectionID), roomKey, RoomTTL)
}
