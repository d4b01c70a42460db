package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"forge/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// nowFunc is a test seam for entry timestamps.
var nowFunc = time.Now

// redisChannel implements Channel over Redis: one hash per room holds the
// sealed entries (field = entry id, so concurrent appends converge without
// coordination), and a pub/sub channel fans live appends out to subscribers.
type redisChannel struct {
	rdb          *redis.Client
	namespace    string
	identitySalt string
	historyLimit int
}

// Options configures the Redis-backed channel.
type Options struct {
	// Namespace prefixes every Redis key so multiple deployments can share
	// an instance.
	Namespace string
	// IdentitySalt feeds the deterministic passphrase scheme.
	IdentitySalt string
	// HistoryLimit caps how many entries Subscribe replays (0 = all).
	HistoryLimit int
}

// NewRedisChannel creates a Channel backed by the given Redis client.
func NewRedisChannel(rdb *redis.Client, opts Options) Channel {
	if opts.Namespace == "" {
		opts.Namespace = "mesh"
	}
	return &redisChannel{
		rdb:          rdb,
		namespace:    opts.Namespace,
		identitySalt: opts.IdentitySalt,
		historyLimit: opts.HistoryLimit,
	}
}

func (c *redisChannel) entriesKey(roomKey string) string {
	return fmt.Sprintf("%s:room:%s:entries", c.namespace, roomKey)
}

func (c *redisChannel) liveChannel(roomKey string) string {
	return fmt.Sprintf("%s:room:%s:live", c.namespace, roomKey)
}

func (c *redisChannel) identityKey(alias string) string {
	return fmt.Sprintf("%s:identity:%s", c.namespace, alias)
}

// RegisterIdentity derives the user's identity and records its public key.
// When the alias is already taken the call degrades to authentication: the
// derived key must match the stored one.
func (c *redisChannel) RegisterIdentity(ctx context.Context, userID uint) (*Identity, error) {
	id := DeriveIdentity(userID, c.identitySalt)

	created, err := c.rdb.SetNX(ctx, c.identityKey(id.Alias), id.PublicKeyHex(), 0).Result()
	if err != nil {
		return nil, fmt.Errorf("register identity %s: %w", id.Alias, err)
	}
	if created {
		return id, nil
	}

	stored, err := c.rdb.Get(ctx, c.identityKey(id.Alias)).Result()
	if err != nil {
		return nil, fmt.Errorf("load identity %s: %w", id.Alias, err)
	}
	if stored != id.PublicKeyHex() {
		return nil, fmt.Errorf("identity %s exists with a different key", id.Alias)
	}
	return id, nil
}

func (c *redisChannel) Append(ctx context.Context, roomKey string, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.SentAt.IsZero() {
		entry.SentAt = nowFunc()
	}
	if entry.Type == "" {
		entry.Type = EntryTypeText
	}
	if entry.Type != EntryTypeText && entry.Type != EntryTypeFile {
		return fmt.Errorf("unknown entry type %q", entry.Type)
	}
	entry.RoomKey = roomKey

	sealed, err := sealEntry(roomKey, entry)
	if err != nil {
		return fmt.Errorf("seal entry: %w", err)
	}

	if err := c.rdb.HSet(ctx, c.entriesKey(roomKey), entry.ID, sealed).Err(); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	observability.MeshEntriesTotal.WithLabelValues("append").Inc()

	// Fan-out is best effort: the entry is already durable in the hash, and
	// late subscribers pick it up on replay.
	if err := c.rdb.Publish(ctx, c.liveChannel(roomKey), sealed).Err(); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "mesh publish failed",
			slog.String("room_key", roomKey),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (c *redisChannel) Subscribe(ctx context.Context, roomKey string) (Subscription, error) {
	// Subscribe before replaying so appends racing the replay are not lost;
	// the seen-set below absorbs the resulting duplicates.
	pubsub := c.rdb.Subscribe(ctx, c.liveChannel(roomKey))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe room: %w", err)
	}

	history, err := c.replay(ctx, roomKey)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Entry, 64),
		done:   make(chan struct{}),
	}

	go sub.pump(roomKey, history)
	return sub, nil
}

// replay loads the room's sealed history, drops entries that fail to open,
// and returns the remainder in send order.
func (c *redisChannel) replay(ctx context.Context, roomKey string) ([]Entry, error) {
	raw, err := c.rdb.HGetAll(ctx, c.entriesKey(roomKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("replay room: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for id, sealed := range raw {
		entry, err := openEntry(roomKey, []byte(sealed))
		if err != nil {
			observability.MeshDecryptFailures.Inc()
			observability.GlobalLogger.WarnContext(ctx, "mesh entry dropped",
				slog.String("room_key", roomKey),
				slog.String("entry_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, *entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SentAt.Before(entries[j].SentAt)
	})
	if c.historyLimit > 0 && len(entries) > c.historyLimit {
		entries = entries[len(entries)-c.historyLimit:]
	}
	return entries, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Entry
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) C() <-chan Entry {
	return s.out
}

func (s *redisSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		_ = s.pubsub.Close()
	})
}

func (s *redisSubscription) pump(roomKey string, history []Entry) {
	defer close(s.out)

	seen := make(map[string]struct{}, len(history))

	deliver := func(entry Entry) bool {
		if _, dup := seen[entry.ID]; dup {
			return true
		}
		seen[entry.ID] = struct{}{}
		select {
		case s.out <- entry:
			observability.MeshEntriesTotal.WithLabelValues("deliver").Inc()
			return true
		case <-s.done:
			return false
		}
	}

	for _, entry := range history {
		if !deliver(entry) {
			return
		}
	}

	live := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-live:
			if !ok {
				return
			}
			entry, err := openEntry(roomKey, []byte(msg.Payload))
			if err != nil {
				observability.MeshDecryptFailures.Inc()
				observability.GlobalLogger.Warn("mesh entry dropped",
					slog.String("room_key", roomKey),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !deliver(*entry) {
				return
			}
		}
	}
}
