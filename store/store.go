package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/go-redis/redis/v8"
)

const (
	onlineUsersKey  = "online_users"
	unreadKeyPrefix = "unread:"
)

// Unread counter kinds.
const (
	KindNotifications = "notifications"
	KindChats         = "chats"
)

// Unread holds a user's badge counters.
type Unread struct {
	Notifications int64 `json:"notifications"`
	Chats         int64 `json:"chats"`
}

// Summary is what fallback polling reads for one user.
type Summary struct {
	UserID string   `json:"userId"`
	Unread Unread   `json:"unread"`
	Online []string `json:"online"`
}

// Store keeps presence and unread counters in Redis. Presence counts
// connections per user so a second tab closing does not mark the user offline.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) AddOnlineUser(ctx context.Context, userID string) error {
	return s.rdb.HIncrBy(ctx, onlineUsersKey, userID, 1).Err()
}

func (s *Store) RemoveOnlineUser(ctx context.Context, userID string) error {
	n, err := s.rdb.HIncrBy(ctx, onlineUsersKey, userID, -1).Result()
	if err != nil {
		return err
	}
	if n <= 0 {
		return s.rdb.HDel(ctx, onlineUsersKey, userID).Err()
	}
	return nil
}

func (s *Store) GetOnlineUsers(ctx context.Context) ([]string, error) {
	users, err := s.rdb.HKeys(ctx, onlineUsersKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(users)
	return users, nil
}

func (s *Store) IncrUnread(ctx context.Context, userID, kind string) error {
	return s.rdb.HIncrBy(ctx, unreadKeyPrefix+userID, kind, 1).Err()
}

func (s *Store) ResetUnread(ctx context.Context, userID, kind string) error {
	return s.rdb.HDel(ctx, unreadKeyPrefix+userID, kind).Err()
}

func (s *Store) GetUnread(ctx context.Context, userID string) (Unread, error) {
	fields, err := s.rdb.HGetAll(ctx, unreadKeyPrefix+userID).Result()
	if err != nil {
		return Unread{}, err
	}
	return parseUnread(fields)
}

func parseUnread(fields map[string]string) (Unread, error) {
	var u Unread
	for kind, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Unread{}, fmt.Errorf("unread %s: %w", kind, err)
		}
		switch kind {
		case KindNotifications:
			u.Notifications = n
		case KindChats:
			u.Chats = n
		}
	}
	return u, nil
}

// ValidKind reports whether kind names an unread counter.
func ValidKind(kind string) bool {
	return kind == KindNotifications || kind == KindChats
}
