package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Poll results stored in PollStatus.Status.
const (
	PollStatusOK    = "ok"
	PollStatusError = "error"
)

// PollStatus is the outcome of the latest poll of one account.
type PollStatus struct {
	Account       string    `json:"account"`
	LastPollAt    time.Time `json:"last_poll_at"`
	Status        string    `json:"last_status"`
	Error         string    `json:"last_error"`
	Origin        string    `json:"origin,omitempty"`
	FoldersFailed int       `json:"folders_failed"`
	Messages      int       `json:"messages_fetched"`
	Replied       int       `json:"replied"`
	Duplicates    int       `json:"duplicates"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
}

// kv is the subset of redis.Cmdable the store needs.
type kv interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// PollStatusStore reads and writes PollStatus values.
type PollStatusStore struct {
	client kv
	prefix string
	ttl    time.Duration
}

// NewPollStatusStore wraps a redis client. prefix defaults to "autoreply" and
// ttl to 24h.
func NewPollStatusStore(client redis.Cmdable, prefix string, ttl time.Duration) *PollStatusStore {
	return newPollStatusStore(client, prefix, ttl)
}

func newPollStatusStore(client kv, prefix string, ttl time.Duration) *PollStatusStore {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "autoreply"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PollStatusStore{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the redis key holding the account's status.
func (s *PollStatusStore) Key(account string) string {
	return fmt.Sprintf("%s:mail_poll_status:%s", s.prefix, strings.ToLower(strings.TrimSpace(account)))
}

// Save stores st under its account key.
func (s *PollStatusStore) Save(ctx context.Context, st PollStatus) error {
	if st.Account == "" {
		return errors.New("poll status requires an account")
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode poll status: %w", err)
	}
	if err := s.client.Set(ctx, s.Key(st.Account), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store poll status for %s: %w", st.Account, err)
	}
	return nil
}

// Get returns the stored status, or nil when the account was never polled or
// the entry expired.
func (s *PollStatusStore) Get(ctx context.Context, account string) (*PollStatus, error) {
	raw, err := s.client.Get(ctx, s.Key(account)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read poll status for %s: %w", account, err)
	}
	var st PollStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode poll status for %s: %w", account, err)
	}
	return &st, nil
}
