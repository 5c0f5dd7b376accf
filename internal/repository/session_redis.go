package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"clash_tracker/internal/domain/invite"
	"clash_tracker/internal/domain/user"
)

// SessionKey is the well-known name every stored session lives under.
const SessionKey = "clash_user"

const pendingInviteKey = "pending_invite"

type RedisSessionStorage struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionRedisStorage(client *redis.Client, ttl time.Duration) *RedisSessionStorage {
	return &RedisSessionStorage{
		client: client,
		ttl:    ttl,
	}
}

func sessionKey(slot string) string {
	return SessionKey + ":" + slot
}

// Save writes the whole session as one value, so a reader sees either the
// previous session or the new one.
func (r *RedisSessionStorage) Save(ctx context.Context, slot string, s user.Session) error {
	const op = "repository.RedisSessionStorage.Save"

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := r.client.Set(ctx, sessionKey(slot), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *RedisSessionStorage) Load(ctx context.Context, slot string) (user.Session, bool, error) {
	const op = "repository.RedisSessionStorage.Load"

	raw, err := r.client.Get(ctx, sessionKey(slot)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return user.Session{}, false, nil
		}
		return user.Session{}, false, fmt.Errorf("%s: %w", op, err)
	}

	var s user.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		// a value we cannot read is as good as no session
		return user.Session{}, false, nil
	}
	return s, true, nil
}

func (r *RedisSessionStorage) Clear(ctx context.Context, slot string) error {
	if err := r.client.Del(ctx, sessionKey(slot)).Err(); err != nil {
		return fmt.Errorf("repository.RedisSessionStorage.Clear: %w", err)
	}
	return nil
}

// RedisInviteStorage keeps the pending invite of a browser between the
// invite-link click and the end of signup.
type RedisInviteStorage struct {
	client *redis.Client
	ttl    time.Duration
}

func NewInviteRedisStorage(client *redis.Client, ttl time.Duration) *RedisInviteStorage {
	return &RedisInviteStorage{
		client: client,
		ttl:    ttl,
	}
}

func inviteKey(slot string) string {
	return pendingInviteKey + ":" + slot
}

func (r *RedisInviteStorage) Put(ctx context.Context, slot string, p invite.Pending) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("repository.RedisInviteStorage.Put: %w", err)
	}
	if err := r.client.Set(ctx, inviteKey(slot), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("repository.RedisInviteStorage.Put: %w", err)
	}
	return nil
}

func (r *RedisInviteStorage) Get(ctx context.Context, slot string) (invite.Pending, bool, error) {
	raw, err := r.client.Get(ctx, inviteKey(slot)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return invite.Pending{}, false, nil
		}
		return invite.Pending{}, false, fmt.Errorf("repository.RedisInviteStorage.Get: %w", err)
	}

	var p invite.Pending
	if err := json.Unmarshal(raw, &p); err != nil {
		return invite.Pending{}, false, nil
	}
	return p, true, nil
}

func (r *RedisInviteStorage) Delete(ctx context.Context, slot string) error {
	if err := r.client.Del(ctx, inviteKey(slot)).Err(); err != nil {
		return fmt.Errorf("repository.RedisInviteStorage.Delete: %w", err)
	}
	return nil
}
