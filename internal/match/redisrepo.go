package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/socket-chess-server/pkg/domain"
)

const maxTxRetries = 8

// RedisRepository stores matches in Redis so that several server instances
// share one authoritative view. Per-match updates use WATCH/MULTI.
type RedisRepository struct {
	rdb *redis.Client
	ttl time.Duration // 0 = no expiry
}

func NewRedisRepository(rdb *redis.Client, ttl time.Duration) *RedisRepository {
	return &RedisRepository{rdb: rdb, ttl: ttl}
}

func keyMatch(id string) string { return "match:" + strings.TrimSpace(id) }
func keyUserIdx(user string) string { return "match:index:user:" + strings.TrimSpace(user) }
func keyOpenIdx() string { return "match:index:open" }

// Create writes the record and its index entries in one MULTI guarded by
// WATCH on the match key. Redis does not roll back a failed command inside
// EXEC, so a failed index write removes the record again.
func (r *RedisRepository) Create(ctx context.Context, m *domain.Match) error {
	if m == nil || strings.TrimSpace(m.ID) == "" {
		return ErrInvalidArgs
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	key := keyMatch(m.ID)
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redis exists: %w", err)
		}
		if n > 0 {
			return ErrMatchExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, r.ttl)
			r.reindex(ctx, pipe, m)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrMatchExists):
			return err
		}
		if derr := r.rdb.Del(context.WithoutCancel(ctx), key).Err(); derr != nil {
			return errors.Join(fmt.Errorf("redis create: %w", err), fmt.Errorf("redis cleanup: %w", derr))
		}
		return fmt.Errorf("redis create: %w", err)
	}
	return ErrConflict
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*domain.Match, error) {
	raw, err := r.rdb.Get(ctx, keyMatch(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeMatch(raw)
}

func (r *RedisRepository) Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Match, error) {
	key := keyMatch(id)
	var out *domain.Match
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrMatchNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decodeMatch(raw)
		if err != nil {
			return err
		}
		before := cur.Version
		if err := fn(cur); err != nil {
			return err
		}
		if cur.Version == before {
			out = cur
			return nil
		}
		next, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, r.ttl)
			r.reindex(ctx, pipe, cur)
			return nil
		})
		if err == nil {
			out = cur
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, ErrConflict
}

func (r *RedisRepository) ListAvailable(ctx context.Context) ([]*domain.Match, error) {
	ids, err := r.rdb.SMembers(ctx, keyOpenIdx()).Result()
	if err != nil {
		return nil, err
	}
	list, stale, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Match, 0, len(list))
	for _, m := range list {
		if m.Open() {
			out = append(out, m)
		} else {
			stale = append(stale, m.ID)
		}
	}
	if len(stale) > 0 {
		_ = r.rdb.SRem(ctx, keyOpenIdx(), toAny(stale)...).Err()
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *RedisRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Match, error) {
	if strings.TrimSpace(userID) == "" {
		return []*domain.Match{}, nil
	}
	ids, err := r.rdb.SMembers(ctx, keyUserIdx(userID)).Result()
	if err != nil {
		return nil, err
	}
	list, stale, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		_ = r.rdb.SRem(ctx, keyUserIdx(userID), toAny(stale)...).Err()
	}
	out := make([]*domain.Match, 0, len(list))
	for _, m := range list {
		if m.SeatOf(userID) != "" {
			out = append(out, m)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// load fetches ids in one round trip; ids whose record expired are returned as stale.
func (r *RedisRepository) load(ctx context.Context, ids []string) ([]*domain.Match, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyMatch(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, err
	}
	var (
		out   []*domain.Match
		stale []string
	)
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		m, err := decodeMatch([]byte(s))
		if err != nil {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, m)
	}
	return out, stale, nil
}

func (r *RedisRepository) reindex(ctx context.Context, pipe redis.Pipeliner, m *domain.Match) {
	if m.Open() {
		pipe.SAdd(ctx, keyOpenIdx(), m.ID)
	} else {
		pipe.SRem(ctx, keyOpenIdx(), m.ID)
	}
	for _, uid := range m.Players() {
		pipe.SAdd(ctx, keyUserIdx(uid), m.ID)
		if r.ttl > 0 {
			pipe.Expire(ctx, keyUserIdx(uid), r.ttl)
		}
	}
}

func decodeMatch(raw []byte) (*domain.Match, error) {
	var m domain.Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode match: %w", err)
	}
	return &m, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
