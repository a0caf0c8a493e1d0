package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
)

const commitRetries = 5

// RedisStore keeps one account in Redis. Commit runs under WATCH/MULTI so a
// concurrent writer on another process makes it retry, never interleave.
//
//	{prefix}:{account}:regime:active   id of the active record
//	{prefix}:{account}:regimes         hash id -> record
//	{prefix}:{account}:regimes:idx     zset by start time
//	{prefix}:{account}:positions       hash id -> position
//	{prefix}:{account}:recs            hash id -> recommendation
//	{prefix}:{account}:state           account state
type RedisStore struct {
	client *redis.Client
	base   string
}

func NewRedisStore(client *redis.Client, prefix, accountID string) *RedisStore {
	return &RedisStore{client: client, base: fmt.Sprintf("%s:%s", prefix, accountID)}
}

func (s *RedisStore) key(parts string) string { return s.base + ":" + parts }

func decode[T any](raw string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(raw), &v)
	return v, err
}

func (s *RedisStore) activeWith(ctx context.Context, c redis.Cmdable) (*models.RegimeRecord, error) {
	id, err := c.Get(ctx, s.key("regime:active")).Result()
	if errors.Is(err, redis.Nil) || id == "" {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis active regime: %w", err)
	}
	raw, err := c.HGet(ctx, s.key("regimes"), id).Result()
	if err != nil {
		return nil, fmt.Errorf("redis regime %s: %w", id, err)
	}
	r, err := decode[models.RegimeRecord](raw)
	if err != nil {
		return nil, fmt.Errorf("decode regime %s: %w", id, err)
	}
	return &r, nil
}

func (s *RedisStore) ActiveRegime(ctx context.Context) (*models.RegimeRecord, error) {
	return s.activeWith(ctx, s.client)
}

func (s *RedisStore) RegimeHistory(ctx context.Context, limit int) ([]models.RegimeRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.key("regimes:idx"), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis regime history: %w", err)
	}
	if len(ids) == 0 {
		return []models.RegimeRecord{}, nil
	}
	raws, err := s.client.HMGet(ctx, s.key("regimes"), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis regime history: %w", err)
	}
	out := make([]models.RegimeRecord, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		r, err := decode[models.RegimeRecord](str)
		if err != nil {
			return nil, fmt.Errorf("decode regime: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func hashValues[T any](ctx context.Context, c redis.Cmdable, key string) ([]T, error) {
	m, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis %s: %w", key, err)
	}
	out := make([]T, 0, len(m))
	for id, raw := range m {
		v, err := decode[T](raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", id, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *RedisStore) ListPositions(ctx context.Context, f drepo.PositionFilter) ([]models.Position, error) {
	all, err := hashValues[models.Position](ctx, s.client, s.key("positions"))
	if err != nil {
		return nil, err
	}
	return filterPositions(all, f), nil
}

func (s *RedisStore) GetPosition(ctx context.Context, id string) (models.Position, error) {
	raw, err := s.client.HGet(ctx, s.key("positions"), id).Result()
	if errors.Is(err, redis.Nil) {
		return models.Position{}, models.Errorf(models.ErrNotFound, "store.GetPosition", "position %s", id)
	}
	if err != nil {
		return models.Position{}, fmt.Errorf("redis position %s: %w", id, err)
	}
	return decode[models.Position](raw)
}

func (s *RedisStore) GetRecommendation(ctx context.Context, id string) (models.Recommendation, error) {
	raw, err := s.client.HGet(ctx, s.key("recs"), id).Result()
	if errors.Is(err, redis.Nil) {
		return models.Recommendation{}, models.Errorf(models.ErrNotFound, "store.GetRecommendation", "recommendation %s", id)
	}
	if err != nil {
		return models.Recommendation{}, fmt.Errorf("redis recommendation %s: %w", id, err)
	}
	return decode[models.Recommendation](raw)
}

func (s *RedisStore) ListRecommendations(ctx context.Context, f models.RecommendationFilter) ([]models.Recommendation, error) {
	all, err := hashValues[models.Recommendation](ctx, s.client, s.key("recs"))
	if err != nil {
		return nil, err
	}
	return filterRecommendations(all, f), nil
}

func (s *RedisStore) LoadState(ctx context.Context) (models.AccountState, error) {
	raw, err := s.client.Get(ctx, s.key("state")).Result()
	if errors.Is(err, redis.Nil) {
		return models.AccountState{}, nil
	}
	if err != nil {
		return models.AccountState{}, fmt.Errorf("redis state: %w", err)
	}
	return decode[models.AccountState](raw)
}

// lookup reads the stored versions of ids from a hash inside a transaction.
func lookup[T any](ctx context.Context, tx *redis.Tx, key string, ids []string) (map[string]T, error) {
	out := make(map[string]T, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	raws, err := tx.HMGet(ctx, key, ids...).Result()
	if err != nil {
		return nil, err
	}
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		v, err := decode[T](str)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", ids[i], err)
		}
		out[ids[i]] = v
	}
	return out, nil
}

// Commit validates cs against the watched keys and writes it in one MULTI.
func (s *RedisStore) Commit(ctx context.Context, cs models.Changeset) error {
	if cs.Empty() {
		return nil
	}
	posIDs := make([]string, 0, len(cs.Positions))
	for _, p := range cs.Positions {
		posIDs = append(posIDs, p.ID)
	}
	recIDs := make([]string, 0, len(cs.Recommendations))
	for _, r := range cs.Recommendations {
		recIDs = append(recIDs, r.ID)
	}

	txf := func(tx *redis.Tx) error {
		active, err := s.activeWith(ctx, tx)
		if err != nil {
			return err
		}
		positions, err := lookup[models.Position](ctx, tx, s.key("positions"), posIDs)
		if err != nil {
			return err
		}
		recs, err := lookup[models.Recommendation](ctx, tx, s.key("recs"), recIDs)
		if err != nil {
			return err
		}
		err = validateChangeset(cs, snapshotView{
			active: active,
			recommendation: func(id string) (models.Recommendation, bool) {
				r, ok := recs[id]
				return r, ok
			},
			position: func(id string) (models.Position, bool) {
				p, ok := positions[id]
				return p, ok
			},
		})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, tr := range cs.Transitions {
				if tr.Closed != nil {
					b, err := json.Marshal(tr.Closed)
					if err != nil {
						return err
					}
					pipe.HSet(ctx, s.key("regimes"), tr.Closed.ID, b)
				}
				b, err := json.Marshal(tr.Opened)
				if err != nil {
					return err
				}
				pipe.HSet(ctx, s.key("regimes"), tr.Opened.ID, b)
				pipe.ZAdd(ctx, s.key("regimes:idx"), redis.Z{Score: float64(tr.Opened.StartedAt.UnixNano()), Member: tr.Opened.ID})
				pipe.Set(ctx, s.key("regime:active"), tr.Opened.ID, 0)
			}
			for _, p := range cs.Positions {
				b, err := json.Marshal(p)
				if err != nil {
					return err
				}
				pipe.HSet(ctx, s.key("positions"), p.ID, b)
			}
			for _, r := range cs.Recommendations {
				b, err := json.Marshal(r)
				if err != nil {
					return err
				}
				pipe.HSet(ctx, s.key("recs"), r.ID, b)
			}
			if cs.State != nil {
				b, err := json.Marshal(cs.State)
				if err != nil {
					return err
				}
				pipe.Set(ctx, s.key("state"), b, 0)
			}
			return nil
		})
		return err
	}

	watched := []string{s.key("regime:active"), s.key("positions"), s.key("recs"), s.key("state")}
	for i := 0; i < commitRetries; i++ {
		err := s.client.Watch(ctx, txf, watched...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			var de *models.DomainError
			if errors.As(err, &de) {
				return err
			}
			return fmt.Errorf("redis commit: %w", err)
		}
		return nil
	}
	return models.Errorf(models.ErrInvalidState, "store.Commit", "concurrent writers kept conflicting after %d attempts", commitRetries)
}

func (s *RedisStore) Close() error { return s.client.Close() }

var _ drepo.Store = (*RedisStore)(nil)
