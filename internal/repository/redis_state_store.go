package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
	"OrbWatch/pkg/cache"
)

const (
	keyPrefix       = "orbwatch"
	sessionTTL      = 48 * time.Hour
	tradeTTL        = 7 * 24 * time.Hour
	openSessionsKey = keyPrefix + ":sessions:open"
	openTradesKey   = keyPrefix + ":trades:open"
)

// RedisStateStore persists detector sessions and trades as JSON blobs with
// index sets for reload on restart. Writes pipeline the value and its index
// entry together.
type RedisStateStore struct {
	rc     *cache.RedisCache
	client *redis.Client
}

func NewRedisStateStore(rc *cache.RedisCache) *RedisStateStore {
	return &RedisStateStore{rc: rc, client: rc.Client()}
}

func sessionKey(symbol, date string) string {
	return fmt.Sprintf("%s:session:%s:%s", keyPrefix, symbol, date)
}

func tradeKey(id string) string {
	return fmt.Sprintf("%s:trade:%s", keyPrefix, id)
}

func (s *RedisStateStore) UpsertSession(ctx context.Context, st *models.SessionState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	member := st.Symbol + "|" + st.SessionDate
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(st.Symbol, st.SessionDate), data, sessionTTL)
	pipe.SAdd(ctx, openSessionsKey, member)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persist session %s: %w", member, err)
	}
	return nil
}

func (s *RedisStateStore) UpsertTrade(ctx context.Context, t *models.TradeRecord) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tradeKey(t.ID), data, tradeTTL)
	if t.Terminal() {
		pipe.SRem(ctx, openTradesKey, t.ID)
	} else {
		pipe.SAdd(ctx, openTradesKey, t.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persist trade %s: %w", t.ID, err)
	}
	return nil
}

// LoadOpenSessions reloads every indexed session. Index entries whose value
// expired are pruned instead of failing the reload.
func (s *RedisStateStore) LoadOpenSessions(ctx context.Context) ([]*models.SessionState, error) {
	members, err := s.client.SMembers(ctx, openSessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var out []*models.SessionState
	for _, m := range members {
		symbol, date, ok := strings.Cut(m, "|")
		if !ok {
			s.client.SRem(ctx, openSessionsKey, m)
			continue
		}

		data, err := s.client.Get(ctx, sessionKey(symbol, date)).Bytes()
		if errors.Is(err, redis.Nil) {
			s.client.SRem(ctx, openSessionsKey, m)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", m, err)
		}

		var st models.SessionState
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", m, err)
		}
		out = append(out, &st)
	}
	return out, nil
}

// LoadOpenTrades reloads every indexed non-terminal trade, pruning stale
// index entries.
func (s *RedisStateStore) LoadOpenTrades(ctx context.Context) ([]*models.TradeRecord, error) {
	ids, err := s.client.SMembers(ctx, openTradesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}

	var out []*models.TradeRecord
	for _, id := range ids {
		data, err := s.client.Get(ctx, tradeKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			s.client.SRem(ctx, openTradesKey, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load trade %s: %w", id, err)
		}

		var t models.TradeRecord
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decode trade %s: %w", id, err)
		}
		out = append(out, &t)
	}
	return out, nil
}

func (s *RedisStateStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStateStore) Close() error {
	return s.rc.Close()
}

var _ domrepo.StateStore = (*RedisStateStore)(nil)
