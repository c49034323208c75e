package trigger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utrading/utrading-signal-engine/pkg/concurrent"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

// State 上一次触发分析时的观测值
type State struct {
	LastPrice      float64
	LastObservedAt time.Time
	LastRSI        float64
	RSIValid       bool
}

// StateStore 触发状态存储，实现需并发安全；丢失状态等价于首次运行
type StateStore interface {
	Load(ctx context.Context, key string) (State, bool, error)
	Store(ctx context.Context, key string, st State) error
	Delete(ctx context.Context, key string) error
	// Prune 删除 LastObservedAt 早于 before 的状态，返回删除数
	Prune(ctx context.Context, before time.Time) (int, error)
}

func stateKey(accountID, symbol string) string {
	return accountID + ":" + symbol
}

// MemoryStore 进程内存储，重启后清空
type MemoryStore struct {
	data concurrent.Map[string, State]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context, key string) (State, bool, error) {
	st, ok := s.data.Load(key)
	return st, ok, nil
}

func (s *MemoryStore) Store(_ context.Context, key string, st State) error {
	s.data.Store(key, st)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.data.Delete(key)
	return nil
}

func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	n := 0
	s.data.Range(func(k string, st State) bool {
		if st.LastObservedAt.Before(before) && s.data.CompareAndDelete(k, st) {
			n++
		}
		return true
	})
	return n, nil
}

func (s *MemoryStore) Len() int64 {
	return s.data.Len()
}

// RedisStore 多实例共享的状态，key 为 trigger:{account}:{symbol} 的 hash
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(key string) string {
	return "trigger:" + key
}

func (s *RedisStore) Load(ctx context.Context, key string) (State, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, redisKey(key)).Result()
	if err != nil {
		return State{}, false, fmt.Errorf("redis: load trigger state %s: %w", key, err)
	}
	if len(vals) == 0 {
		return State{}, false, nil
	}
	st, err := decodeState(vals)
	if err != nil {
		// 损坏的状态按首次运行处理，并清掉以免每轮都被跳过
		logger.Warn().Err(err).Str("key", key).Msg("corrupt trigger state, reset")
		if derr := s.rdb.Del(ctx, redisKey(key)).Err(); derr != nil {
			logger.Warn().Err(derr).Str("key", key).Msg("delete corrupt trigger state failed")
		}
		return State{}, false, nil
	}
	return st, true, nil
}

func (s *RedisStore) Store(ctx context.Context, key string, st State) error {
	k := redisKey(key)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k, encodeState(st))
		if s.ttl > 0 {
			p.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: store trigger state %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, redisKey(key)).Err()
}

// Prune 依赖 key 过期，无需扫描
func (s *RedisStore) Prune(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func encodeState(st State) map[string]any {
	return map[string]any{
		"price":     strconv.FormatFloat(st.LastPrice, 'f', -1, 64),
		"ts":        strconv.FormatInt(st.LastObservedAt.UnixNano(), 10),
		"rsi":       strconv.FormatFloat(st.LastRSI, 'f', -1, 64),
		"rsi_valid": strconv.FormatBool(st.RSIValid),
	}
}

func decodeState(vals map[string]string) (State, error) {
	var st State
	var err error
	if st.LastPrice, err = strconv.ParseFloat(vals["price"], 64); err != nil {
		return st, err
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return st, err
	}
	st.LastObservedAt = time.Unix(0, ts).UTC()
	if st.LastRSI, err = strconv.ParseFloat(vals["rsi"], 64); err != nil {
		return st, err
	}
	st.RSIValid = vals["rsi_valid"] == "true"
	return st, nil
}
