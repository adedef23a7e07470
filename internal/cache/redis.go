// Package cache реализует запись принятых отсчетов в Redis
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"flowscope/internal/models"
)

const (
	// SamplesKeyPrefix префикс списка отсчетов сессии
	SamplesKeyPrefix = "flowscope:samples:"
	// CounterKeyPrefix префикс счетчиков сессии
	CounterKeyPrefix = "flowscope:counter:"
	// SessionsKey множество известных сессий
	SessionsKey = "flowscope:sessions"
	// SamplesTTL время жизни списка отсчетов
	SamplesTTL = 1 * time.Hour
	// DefaultLimit сколько отсчетов хранить на сессию
	DefaultLimit = 1000
)

// RedisRecorder пишет отсчеты сессии в ограниченный список Redis
type RedisRecorder struct {
	client  *redis.Client
	session string
	limit   int64
}

// NewRedisRecorder создает новое подключение к Redis
func NewRedisRecorder(ctx context.Context, addr, password string, db int, session string, limit int64) (*RedisRecorder, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &RedisRecorder{
		client:  client,
		session: session,
		limit:   limit,
	}, nil
}

func (r *RedisRecorder) samplesKey() string {
	return SamplesKeyPrefix + r.session
}

// RecordSample сохраняет отсчет в голову списка и обрезает хвост
func (r *RedisRecorder) RecordSample(ctx context.Context, s models.Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "failed to marshal sample")
	}

	key := r.samplesKey()
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, r.limit-1)
	pipe.Expire(ctx, key, SamplesTTL)
	pipe.SAdd(ctx, SessionsKey, r.session)
	pipe.Incr(ctx, CounterKeyPrefix+r.session+":accepted")

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to record sample")
	}
	return nil
}

// LatestSamples возвращает последние count отсчетов в порядке времени
func (r *RedisRecorder) LatestSamples(ctx context.Context, count int64) ([]models.Sample, error) {
	data, err := r.client.LRange(ctx, r.samplesKey(), 0, count-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest samples")
	}

	samples := make([]models.Sample, 0, len(data))
	// Список хранится от нового к старому
	for i := len(data) - 1; i >= 0; i-- {
		var s models.Sample
		if err := json.Unmarshal([]byte(data[i]), &s); err != nil {
			continue
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// Accepted возвращает число записанных отсчетов сессии
func (r *RedisRecorder) Accepted(ctx context.Context) (int64, error) {
	val, err := r.client.Get(ctx, fmt.Sprintf("%s%s:accepted", CounterKeyPrefix, r.session)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// Ping проверяет соединение с Redis
func (r *RedisRecorder) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединение
func (r *RedisRecorder) Close() error {
	return r.client.Close()
}
