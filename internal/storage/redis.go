// Copyright 2025 James Ross
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flyingrobots/queueengine/internal/breaker"
	"github.com/flyingrobots/queueengine/internal/job"
)

// RedisConfig configures the Redis-backed adapter.
type RedisConfig struct {
	URL          string
	Database     int
	Password     string
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// BreakerWindow/Cooldown/FailRate/MinSamples configure the
	// circuit breaker wrapping Dequeue/UpdateJob calls.
	BreakerWindow     time.Duration
	BreakerCooldown   time.Duration
	BreakerFailRate   float64
	BreakerMinSamples int
}

// RedisAdapter implements Adapter on top of Redis: a sorted set per queue
// as the priority ready-index (score = priority*K - enqueuedAtMillis, same
// composite score as the in-memory heap) and a JSON string key per job
// record. A
// circuit breaker guards Dequeue/UpdateJob so a flaky Redis degrades to
// backoff instead of hammering the connection, matching the teacher's
// worker/breaker pairing.
type RedisAdapter struct {
	client  *redis.Client
	prefix  string
	breaker *breaker.CircuitBreaker
}

// NewRedisAdapter parses cfg.URL and returns an adapter. The connection is
// established lazily by Connect.
func NewRedisAdapter(cfg RedisConfig) (*RedisAdapter, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.Database != 0 {
		opt.DB = cfg.Database
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opt.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opt.WriteTimeout = cfg.WriteTimeout
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "queueengine:"
	}

	window := cfg.BreakerWindow
	if window == 0 {
		window = 30 * time.Second
	}
	cooldown := cfg.BreakerCooldown
	if cooldown == 0 {
		cooldown = 5 * time.Second
	}
	failRate := cfg.BreakerFailRate
	if failRate == 0 {
		failRate = 0.5
	}
	minSamples := cfg.BreakerMinSamples
	if minSamples == 0 {
		minSamples = 10
	}

	return &RedisAdapter{
		client:  redis.NewClient(opt),
		prefix:  prefix,
		breaker: breaker.New(window, cooldown, failRate, minSamples),
	}, nil
}

// Breaker exposes the adapter's circuit breaker so a caller (e.g. main's
// metrics wiring) can observe state transitions without the storage package
// depending on the metrics package.
func (r *RedisAdapter) Breaker() *breaker.CircuitBreaker { return r.breaker }

func (r *RedisAdapter) readyKey(queueName string) string { return r.prefix + "ready:" + queueName }
func (r *RedisAdapter) jobKey(id string) string          { return r.prefix + "job:" + id }
func (r *RedisAdapter) statsKey(queueName string) string { return r.prefix + "stats:" + queueName }
func (r *RedisAdapter) idsKey(queueName string) string   { return r.prefix + "ids:" + queueName }

// score mirrors internal/job's composite priority score: millisecond
// timestamps keep priority*job.ScoreK well under float64's 2^53
// exact-integer range, so the sorted-set score never loses precision.
func score(priority int, enqueuedAt time.Time) float64 {
	return float64(int64(priority)*job.ScoreK - enqueuedAt.UnixMilli())
}

func (r *RedisAdapter) Connect(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisAdapter) Disconnect(ctx context.Context) error {
	return r.client.Close()
}

func (r *RedisAdapter) HealthCheck(ctx context.Context) bool {
	return r.client.Ping(ctx).Err() == nil
}

func (r *RedisAdapter) Enqueue(ctx context.Context, queueName string, j job.Job) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return NewError("enqueue", queueName, j.ID, err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.jobKey(j.ID), payload, 0)
	pipe.SAdd(ctx, r.idsKey(queueName), j.ID)
	pipe.ZAdd(ctx, r.readyKey(queueName), redis.Z{Score: score(j.Priority, j.QueuedAt), Member: j.ID})
	pipe.HIncrBy(ctx, r.statsKey(queueName), "total", 1)
	pipe.HIncrBy(ctx, r.statsKey(queueName), string(job.StatusQueued), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return NewError("enqueue", queueName, j.ID, err)
	}
	return nil
}

func (r *RedisAdapter) Dequeue(ctx context.Context, queueName string) (*job.Job, error) {
	if !r.breaker.Allow() {
		return nil, NewError("dequeue", queueName, "", fmt.Errorf("circuit breaker open"))
	}

	res, err := r.client.ZPopMax(ctx, r.readyKey(queueName), 1).Result()
	r.breaker.Record(err == nil)
	if err != nil {
		return nil, NewError("dequeue", queueName, "", err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	id, _ := res[0].Member.(string)

	return r.getJobRaw(ctx, id)
}

func (r *RedisAdapter) Peek(ctx context.Context, queueName string) (*job.Job, error) {
	res, err := r.client.ZRevRangeWithScores(ctx, r.readyKey(queueName), 0, 0).Result()
	if err != nil {
		return nil, NewError("peek", queueName, "", err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	id, _ := res[0].Member.(string)
	return r.getJobRaw(ctx, id)
}

func (r *RedisAdapter) getJobRaw(ctx context.Context, id string) (*job.Job, error) {
	payload, err := r.client.Get(ctx, r.jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, NewError("getJob", "", id, err)
	}
	var j job.Job
	if err := json.Unmarshal(payload, &j); err != nil {
		return nil, NewError("getJob", "", id, err)
	}
	return &j, nil
}

func (r *RedisAdapter) GetJob(ctx context.Context, id string, queueName string) (*job.Job, error) {
	j, err := r.getJobRaw(ctx, id)
	if err != nil || j == nil {
		return j, err
	}
	if queueName != "" && j.Queue != queueName {
		return nil, nil
	}
	return j, nil
}

func (r *RedisAdapter) ListJobs(ctx context.Context, queueName string, filters ListFilters) ([]job.Job, error) {
	ids, err := r.client.SMembers(ctx, r.idsKey(queueName)).Result()
	if err != nil {
		return nil, NewError("listJobs", queueName, "", err)
	}
	out := make([]job.Job, 0, len(ids))
	for _, id := range ids {
		j, err := r.getJobRaw(ctx, id)
		if err != nil || j == nil {
			continue
		}
		if filters.Status != "" && j.Status != filters.Status {
			continue
		}
		if filters.JobType != "" && j.Type != filters.JobType {
			continue
		}
		out = append(out, *j)
	}
	sortJobs(out, filters.SortBy, filters.SortOrder)
	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			return []job.Job{}, nil
		}
		out = out[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(out) {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (r *RedisAdapter) UpdateJob(ctx context.Context, id string, update Update) error {
	if !r.breaker.Allow() {
		return NewError("updateJob", "", id, fmt.Errorf("circuit breaker open"))
	}

	j, err := r.getJobRaw(ctx, id)
	r.breaker.Record(err == nil)
	if err != nil {
		return NewError("updateJob", "", id, err)
	}
	if j == nil {
		return nil // idempotent: unknown ids are ignored
	}

	old := j.Status
	if update.Status != "" {
		j.Status = update.Status
	}
	if update.StartedAt != nil {
		j.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		j.CompletedAt = update.CompletedAt
	}
	if update.Progress != nil {
		j.Progress = *update.Progress
	}
	if update.ProgressMessage != nil {
		j.ProgressMessage = *update.ProgressMessage
	}
	if update.Retries != nil {
		j.Retries = *update.Retries
	}
	if update.ResultSet {
		j.Result = update.Result
	}
	if update.Error != nil {
		j.Error = update.Error
	}

	payload, err := json.Marshal(j)
	if err != nil {
		return NewError("updateJob", j.Queue, id, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.jobKey(id), payload, 0)
	if update.Status != "" && update.Status != old {
		pipe.HIncrBy(ctx, r.statsKey(j.Queue), string(old), -1)
		pipe.HIncrBy(ctx, r.statsKey(j.Queue), string(update.Status), 1)
		if update.Status == job.StatusQueued {
			pipe.SAdd(ctx, r.idsKey(j.Queue), id)
			pipe.ZAdd(ctx, r.readyKey(j.Queue), redis.Z{Score: score(j.Priority, time.Now()), Member: id})
		} else {
			pipe.ZRem(ctx, r.readyKey(j.Queue), id)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return NewError("updateJob", j.Queue, id, err)
	}
	return nil
}

func (r *RedisAdapter) RemoveJob(ctx context.Context, id string) (bool, error) {
	j, err := r.getJobRaw(ctx, id)
	if err != nil {
		return false, NewError("removeJob", "", id, err)
	}
	if j == nil {
		return false, nil
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.jobKey(id))
	pipe.SRem(ctx, r.idsKey(j.Queue), id)
	pipe.ZRem(ctx, r.readyKey(j.Queue), id)
	pipe.HIncrBy(ctx, r.statsKey(j.Queue), "total", -1)
	pipe.HIncrBy(ctx, r.statsKey(j.Queue), string(j.Status), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, NewError("removeJob", j.Queue, id, err)
	}
	return true, nil
}

func (r *RedisAdapter) GetQueueStats(ctx context.Context, queueName string) (Stats, error) {
	res, err := r.client.HGetAll(ctx, r.statsKey(queueName)).Result()
	if err != nil {
		return Stats{}, NewError("getQueueStats", queueName, "", err)
	}
	get := func(k string) int {
		var v int
		fmt.Sscanf(res[k], "%d", &v)
		if v < 0 {
			v = 0
		}
		return v
	}
	return Stats{
		Total:     get("total"),
		Queued:    get(string(job.StatusQueued)),
		Running:   get(string(job.StatusRunning)),
		Completed: get(string(job.StatusCompleted)),
		Failed:    get(string(job.StatusFailed)),
		Cancelled: get(string(job.StatusCancelled)),
	}, nil
}

var _ Adapter = (*RedisAdapter)(nil)
