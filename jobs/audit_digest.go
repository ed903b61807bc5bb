package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/sigedo/sigedo/internal/jobs"
)

// digestTTL keeps a cached digest around long enough for weekly reviews.
const digestTTL = 7 * 24 * time.Hour

// AuditDigestJob aggregates one UTC day of audit activity into per-module
// action counts and caches the result in Redis for the dashboard.
type AuditDigestJob struct {
	Pool    *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAuditDigestJob initialises the digest handler.
func NewAuditDigestJob(pool *pgxpool.Pool, cache *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditDigestJob {
	return &AuditDigestJob{
		Pool:    pool,
		Cache:   cache,
		Logger:  logger,
		Metrics: metrics,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// DigestEntry is one module's activity for the digested day.
type DigestEntry struct {
	Module  string         `json:"module"`
	Total   int            `json:"total"`
	Actions map[string]int `json:"actions"`
}

// Digest is the cached aggregate.
type Digest struct {
	Date    string        `json:"date"`
	Entries []DigestEntry `json:"entries"`
}

// Handle executes the digest aggregation.
func (j *AuditDigestJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("audit digest: handler not configured")
	}
	var payload AuditDigestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	day := j.clock().Add(-24 * time.Hour)
	if payload.Date != "" {
		parsed, err := time.Parse("2006-01-02", payload.Date)
		if err != nil {
			return asynq.SkipRetry
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24*time.Hour - time.Nanosecond)

	tracker := j.Metrics.Track(TaskAuditDigest)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("date", from.Format("2006-01-02")))
	logger.Info("starting audit digest")

	digest, err := j.aggregate(ctx, from, to)
	if err != nil {
		resultErr = err
		logger.Error("digest failed", slog.Any("error", err))
		return resultErr
	}
	for _, entry := range digest.Entries {
		j.Metrics.AddDigestEntries(entry.Module, entry.Total)
	}

	if j.Cache != nil {
		body, err := json.Marshal(digest)
		if err != nil {
			resultErr = fmt.Errorf("audit digest: marshal: %w", err)
			return resultErr
		}
		key := "audit:digest:" + digest.Date
		if err := j.Cache.Set(ctx, key, body, digestTTL).Err(); err != nil {
			resultErr = fmt.Errorf("audit digest: cache: %w", err)
			logger.Error("cache digest", slog.Any("error", err))
			return resultErr
		}
	}

	logger.Info("audit digest complete", slog.Int("modules", len(digest.Entries)))
	return nil
}

func (j *AuditDigestJob) aggregate(ctx context.Context, from, to time.Time) (Digest, error) {
	rows, err := j.Pool.Query(ctx, `
		SELECT module, action, COUNT(*)
		FROM audit_logs
		WHERE created_at BETWEEN $1 AND $2
		GROUP BY module, action
		ORDER BY module, action`, from, to)
	if err != nil {
		return Digest{}, fmt.Errorf("audit digest: query: %w", err)
	}
	defer rows.Close()

	digest := Digest{Date: from.Format("2006-01-02")}
	index := make(map[string]int)
	for rows.Next() {
		var module, action string
		var count int
		if err := rows.Scan(&module, &action, &count); err != nil {
			return Digest{}, err
		}
		i, ok := index[module]
		if !ok {
			i = len(digest.Entries)
			index[module] = i
			digest.Entries = append(digest.Entries, DigestEntry{Module: module, Actions: make(map[string]int)})
		}
		digest.Entries[i].Actions[action] = count
		digest.Entries[i].Total += count
	}
	return digest, rows.Err()
}

func (j *AuditDigestJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
