package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultReportTTL keeps a cached report around long enough for the result
// page to load it without touching PostgreSQL.
const defaultReportTTL = 24 * time.Hour

// ReportCache stores the latest rendered report per interview in Redis.
// A cache miss is not an error; callers fall back to [Store.LoadFinalRecord].
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReportCache wraps client. A non-positive ttl uses the default of 24h.
func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		ttl = defaultReportTTL
	}
	return &ReportCache{client: client, ttl: ttl}
}

func reportKey(interviewID string) string {
	return "mockmate:report:" + interviewID
}

// Put caches report as JSON keyed by its interview id, replacing any earlier
// report for the same interview.
func (c *ReportCache) Put(ctx context.Context, report Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("report cache: marshal: %w", err)
	}
	if err := c.client.Set(ctx, reportKey(report.InterviewID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("report cache: set: %w", err)
	}
	return nil
}

// Get returns the cached report for interviewID. ok is false on a cache miss.
func (c *ReportCache) Get(ctx context.Context, interviewID string) (report Report, ok bool, err error) {
	data, err := c.client.Get(ctx, reportKey(interviewID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Report{}, false, nil
	}
	if err != nil {
		return Report{}, false, fmt.Errorf("report cache: get: %w", err)
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return Report{}, false, fmt.Errorf("report cache: unmarshal: %w", err)
	}
	return report, true, nil
}
