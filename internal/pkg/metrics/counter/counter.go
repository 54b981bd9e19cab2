package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/consultahub/consultahub/internal/pkg/cache"
	"github.com/consultahub/consultahub/internal/pkg/database"
)

const lookupCountersKey = "lookup:counters:daily"

// AddLookup increments the pending counter for a served lookup in Redis.
// Counters accumulate per day and kind and are flushed to MySQL in batches.
func AddLookup(kind string) error {
	ctx := context.Background()
	field := time.Now().UTC().Format("2006-01-02") + ":" + kind
	return cache.GetClient().HIncrBy(ctx, lookupCountersKey, field, 1).Err()
}

// FlushAll drains the pending counters into the lookup_stats table.
func FlushAll() error {
	ctx := context.Background()
	rdb := cache.GetClient()

	// Atomically move the hash to a temp key for draining so in-flight
	// increments are not lost.
	tmpKey := fmt.Sprintf("%s:tmp:%d", lookupCountersKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", lookupCountersKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	type entry struct {
		date string
		kind string
		inc  int64
	}
	entries := make([]entry, 0, len(data))
	for field, v := range data {
		date, kind, ok := strings.Cut(field, ":")
		if !ok || date == "" || kind == "" {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		entries = append(entries, entry{date: date, kind: kind, inc: inc})
	}
	if len(entries) == 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].date != entries[j].date {
			return entries[i].date < entries[j].date
		}
		return entries[i].kind < entries[j].kind
	})

	// Compose one batched upsert:
	// INSERT INTO lookup_stats (...) VALUES (...),(...) ON DUPLICATE KEY UPDATE count = count + VALUES(count)
	var builder strings.Builder
	args := make([]interface{}, 0, len(entries)*3)
	builder.WriteString("INSERT INTO lookup_stats (stat_date, kind, count, created_at, updated_at) VALUES ")
	for i, e := range entries {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("(?, ?, ?, NOW(), NOW())")
		args = append(args, e.date, e.kind, e.inc)
	}
	builder.WriteString(" ON DUPLICATE KEY UPDATE count = count + VALUES(count), updated_at = NOW()")

	db := database.GetDB()
	return db.Exec(builder.String(), args...).Error
}
