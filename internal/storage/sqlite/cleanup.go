package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RayYangTW/pdca/internal/config"
)

// EventCounts holds event count statistics for monitoring
type EventCounts struct {
	TotalEvents      int
	EventsByRun      map[string]int
	EventsBySeverity map[string]int
	EventsByType     map[string]int
}

// CleanupResult reports what a retention pass removed
type CleanupResult struct {
	ByAge       int
	ByRunLimit  int
	ByGlobal    int
	Vacuumed    bool
	Duration    time.Duration
	EventsAfter int
}

// Total returns the number of deleted events
func (r CleanupResult) Total() int {
	return r.ByAge + r.ByRunLimit + r.ByGlobal
}

// Cleanup applies the retention policy to the raw event log. The projected
// usage, iteration and decision tables are never pruned.
func (s *Store) Cleanup(ctx context.Context, cfg config.EventRetentionConfig) (CleanupResult, error) {
	var res CleanupResult
	if !cfg.CleanupEnabled {
		return res, nil
	}
	if err := cfg.Validate(); err != nil {
		return res, fmt.Errorf("invalid retention config: %w", err)
	}
	start := time.Now()

	var err error
	if res.ByAge, err = s.CleanupEventsByAge(ctx, cfg.RetentionDays, cfg.RetentionCriticalDays, cfg.CleanupBatchSize); err != nil {
		return res, err
	}
	if res.ByRunLimit, err = s.CleanupEventsByRunLimit(ctx, cfg.PerRunLimitEvents, cfg.CleanupBatchSize); err != nil {
		return res, err
	}
	if res.ByGlobal, err = s.CleanupEventsByGlobalLimit(ctx, cfg.GlobalLimitEvents, cfg.CleanupBatchSize); err != nil {
		return res, err
	}

	if cfg.CleanupVacuum && res.Total() > 0 {
		if err := s.VacuumDatabase(ctx); err != nil {
			return res, err
		}
		res.Vacuumed = true
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&res.EventsAfter); err != nil {
		return res, fmt.Errorf("failed to get event count: %w", err)
	}
	res.Duration = time.Since(start)

	s.logger.Info("event retention applied",
		zap.Int("by_age", res.ByAge),
		zap.Int("by_run_limit", res.ByRunLimit),
		zap.Int("by_global_limit", res.ByGlobal),
		zap.Int("remaining", res.EventsAfter),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// CleanupEventsByAge deletes events older than the retention period.
// Regular events are deleted after retentionDays, error and critical events
// after criticalRetentionDays. Deletions are batched (batchSize per statement).
func (s *Store) CleanupEventsByAge(ctx context.Context, retentionDays, criticalRetentionDays, batchSize int) (int, error) {
	if retentionDays < 0 || criticalRetentionDays < 0 {
		return 0, fmt.Errorf("retention days cannot be negative")
	}
	if batchSize < 1 {
		return 0, fmt.Errorf("batch size must be at least 1")
	}

	totalDeleted := 0

	regularCutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted, err := s.deleteOldEventsBatch(ctx, regularCutoff, []string{"info", "warning"}, batchSize)
	if err != nil {
		return totalDeleted, fmt.Errorf("failed to delete old regular events: %w", err)
	}
	totalDeleted += deleted

	criticalCutoff := time.Now().AddDate(0, 0, -criticalRetentionDays)
	deleted, err = s.deleteOldEventsBatch(ctx, criticalCutoff, []string{"error", "critical"}, batchSize)
	if err != nil {
		return totalDeleted, fmt.Errorf("failed to delete old critical events: %w", err)
	}
	totalDeleted += deleted

	return totalDeleted, nil
}

// deleteOldEventsBatch deletes events older than cutoff with the given severities
func (s *Store) deleteOldEventsBatch(ctx context.Context, cutoff time.Time, severities []string, batchSize int) (int, error) {
	totalDeleted := 0

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(severities)), ", ")
	query := fmt.Sprintf(`
		DELETE FROM events
		WHERE id IN (
			SELECT id FROM events
			WHERE timestamp < ?
			AND severity IN (%s)
			ORDER BY timestamp ASC
			LIMIT ?
		)
	`, placeholders)

	args := []interface{}{formatTime(cutoff)}
	for _, sev := range severities {
		args = append(args, sev)
	}
	args = append(args, batchSize)

	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to execute delete: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to get rows affected: %w", err)
		}

		totalDeleted += int(rowsAffected)

		if rowsAffected < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}

// CleanupEventsByRunLimit keeps at most perRunLimit events per run, deleting
// the oldest non-critical ones first. 0 means unlimited.
func (s *Store) CleanupEventsByRunLimit(ctx context.Context, perRunLimit, batchSize int) (int, error) {
	if perRunLimit < 0 {
		return 0, fmt.Errorf("per-run limit cannot be negative")
	}
	if perRunLimit == 0 {
		return 0, nil
	}
	if batchSize < 1 {
		return 0, fmt.Errorf("batch size must be at least 1")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, COUNT(*) as event_count
		FROM events
		GROUP BY run_id
		HAVING event_count > ?
	`, perRunLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to query run event counts: %w", err)
	}

	excess := make(map[string]int)
	for rows.Next() {
		var runID string
		var count int
		if err := rows.Scan(&runID, &count); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan run count: %w", err)
		}
		excess[runID] = count - perRunLimit
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return 0, fmt.Errorf("error iterating run counts: %w", err)
	}

	totalDeleted := 0
	for runID, n := range excess {
		deleted, err := s.deleteOldest(ctx, "run_id = ? AND", []interface{}{runID}, n, batchSize)
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to delete events for run %s: %w", runID, err)
		}
		totalDeleted += deleted
	}

	return totalDeleted, nil
}

// CleanupEventsByGlobalLimit deletes the oldest non-critical events while the
// table holds more than globalLimit rows
func (s *Store) CleanupEventsByGlobalLimit(ctx context.Context, globalLimit, batchSize int) (int, error) {
	if globalLimit < 1 {
		return 0, fmt.Errorf("global limit must be at least 1")
	}
	if batchSize < 1 {
		return 0, fmt.Errorf("batch size must be at least 1")
	}

	var currentCount int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&currentCount); err != nil {
		return 0, fmt.Errorf("failed to get event count: %w", err)
	}
	if currentCount <= globalLimit {
		return 0, nil
	}

	return s.deleteOldest(ctx, "", nil, currentCount-globalLimit, batchSize)
}

// deleteOldest removes up to count non-critical events matching where
// (a prefix ending in AND, or empty), oldest first
func (s *Store) deleteOldest(ctx context.Context, where string, whereArgs []interface{}, count, batchSize int) (int, error) {
	query := fmt.Sprintf(`
		DELETE FROM events
		WHERE id IN (
			SELECT id FROM events
			WHERE %s severity NOT IN ('error', 'critical')
			ORDER BY timestamp ASC
			LIMIT ?
		)
	`, where)

	totalDeleted := 0
	remaining := count
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		limitThisBatch := batchSize
		if remaining < batchSize {
			limitThisBatch = remaining
		}

		args := append(append([]interface{}{}, whereArgs...), limitThisBatch)
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to execute delete: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to get rows affected: %w", err)
		}

		totalDeleted += int(rowsAffected)
		remaining -= int(rowsAffected)

		// Only critical events left
		if rowsAffected < int64(limitThisBatch) {
			break
		}
	}

	return totalDeleted, nil
}

// GetEventCounts returns detailed event count statistics for monitoring
func (s *Store) GetEventCounts(ctx context.Context) (*EventCounts, error) {
	counts := &EventCounts{
		EventsByRun:      make(map[string]int),
		EventsBySeverity: make(map[string]int),
		EventsByType:     make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&counts.TotalEvents); err != nil {
		return nil, fmt.Errorf("failed to get total event count: %w", err)
	}

	groups := []struct {
		column string
		into   map[string]int
	}{
		{"run_id", counts.EventsByRun},
		{"severity", counts.EventsBySeverity},
		{"type", counts.EventsByType},
	}
	for _, g := range groups {
		if err := s.countBy(ctx, g.column, g.into); err != nil {
			return nil, err
		}
	}

	return counts, nil
}

func (s *Store) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s, COUNT(*) FROM events GROUP BY %s", column, column))
	if err != nil {
		return fmt.Errorf("failed to query events by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		into[key] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating %s counts: %w", column, err)
	}
	return nil
}

// VacuumDatabase runs VACUUM to reclaim disk space. It locks the database.
func (s *Store) VacuumDatabase(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
