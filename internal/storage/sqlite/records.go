package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RayYangTW/pdca/internal/types"
)

// DecisionStatus is the lifecycle state of a stored decision
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionApproved DecisionStatus = "approved"
	DecisionDeclined DecisionStatus = "declined"
)

// UsageRow is a stored usage record
type UsageRow struct {
	RunID  string            `json:"run_id" yaml:"run_id"`
	Record types.UsageRecord `json:"record" yaml:"record"`
}

// IterationRow is a stored round verdict
type IterationRow struct {
	RunID        string       `json:"run_id" yaml:"run_id"`
	Iteration    int          `json:"iteration" yaml:"iteration"`
	QualityScore float64      `json:"quality_score" yaml:"quality_score"`
	Continue     bool         `json:"continue" yaml:"continue"`
	Reason       types.Reason `json:"reason" yaml:"reason"`
	Confidence   float64      `json:"confidence" yaml:"confidence"`
	TotalUnits   int64        `json:"total_units" yaml:"total_units"`
	Timestamp    time.Time    `json:"timestamp" yaml:"timestamp"`
}

// DecisionRow is a stored user decision
type DecisionRow struct {
	ID              string         `json:"id" yaml:"id"`
	RunID           string         `json:"run_id" yaml:"run_id"`
	Iteration       int            `json:"iteration" yaml:"iteration"`
	QualityScore    float64        `json:"quality_score" yaml:"quality_score"`
	Recommendations []string       `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
	Status          DecisionStatus `json:"status" yaml:"status"`
	Reason          types.Reason   `json:"reason,omitempty" yaml:"reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at" yaml:"created_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
}

// RunSummary rolls up one run from the audit tables
type RunSummary struct {
	RunID       string       `json:"run_id" yaml:"run_id"`
	Iterations  int          `json:"iterations" yaml:"iterations"`
	TotalUnits  int64        `json:"total_units" yaml:"total_units"`
	TotalCost   float64      `json:"total_cost" yaml:"total_cost"`
	LastQuality float64      `json:"last_quality" yaml:"last_quality"`
	StopReason  types.Reason `json:"stop_reason,omitempty" yaml:"stop_reason,omitempty"`
	FirstSeen   time.Time    `json:"first_seen" yaml:"first_seen"`
	LastSeen    time.Time    `json:"last_seen" yaml:"last_seen"`
}

// ListUsage returns the usage records of runID (all runs when empty), oldest first
func (s *Store) ListUsage(ctx context.Context, runID string) ([]UsageRow, error) {
	query := `
		SELECT run_id, id, provider_model, agent_id, operation,
		       input_units, output_units, cost, timestamp
		FROM usage_records
	`
	args := []interface{}{}
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY timestamp ASC, rowid ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var result []UsageRow
	for rows.Next() {
		var row UsageRow
		var ts string
		rec := &row.Record
		if err := rows.Scan(&row.RunID, &rec.ID, &rec.ProviderModel, &rec.AgentID, &rec.Operation,
			&rec.InputUnits, &rec.OutputUnits, &rec.EstimatedCost, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		if rec.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		rec.TotalUnits = rec.InputUnits + rec.OutputUnits
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage rows: %w", err)
	}
	return result, nil
}

// ListIterations returns the round verdicts of runID in iteration order
func (s *Store) ListIterations(ctx context.Context, runID string) ([]IterationRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, iteration, quality_score, continue, reason, confidence, total_units, timestamp
		FROM iterations
		WHERE run_id = ?
		ORDER BY iteration ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer rows.Close()

	var result []IterationRow
	for rows.Next() {
		var row IterationRow
		var reason, ts string
		if err := rows.Scan(&row.RunID, &row.Iteration, &row.QualityScore, &row.Continue, &reason,
			&row.Confidence, &row.TotalUnits, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		row.Reason = types.Reason(reason)
		if row.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating iteration rows: %w", err)
	}
	return result, nil
}

// ListDecisions returns the user decisions of runID, oldest first
func (s *Store) ListDecisions(ctx context.Context, runID string) ([]DecisionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, iteration, quality_score, recommendations, status, reason, created_at, resolved_at
		FROM decisions
		WHERE run_id = ?
		ORDER BY created_at ASC, iteration ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var result []DecisionRow
	for rows.Next() {
		var row DecisionRow
		var recs, status, reason, created string
		var resolved sql.NullString
		if err := rows.Scan(&row.ID, &row.RunID, &row.Iteration, &row.QualityScore, &recs,
			&status, &reason, &created, &resolved); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		row.Status = DecisionStatus(status)
		row.Reason = types.Reason(reason)
		if err := json.Unmarshal([]byte(recs), &row.Recommendations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recommendations: %w", err)
		}
		if row.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if resolved.Valid {
			t, err := parseTime(resolved.String)
			if err != nil {
				return nil, err
			}
			row.ResolvedAt = &t
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decision rows: %w", err)
	}
	return result, nil
}

// ListRuns summarizes every run that has stored events, most recent first
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.run_id, MIN(e.timestamp), MAX(e.timestamp),
		       (SELECT COUNT(*) FROM iterations i WHERE i.run_id = e.run_id),
		       (SELECT COALESCE(SUM(u.input_units + u.output_units), 0) FROM usage_records u WHERE u.run_id = e.run_id),
		       (SELECT COALESCE(SUM(u.cost), 0) FROM usage_records u WHERE u.run_id = e.run_id),
		       (SELECT COALESCE(i.quality_score, 0) FROM iterations i WHERE i.run_id = e.run_id ORDER BY i.iteration DESC LIMIT 1),
		       (SELECT COALESCE(json_extract(s.data, '$.reason'), '') FROM events s
		          WHERE s.run_id = e.run_id AND s.type = 'run_stopped' ORDER BY s.timestamp DESC LIMIT 1)
		FROM events e
		GROUP BY e.run_id
		ORDER BY MAX(e.timestamp) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var result []RunSummary
	for rows.Next() {
		var sum RunSummary
		var first, last string
		var quality sql.NullFloat64
		var reason sql.NullString
		if err := rows.Scan(&sum.RunID, &first, &last, &sum.Iterations, &sum.TotalUnits,
			&sum.TotalCost, &quality, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		if sum.FirstSeen, err = parseTime(first); err != nil {
			return nil, err
		}
		if sum.LastSeen, err = parseTime(last); err != nil {
			return nil, err
		}
		sum.LastQuality = quality.Float64
		sum.StopReason = types.Reason(reason.String)
		result = append(result, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return result, nil
}
