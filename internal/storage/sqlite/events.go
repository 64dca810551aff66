package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/RayYangTW/pdca/internal/events"
)

// EventFilter narrows ListEvents
type EventFilter struct {
	RunID    string
	Type     events.EventType
	Severity events.EventSeverity
	Limit    int
}

// StoreEvent implements events.Sink. The raw event is always stored; usage,
// round and decision events are also projected into their tables in the
// same transaction.
func (s *Store) StoreEvent(ctx context.Context, event *events.Event) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, run_id, type, severity, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.RunID,
		string(event.Type),
		string(event.Severity),
		event.Message,
		string(dataJSON),
		formatTime(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to store event (type=%s, run=%s): %w", event.Type, event.RunID, err)
	}

	if err := project(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event: %w", err)
	}

	s.logger.Debug("event stored",
		zap.String("type", string(event.Type)),
		zap.String("run_id", event.RunID))
	return nil
}

// project writes the typed row for events that have one
func project(ctx context.Context, tx *sql.Tx, event *events.Event) error {
	ts := formatTime(event.Timestamp)

	switch event.Type {
	case events.EventTypeUsageRecorded:
		data, err := event.GetUsageRecordedData()
		if err != nil {
			return fmt.Errorf("failed to decode usage event: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO usage_records (id, run_id, provider_model, agent_id, operation,
				input_units, output_units, cost, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, data.RecordID, event.RunID, data.ProviderModel, data.AgentID, data.Operation,
			data.InputUnits, data.OutputUnits, data.Cost, ts)
		if err != nil {
			return fmt.Errorf("failed to store usage record %s: %w", data.RecordID, err)
		}

	case events.EventTypeRoundEvaluated:
		data, err := event.GetRoundEvaluatedData()
		if err != nil {
			return fmt.Errorf("failed to decode round event: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO iterations (run_id, iteration, quality_score, continue, reason,
				confidence, total_units, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, iteration) DO UPDATE SET
				quality_score = excluded.quality_score,
				continue = excluded.continue,
				reason = excluded.reason,
				confidence = excluded.confidence,
				total_units = excluded.total_units,
				timestamp = excluded.timestamp
		`, event.RunID, data.Iteration, data.QualityScore, data.Continue, data.Reason,
			data.Confidence, data.TotalUnits, ts)
		if err != nil {
			return fmt.Errorf("failed to store iteration %d: %w", data.Iteration, err)
		}

	case events.EventTypeDecisionPending:
		data, err := event.GetDecisionPendingData()
		if err != nil {
			return fmt.Errorf("failed to decode decision event: %w", err)
		}
		recs, err := json.Marshal(data.Recommendations)
		if err != nil {
			return fmt.Errorf("failed to marshal recommendations: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO decisions (id, run_id, iteration, quality_score, recommendations, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, data.DecisionID, event.RunID, data.Iteration, data.QualityScore, string(recs), ts)
		if err != nil {
			return fmt.Errorf("failed to store decision %s: %w", data.DecisionID, err)
		}

	case events.EventTypeDecisionResolved:
		data, err := event.GetDecisionResolvedData()
		if err != nil {
			return fmt.Errorf("failed to decode decision event: %w", err)
		}
		status := DecisionDeclined
		if data.Approved {
			status = DecisionApproved
		}
		// Upsert: a sink attached mid-run may never have seen the pending event
		_, err = tx.ExecContext(ctx, `
			INSERT INTO decisions (id, run_id, iteration, status, reason, created_at, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				reason = excluded.reason,
				resolved_at = excluded.resolved_at
		`, data.DecisionID, event.RunID, data.Iteration, string(status), data.Reason, ts, ts)
		if err != nil {
			return fmt.Errorf("failed to resolve decision %s: %w", data.DecisionID, err)
		}
	}

	return nil
}

// ListEvents returns events matching filter, oldest first
func (s *Store) ListEvents(ctx context.Context, filter EventFilter) ([]*events.Event, error) {
	query := `
		SELECT id, run_id, type, severity, message, data, timestamp
		FROM events
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, string(filter.Type))
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}

	query += " ORDER BY timestamp ASC, rowid ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var result []*events.Event
	for rows.Next() {
		var event events.Event
		var eventType, severity, dataJSON, ts string

		if err := rows.Scan(&event.ID, &event.RunID, &eventType, &severity, &event.Message, &dataJSON, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Type = events.EventType(eventType)
		event.Severity = events.EventSeverity(severity)
		if event.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}

		event.Data = make(map[string]interface{})
		if dataJSON != "" && dataJSON != "{}" && dataJSON != "null" {
			if err := json.Unmarshal([]byte(dataJSON), &event.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}

		result = append(result, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return result, nil
}
