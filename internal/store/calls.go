package store

import (
	"database/sql"
	"fmt"
	"time"
)

// LogModelCall appends one provider invocation to the call log. Failures here
// never fail the pipeline; callers log and move on.
func (s *Store) LogModelCall(call *ModelCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO model_calls (provider, model, role, latency_ms, tokens_in, tokens_out, success, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.Provider, call.Model, call.Role, call.LatencyMs, call.TokensIn, call.TokensOut,
		call.Success, call.ErrorMsg, call.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log model call: %w", err)
	}
	call.ID, _ = res.LastInsertId()
	return nil
}

// LogMetric appends one observability metric.
func (s *Store) LogMetric(metricType, name string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO metrics (metric_type, metric_name, value, created_at) VALUES (?, ?, ?, ?)`,
		metricType, name, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to log metric: %w", err)
	}
	return nil
}

// PerformanceMetrics aggregates the call log for one role over the last N
// hours. Empty role aggregates all roles.
func (s *Store) PerformanceMetrics(role string, hours int) (*RolePerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(latency_ms), 0),
		       COALESCE(MAX(latency_ms), 0)
		FROM model_calls
		WHERE created_at >= ?`
	args := []interface{}{time.Now().UTC().Add(-time.Duration(hours) * time.Hour)}
	if role != "" {
		query += " AND role = ?"
		args = append(args, role)
	}

	perf := &RolePerformance{Role: role}
	var avg sql.NullFloat64
	var max sql.NullInt64
	err := s.db.QueryRow(query, args...).Scan(&perf.TotalCalls, &perf.SuccessCalls, &avg, &max)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate model calls: %w", err)
	}
	perf.AvgLatencyMs = avg.Float64
	perf.MaxLatencyMs = max.Int64
	if perf.TotalCalls > 0 {
		perf.SuccessRate = float64(perf.SuccessCalls) / float64(perf.TotalCalls)
	}
	return perf, nil
}
