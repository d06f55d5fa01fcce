package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Monitor reports on the health of the billing database
type Monitor struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	config *MonitorConfig
}

// MonitorConfig holds monitoring thresholds
type MonitorConfig struct {
	LongRunningAfter    time.Duration
	TableBloatThreshold float64
	ConnectionThreshold float64
}

func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		LongRunningAfter:    5 * time.Minute,
		TableBloatThreshold: 30,
		ConnectionThreshold: 80,
	}
}

// TableStats is size and tuple information for one billing table
type TableStats struct {
	TableName   string  `json:"table_name"`
	TotalSize   int64   `json:"total_size"`
	LiveTuples  int64   `json:"live_tuples"`
	DeadTuples  int64   `json:"dead_tuples"`
	DeadPercent float64 `json:"dead_percent"`
}

// PoolStats mirrors pgxpool counters
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
}

// HealthReport is the outcome of RunHealthCheck
type HealthReport struct {
	Ping               bool         `json:"ping"`
	Pool               PoolStats    `json:"pool"`
	LongRunningQueries int          `json:"long_running_queries"`
	Tables             []TableStats `json:"tables"`
	// UnprojectedStreams counts balance streams whose projection lags the event log
	UnprojectedStreams int          `json:"unprojected_streams"`
	Healthy            bool         `json:"healthy"`
}

func NewMonitor(pool *pgxpool.Pool, logger *zap.Logger, config *MonitorConfig) *Monitor {
	if config == nil {
		config = DefaultMonitorConfig()
	}
	return &Monitor{pool: pool, logger: logger, config: config}
}

// GetTableStats returns statistics for the billing tables, largest first
func (m *Monitor) GetTableStats(ctx context.Context) ([]TableStats, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT relname,
		       pg_total_relation_size(relid),
		       n_live_tup,
		       n_dead_tup,
		       CASE WHEN n_live_tup + n_dead_tup = 0 THEN 0
		            ELSE round(n_dead_tup::numeric / (n_live_tup + n_dead_tup) * 100, 2)::float8
		       END
		FROM pg_stat_user_tables
		WHERE schemaname = current_schema() AND relname = ANY($1)
		ORDER BY pg_total_relation_size(relid) DESC`, billingTables)
	if err != nil {
		return nil, fmt.Errorf("failed to get table stats: %w", err)
	}

	stats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TableStats, error) {
		var s TableStats
		err := row.Scan(&s.TableName, &s.TotalSize, &s.LiveTuples, &s.DeadTuples, &s.DeadPercent)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan table stats: %w", err)
	}
	return stats, nil
}

// RunHealthCheck gathers connectivity, load and ledger consistency signals
func (m *Monitor) RunHealthCheck(ctx context.Context) (*HealthReport, error) {
	report := &HealthReport{}

	var one int
	report.Ping = m.pool.QueryRow(ctx, "SELECT 1").Scan(&one) == nil
	if !report.Ping {
		return report, nil
	}

	stat := m.pool.Stat()
	report.Pool = PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
	}

	err := m.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_stat_activity
		WHERE state != 'idle'
			AND query_start < NOW() - $1::interval
			AND pid != pg_backend_pid()`, m.config.LongRunningAfter.String()).Scan(&report.LongRunningQueries)
	if err != nil {
		return nil, fmt.Errorf("failed to count long running queries: %w", err)
	}

	if report.Tables, err = m.GetTableStats(ctx); err != nil {
		return nil, err
	}

	err = m.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM (
			SELECT stream_id, MAX(version) AS version
			FROM stored_events
			WHERE stream_type = 'division_balance'
			GROUP BY stream_id
		) e
		LEFT JOIN division_balances b ON b.division_id = e.stream_id
		WHERE b.version IS DISTINCT FROM e.version`).Scan(&report.UnprojectedStreams)
	if err != nil {
		return nil, fmt.Errorf("failed to check balance projections: %w", err)
	}

	report.Healthy = m.healthy(report)
	if !report.Healthy {
		m.logger.Warn("database health check failed",
			zap.Int("long_running_queries", report.LongRunningQueries),
			zap.Int("unprojected_streams", report.UnprojectedStreams))
	}
	return report, nil
}

func (m *Monitor) healthy(r *HealthReport) bool {
	if r.LongRunningQueries > 0 || r.UnprojectedStreams > 0 {
		return false
	}
	if r.Pool.MaxConns > 0 && float64(r.Pool.AcquiredConns)/float64(r.Pool.MaxConns)*100 >= m.config.ConnectionThreshold {
		return false
	}
	for _, t := range r.Tables {
		if t.DeadPercent > m.config.TableBloatThreshold {
			return false
		}
	}
	return true
}

var billingTables = []string{
	"divisions",
	"division_modules",
	"financers",
	"financer_modules",
	"financer_users",
	"module_activation_history",
	"invoices",
	"invoice_items",
	"invoice_number_sequences",
	"stored_events",
	"division_balances",
	"invoice_generation_batches",
}
