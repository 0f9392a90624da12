// Package audit is the daemon's durable, append-only record of every
// command, order, fill, risk event, and connection event, grounded on
// original_source/broker/daemon/src/broker_daemon/audit/{schema,logger}.py
// and the teacher's internal/database/database.go dual sqlite/postgres
// backend selection.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/north-brook/brokerd/internal/models"
)

// Logger is the audit store. It is safe for concurrent use; gorm serializes
// access to the underlying *sql.DB connection pool.
type Logger struct {
	db        *gorm.DB
	isPostgres bool
}

// Open connects to dsn (a filesystem path for sqlite, or a postgres:// /
// postgresql:// URL) and applies the schema, exactly like the teacher's
// database.New dialect switch.
func Open(dsn string) (*Logger, error) {
	var db *gorm.DB
	var err error
	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")

	if isPostgres {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres audit store: %w", err)
		}
		log.Info().Msg("audit store connected (postgres)")
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating audit db directory: %w", err)
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("opening sqlite audit store: %w", err)
		}
		log.Info().Str("path", dsn).Msg("audit store initialized (sqlite)")
	}

	l := &Logger{db: db, isPostgres: isPostgres}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) migrate() error {
	statements := sqliteSchema
	if l.isPostgres {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if err := l.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("applying audit schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (l *Logger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func decStr(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

// LogCommand records every dispatched command for replay/audit purposes.
func (l *Logger) LogCommand(source, command string, arguments map[string]any, resultCode int) error {
	return l.db.Exec(
		`INSERT INTO commands (timestamp, source, command, arguments, result_code) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), source, command, toJSON(arguments), resultCode,
	).Error
}

// UpsertOrder inserts a new order row or, on client_order_id conflict,
// refreshes the mutable fields (status, fill data) while leaving the
// original placement fields untouched.
func (l *Logger) UpsertOrder(record models.OrderRecord) error {
	onConflict := "ON CONFLICT(client_order_id) DO UPDATE SET broker_order_id=excluded.broker_order_id, status=excluded.status, filled_at=excluded.filled_at, fill_price=excluded.fill_price, fill_qty=excluded.fill_qty, commission=excluded.commission, risk_check_result=excluded.risk_check_result"

	var filledAt any
	if record.FilledAt != nil {
		filledAt = record.FilledAt.UTC().Format(time.RFC3339Nano)
	}

	query := fmt.Sprintf(`INSERT INTO orders (
			client_order_id, broker_order_id, symbol, side, qty, order_type, limit_price,
			stop_price, tif, status, submitted_at, filled_at, fill_price, fill_qty,
			commission, risk_check_result
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) %s`, onConflict)

	return l.db.Exec(query,
		record.ClientOrderID,
		record.BrokerOrderID,
		record.Symbol,
		string(record.Side),
		record.Qty,
		string(record.OrderType),
		decStr(record.LimitPrice),
		decStr(record.StopPrice),
		string(record.TIF),
		string(record.Status),
		record.SubmittedAt.UTC().Format(time.RFC3339Nano),
		filledAt,
		decStr(record.FillPrice),
		record.FillQty,
		decStr(record.Commission),
		toJSON(record.RiskCheckResult),
	).Error
}

// LogFill is deduplicated on fill_id: broker event redelivery must never
// double-count a fill.
func (l *Logger) LogFill(fill models.FillRecord) error {
	insertIgnore := "INSERT OR IGNORE INTO fills"
	if l.isPostgres {
		insertIgnore = "INSERT INTO fills"
	}
	query := fmt.Sprintf(`%s (
			fill_id, client_order_id, broker_order_id, symbol, qty, price, commission, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, insertIgnore)
	if l.isPostgres {
		query += " ON CONFLICT (fill_id) DO NOTHING"
	}

	return l.db.Exec(query,
		fill.FillID, fill.ClientOrderID, fill.BrokerOrderID, fill.Symbol,
		fill.Qty, fill.Price.String(), fill.Commission.String(), fill.Timestamp.UTC().Format(time.RFC3339Nano),
	).Error
}

// LogRiskEvent appends a halt/resume/breach record.
func (l *Logger) LogRiskEvent(eventType string, details map[string]any) error {
	return l.db.Exec(
		`INSERT INTO risk_events (timestamp, event_type, details) VALUES (?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), eventType, toJSON(details),
	).Error
}

// LogConnectionEvent appends a provider connect/disconnect/reconnect record.
func (l *Logger) LogConnectionEvent(event string, details map[string]any) error {
	return l.db.Exec(
		`INSERT INTO connection_events (timestamp, event, details) VALUES (?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), event, toJSON(details),
	).Error
}
