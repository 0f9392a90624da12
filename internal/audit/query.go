package audit

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

// CommandRow is one row of the commands table.
type CommandRow struct {
	ID         int64     `gorm:"column:id"`
	Timestamp  string    `gorm:"column:timestamp"`
	Source     string    `gorm:"column:source"`
	Command    string    `gorm:"column:command"`
	Arguments  string    `gorm:"column:arguments"`
	ResultCode int       `gorm:"column:result_code"`
}

// OrderRow is one row of the orders table.
type OrderRow struct {
	ClientOrderID   string `gorm:"column:client_order_id"`
	BrokerOrderID   *int64 `gorm:"column:broker_order_id"`
	Symbol          string `gorm:"column:symbol"`
	Side            string `gorm:"column:side"`
	Qty             float64 `gorm:"column:qty"`
	OrderType       string `gorm:"column:order_type"`
	LimitPrice      *string `gorm:"column:limit_price"`
	StopPrice       *string `gorm:"column:stop_price"`
	TIF             string `gorm:"column:tif"`
	Status          string `gorm:"column:status"`
	SubmittedAt     string `gorm:"column:submitted_at"`
	FilledAt        *string `gorm:"column:filled_at"`
	FillPrice       *string `gorm:"column:fill_price"`
	FillQty         float64 `gorm:"column:fill_qty"`
	Commission      *string `gorm:"column:commission"`
}

// RiskEventRow is one row of the risk_events table.
type RiskEventRow struct {
	ID        int64  `gorm:"column:id"`
	Timestamp string `gorm:"column:timestamp"`
	EventType string `gorm:"column:event_type"`
	Details   string `gorm:"column:details"`
}

// CommandFilter narrows QueryCommands; zero-value fields are unfiltered.
// RequestID is not applied: the commands table has no request_id column.
type CommandFilter struct {
	Source    string
	Since     *time.Time
	RequestID string
}

// QueryCommands returns the commands table filtered by source and/or a
// since timestamp, newest first.
func (l *Logger) QueryCommands(filter CommandFilter) ([]CommandRow, error) {
	query := l.db.Table("commands").Order("id DESC")
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.Since != nil {
		query = query.Where("timestamp >= ?", filter.Since.UTC().Format(time.RFC3339Nano))
	}
	var rows []CommandRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	return rows, nil
}

// OrderFilter narrows QueryOrders; zero-value fields are unfiltered.
type OrderFilter struct {
	Status string
	Since  *time.Time
}

// QueryOrders returns the orders table filtered by status and/or a since
// timestamp, newest submission first.
func (l *Logger) QueryOrders(filter OrderFilter) ([]OrderRow, error) {
	query := l.db.Table("orders").Order("submitted_at DESC")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Since != nil {
		query = query.Where("submitted_at >= ?", filter.Since.UTC().Format(time.RFC3339Nano))
	}
	var rows []OrderRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	return rows, nil
}

// QueryRiskEvents returns risk_events rows filtered by event type, newest
// first.
func (l *Logger) QueryRiskEvents(eventType string) ([]RiskEventRow, error) {
	query := l.db.Table("risk_events").Order("id DESC")
	if eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}
	var rows []RiskEventRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying risk_events: %w", err)
	}
	return rows, nil
}

// ExportOrdersCSV writes the filtered order rows to w in CSV form, header
// first. Used by the audit.export command.
func (l *Logger) ExportOrdersCSV(w io.Writer, filter OrderFilter) error {
	rows, err := l.QueryOrders(filter)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{
		"client_order_id", "broker_order_id", "symbol", "side", "qty", "order_type",
		"limit_price", "stop_price", "tif", "status", "submitted_at", "filled_at",
		"fill_price", "fill_qty", "commission",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			row.ClientOrderID,
			optionalInt64(row.BrokerOrderID),
			row.Symbol,
			row.Side,
			fmt.Sprintf("%g", row.Qty),
			row.OrderType,
			optionalString(row.LimitPrice),
			optionalString(row.StopPrice),
			row.TIF,
			row.Status,
			row.SubmittedAt,
			optionalString(row.FilledAt),
			optionalString(row.FillPrice),
			fmt.Sprintf("%g", row.FillQty),
			optionalString(row.Commission),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

// ExportCommandsCSV writes the filtered commands rows to w in CSV form,
// header first.
func (l *Logger) ExportCommandsCSV(w io.Writer, filter CommandFilter) error {
	rows, err := l.QueryCommands(filter)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{"id", "timestamp", "source", "command", "arguments", "result_code"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			fmt.Sprintf("%d", row.ID), row.Timestamp, row.Source, row.Command,
			row.Arguments, fmt.Sprintf("%d", row.ResultCode),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

// ExportRiskEventsCSV writes the filtered risk_events rows to w in CSV
// form, header first.
func (l *Logger) ExportRiskEventsCSV(w io.Writer, eventType string) error {
	rows, err := l.QueryRiskEvents(eventType)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{"id", "timestamp", "event_type", "details"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{fmt.Sprintf("%d", row.ID), row.Timestamp, row.EventType, row.Details}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func optionalString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func optionalInt64(v *int64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d", *v)
}
