package audit

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/north-brook/brokerd/internal/models"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLogCommand(t *testing.T) {
	t.Parallel()
	l := newTestLogger(t)

	if err := l.LogCommand("cli", "place_order", map[string]any{"symbol": "AAPL"}, 0); err != nil {
		t.Fatalf("LogCommand() error = %v", err)
	}

	rows, err := l.QueryCommands(CommandFilter{Source: "cli"})
	if err != nil {
		t.Fatalf("QueryCommands() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Command != "place_order" {
		t.Errorf("rows = %+v, want one place_order row", rows)
	}
}

func TestUpsertOrderInsertAndUpdate(t *testing.T) {
	t.Parallel()
	l := newTestLogger(t)

	limit := decimal.NewFromFloat(100)
	record := models.OrderRecord{
		ClientOrderID: "coid-1",
		Symbol:        "AAPL",
		Side:          models.SideBuy,
		Qty:           10,
		OrderType:     models.OrderTypeLimit,
		LimitPrice:    &limit,
		TIF:           models.TIFDay,
		Status:        models.StatusSubmitted,
		SubmittedAt:   time.Now().UTC(),
	}
	if err := l.UpsertOrder(record); err != nil {
		t.Fatalf("UpsertOrder() insert error = %v", err)
	}

	record.Status = models.StatusFilled
	filledAt := time.Now().UTC()
	record.FilledAt = &filledAt
	fillPrice := decimal.NewFromFloat(99.5)
	record.FillPrice = &fillPrice
	record.FillQty = 10
	if err := l.UpsertOrder(record); err != nil {
		t.Fatalf("UpsertOrder() update error = %v", err)
	}

	rows, err := l.QueryOrders(OrderFilter{})
	if err != nil {
		t.Fatalf("QueryOrders() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one order row after upsert, got %d", len(rows))
	}
	if rows[0].Status != string(models.StatusFilled) {
		t.Errorf("Status = %q, want Filled", rows[0].Status)
	}
}

func TestLogFillDedup(t *testing.T) {
	t.Parallel()
	l := newTestLogger(t)

	fill := models.FillRecord{
		FillID:        "fill-1",
		ClientOrderID: "coid-1",
		Symbol:        "AAPL",
		Qty:           5,
		Price:         decimal.NewFromFloat(100),
		Commission:    decimal.NewFromFloat(1),
		Timestamp:     time.Now().UTC(),
	}
	if err := l.LogFill(fill); err != nil {
		t.Fatalf("LogFill() first error = %v", err)
	}
	if err := l.LogFill(fill); err != nil {
		t.Fatalf("LogFill() duplicate error = %v", err)
	}

	var count int64
	if err := l.db.Table("fills").Count(&count).Error; err != nil {
		t.Fatalf("counting fills: %v", err)
	}
	if count != 1 {
		t.Errorf("fills count = %d, want 1 (deduplicated)", count)
	}
}

func TestExportOrdersCSV(t *testing.T) {
	t.Parallel()
	l := newTestLogger(t)

	if err := l.UpsertOrder(models.OrderRecord{
		ClientOrderID: "coid-2",
		Symbol:        "MSFT",
		Side:          models.SideSell,
		Qty:           3,
		OrderType:     models.OrderTypeMarket,
		TIF:           models.TIFDay,
		Status:        models.StatusFilled,
		SubmittedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("UpsertOrder() error = %v", err)
	}

	var buf bytes.Buffer
	if err := l.ExportOrdersCSV(&buf, OrderFilter{}); err != nil {
		t.Fatalf("ExportOrdersCSV() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "client_order_id") {
		t.Error("expected CSV header row")
	}
	if !strings.Contains(out, "coid-2") {
		t.Error("expected exported order row")
	}
}
