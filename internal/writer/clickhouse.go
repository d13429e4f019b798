package writer

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"Go2NetCache/internal/config"
	"Go2NetCache/internal/engine/cache"
	"Go2NetCache/internal/tablerr"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const createTableTemplate = `
CREATE TABLE IF NOT EXISTS %s (
    Window      DateTime,
    SrcIP       String,
    DstIP       String,
    SrcMAC      String,
    DstMAC      String,
    VLAN        UInt16,
    SrcAS       UInt32,
    DstAS       UInt32,
    InIface     UInt32,
    OutIface    UInt32,
    SrcPort     UInt16,
    DstPort     UInt16,
    Protocol    UInt8,
    Tos         UInt8,
    TCPFlags    UInt32,
    StartTime   DateTime,
    EndTime     DateTime,
    Bytes       UInt64,
    Packets     UInt64,
    Flows       UInt64
) ENGINE = SummingMergeTree((Bytes, Packets, Flows))
PARTITION BY toYYYYMM(Window)
ORDER BY (Window, SrcIP, DstIP, SrcPort, DstPort, Protocol);
`

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

func createTableStatement(table string) (string, error) {
	if !tableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name '%s'", table)
	}
	return fmt.Sprintf(createTableTemplate, table), nil
}

// ClickHouseWriter inserts batches into round-robin ClickHouse tables,
// creating each resolved table on first use.
type ClickHouseWriter struct {
	conn   driver.Conn
	tables *tablerr.Selector
	logger *zap.Logger

	mu      sync.Mutex
	created map[string]bool
}

// NewClickHouseWriter connects to ClickHouse.
func NewClickHouseWriter(ctx context.Context, cfg config.ClickHouseConfig, tables *tablerr.Selector, logger *zap.Logger) (*ClickHouseWriter, error) {
	conn, err := connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	logger.Info("Connected to ClickHouse", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	return &ClickHouseWriter{conn: conn, tables: tables, logger: logger, created: make(map[string]bool)}, nil
}

func connect(ctx context.Context, cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func (w *ClickHouseWriter) Name() string { return "clickhouse" }

func (w *ClickHouseWriter) ensureTable(ctx context.Context, table string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.created[table] {
		return nil
	}
	stmt, err := createTableStatement(table)
	if err != nil {
		return err
	}
	if err := w.conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table '%s': %w", table, err)
	}
	w.created[table] = true
	return nil
}

// rowValues returns the column values of fr in table order.
func rowValues(fr *FlowRecord, flags uint32) []any {
	return []any{
		fr.Window,
		fr.SrcIP,
		fr.DstIP,
		fr.SrcMAC,
		fr.DstMAC,
		fr.VLAN,
		fr.SrcAS,
		fr.DstAS,
		fr.InIface,
		fr.OutIface,
		fr.SrcPort,
		fr.DstPort,
		fr.Protocol,
		fr.Tos,
		flags,
		fr.StartTime,
		fr.EndTime,
		fr.Bytes,
		fr.Packets,
		fr.Flows,
	}
}

// Write inserts each window of the batch into its table in a single
// ClickHouse batch.
func (w *ClickHouseWriter) Write(ctx context.Context, b *cache.Batch) error {
	for _, wr := range b.Windows() {
		if err := w.writeWindow(ctx, wr); err != nil {
			return err
		}
	}
	return nil
}

func (w *ClickHouseWriter) writeWindow(ctx context.Context, wr cache.WindowRecords) error {
	table := w.tables.Pick(wr.Basetime)
	if err := w.ensureTable(ctx, table); err != nil {
		return err
	}

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range wr.Records {
		fr := NewFlowRecord(r)
		if err := batch.Append(rowValues(&fr, r.TCPFlags)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append record to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	w.logger.Debug("Wrote window to ClickHouse", zap.String("table", table), zap.Int("records", len(wr.Records)))
	return nil
}

func (w *ClickHouseWriter) Close() error { return w.conn.Close() }
