package storage

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
	sendTimeout   = 5 * time.Second
)

// OperationEventsDDL creates the table the writer inserts into.
const OperationEventsDDL = `
CREATE TABLE IF NOT EXISTS operation_events (
	operation_id      String,
	tool_name         LowCardinality(String),
	client_id         String,
	started_at        DateTime64(3),
	completed_at      DateTime64(3),
	execution_time_ms Float32,
	success           UInt8,
	result_size       UInt64,
	error             String,
	source            LowCardinality(String)
) ENGINE = MergeTree
ORDER BY (tool_name, completed_at)
TTL toDateTime(completed_at) + INTERVAL 30 DAY`

// sendFunc inserts one batch.
type sendFunc func(ctx context.Context, events []*OperationEvent) error

// ClickHouseWriter writes operation events to ClickHouse asynchronously.
// Write() is non-blocking: events are buffered and batch-inserted in a background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	send    sendFunc
	buffer  chan *OperationEvent
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
}

// NewClickHouseWriter connects, ensures the events table exists and starts the flush loop.
func NewClickHouseWriter(ctx context.Context, dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}
	if err := conn.Exec(ctx, OperationEventsDDL); err != nil {
		return nil, err
	}

	w := newClickHouseWriter(nil, logger)
	w.conn = conn
	w.send = w.insertBatch
	return w, nil
}

// newClickHouseWriter starts a writer around an arbitrary batch sender.
func newClickHouseWriter(send sendFunc, logger *zap.Logger) *ClickHouseWriter {
	w := &ClickHouseWriter{
		send:    send,
		buffer:  make(chan *OperationEvent, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}
	go w.flushLoop()
	return w
}

// Write queues an event for async insertion.
// Non-blocking: drops the event if the buffer is full.
func (w *ClickHouseWriter) Write(event *OperationEvent) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("clickhouse buffer full, dropping event",
			zap.String("operation_id", event.OperationID),
		)
	}
}

// Close drains buffered events and closes the connection.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
	if w.conn != nil {
		if err := w.conn.Close(); err != nil {
			w.logger.Warn("clickhouse close failed", zap.Error(err))
		}
	}
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*OperationEvent, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*OperationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := w.send(ctx, events); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

func (w *ClickHouseWriter) insertBatch(ctx context.Context, events []*OperationEvent) error {
	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO operation_events (
			operation_id, tool_name, client_id, started_at, completed_at,
			execution_time_ms, success, result_size, error, source
		)
	`)
	if err != nil {
		return err
	}

	for _, e := range events {
		var successUint8 uint8
		if e.Success {
			successUint8 = 1
		}
		if err := batch.Append(
			e.OperationID,
			e.ToolName,
			e.ClientID,
			e.StartedAt,
			e.CompletedAt,
			e.ExecutionTimeMs,
			successUint8,
			e.ResultSize,
			e.Error,
			e.Source,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("operation_id", e.OperationID),
				zap.Error(err),
			)
		}
	}

	return batch.Send()
}

// LogWriter is a fallback EventWriter for local development.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *OperationEvent) {
	w.logger.Info("operation_event",
		zap.String("operation_id", event.OperationID),
		zap.String("tool_name", event.ToolName),
		zap.String("client_id", event.ClientID),
		zap.Bool("success", event.Success),
		zap.Float32("execution_time_ms", event.ExecutionTimeMs),
		zap.Uint64("result_size", event.ResultSize),
		zap.String("error", event.Error),
		zap.String("source", event.Source),
	)
}

func (w *LogWriter) Close() {}
