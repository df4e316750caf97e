package log

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/caasmo/acmebigip/config"
	"github.com/caasmo/acmebigip/db"
	"github.com/caasmo/acmebigip/db/zombiezen"
)

// Daemon consumes slog.Records from a channel and writes them in batches to
// its own sqlite database, separate from the certificate inventory.
type Daemon struct {
	recordChan     chan slog.Record
	db             *zombiezen.Db
	opLogger       *slog.Logger
	configProvider *config.Provider

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownDone chan struct{}
}

// New opens cfg.Log.Batch.DbPath and returns a Daemon ready to Start.
func New(configProvider *config.Provider, opLogger *slog.Logger) (*Daemon, error) {
	cfg := configProvider.Get()

	store, err := zombiezen.New(cfg.Log.Batch.DbPath)
	if err != nil {
		return nil, fmt.Errorf("log daemon: opening %s: %w", cfg.Log.Batch.DbPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		recordChan:     make(chan slog.Record, cfg.Log.Batch.ChanSize),
		db:             store,
		opLogger:       opLogger.With("daemon_component", "log.Daemon"),
		configProvider: configProvider,
		ctx:            ctx,
		cancel:         cancel,
		shutdownDone:   make(chan struct{}),
	}, nil
}

// Chan returns the write-end of the channel and the daemon's context, for
// wiring into a BatchHandler.
func (ld *Daemon) Chan() (chan<- slog.Record, context.Context) {
	return ld.recordChan, ld.ctx
}

func (ld *Daemon) Name() string {
	return "LogDaemon"
}

// Start begins the daemon's log processing goroutine.
func (ld *Daemon) Start() error {
	ld.opLogger.Info("starting log daemon processing goroutine")
	go ld.processLogs()
	return nil
}

// Stop cancels the daemon's context and waits for processLogs to drain and exit.
func (ld *Daemon) Stop(ctx context.Context) error {
	ld.opLogger.Info("stopping log daemon")
	ld.cancel()

	select {
	case <-ld.shutdownDone:
		ld.opLogger.Info("log daemon confirmed shutdown")
	case <-ctx.Done():
		ld.opLogger.Error("log daemon shutdown timed out", "error", ctx.Err())
		return ctx.Err()
	}

	return nil
}

func (ld *Daemon) prepareRecordForDB(record slog.Record) (db.Log, error) {
	data := convertSlogRecordToMap(record)
	jsonData, err := json.Marshal(data)
	if err != nil {
		return db.Log{}, fmt.Errorf("marshal log record: %w", err)
	}

	return db.Log{
		Level:   int64(record.Level),
		Message: record.Message,
		Data:    string(jsonData),
		Created: record.Time.UTC().Format(time.RFC3339Nano),
	}, nil
}

func (ld *Daemon) processLogs() {
	defer close(ld.shutdownDone)

	cfg := ld.configProvider.Get()
	ticker := time.NewTicker(cfg.Log.Batch.FlushInterval)
	defer ticker.Stop()

	batch := make([]db.Log, 0, cfg.Log.Batch.FlushSize)

	flushBatch := func(reason string) {
		if len(batch) == 0 {
			return
		}
		if err := zombiezen.WriteLogBatch(ld.db, batch); err != nil {
			ld.opLogger.Error("failed to write log batch", "error", err, "batch_size", len(batch), "reason", reason)
		}
		batch = batch[:0]
	}

	for {
		select {
		case record, ok := <-ld.recordChan:
			if !ok {
				flushBatch("channel_closed")
				return
			}

			entry, err := ld.prepareRecordForDB(record)
			if err != nil {
				ld.opLogger.Error("failed to prepare record, skipping", "error", err)
				continue
			}

			batch = append(batch, entry)
			if len(batch) >= cfg.Log.Batch.FlushSize {
				flushBatch("batch_full")
			}

		case <-ticker.C:
			flushBatch("ticker")

		case <-ld.ctx.Done():
			ld.drain(&batch, flushBatch)
			return
		}
	}
}

// drain empties the channel one final time after shutdown is signaled, then
// flushes whatever remains and closes the database.
func (ld *Daemon) drain(batch *[]db.Log, flushBatch func(string)) {
	cfg := ld.configProvider.Get()
drainLoop:
	for {
		select {
		case record, ok := <-ld.recordChan:
			if !ok {
				break drainLoop
			}
			entry, err := ld.prepareRecordForDB(record)
			if err != nil {
				ld.opLogger.Error("failed to prepare record during drain, skipping", "error", err)
				continue
			}
			*batch = append(*batch, entry)
			if len(*batch) >= cfg.Log.Batch.FlushSize {
				flushBatch("drain_batch_full")
			}
		default:
			break drainLoop
		}
	}
	flushBatch("drain_final")
	close(ld.recordChan)
	ld.db.Close()
}

// convertSlogRecordToMap flattens a slog.Record's attributes (including
// nested groups) into a plain map suitable for JSON storage.
func convertSlogRecordToMap(r slog.Record) map[string]any {
	data := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		resolveAndInsertAttr(data, a)
		return true
	})
	return data
}

func resolveAndInsertAttr(m map[string]any, a slog.Attr) {
	key := a.Key
	if key == "" {
		return
	}

	val := a.Value.Resolve()

	switch val.Kind() {
	case slog.KindString:
		m[key] = val.String()
	case slog.KindInt64:
		m[key] = val.Int64()
	case slog.KindUint64:
		m[key] = val.Uint64()
	case slog.KindFloat64:
		m[key] = val.Float64()
	case slog.KindBool:
		m[key] = val.Bool()
	case slog.KindDuration:
		m[key] = val.Duration().String()
	case slog.KindTime:
		m[key] = val.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		groupAttrs := val.Group()
		if len(groupAttrs) == 0 {
			return
		}
		groupMap := make(map[string]any)
		for _, ga := range groupAttrs {
			resolveAndInsertAttr(groupMap, ga)
		}
		if len(groupMap) > 0 {
			m[key] = groupMap
		}
	default:
		anyVal := val.Any()
		if err, ok := anyVal.(error); ok {
			m[key] = err.Error()
		} else {
			m[key] = fmt.Sprint(anyVal)
		}
	}
}
