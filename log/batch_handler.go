// Package log provides a buffered slog.Handler and a background Daemon that
// flushes batched log records into a sqlite database, independent of the
// certificate inventory database.
package log

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/caasmo/acmebigip/config"
)

// BatchHandler is a lightweight slog.Handler that sends records to a channel
// for batched processing by a Daemon.
type BatchHandler struct {
	configProvider *config.Provider
	recordChan     chan<- slog.Record
	daemonCtx      context.Context
	attrs          []slog.Attr
}

// NewBatchHandler creates a new BatchHandler. It panics if any argument is nil.
func NewBatchHandler(configProvider *config.Provider, recordChan chan<- slog.Record, daemonCtx context.Context) *BatchHandler {
	if configProvider == nil {
		panic("batchhandler: configProvider cannot be nil")
	}
	if recordChan == nil {
		panic("batchhandler: recordChan cannot be nil")
	}
	if daemonCtx == nil {
		panic("batchhandler: daemonCtx cannot be nil")
	}

	return &BatchHandler{
		configProvider: configProvider,
		recordChan:     recordChan,
		daemonCtx:      daemonCtx,
		attrs:          []slog.Attr{},
	}
}

// Enabled consults the config provider for the current minimum level, so a
// config reload takes effect on the next call without rebuilding the logger.
func (h *BatchHandler) Enabled(_ context.Context, level slog.Level) bool {
	conf := h.configProvider.Get()
	return level >= conf.Log.Batch.Level.Level
}

// Handle attempts a non-blocking send to the record channel. A full channel
// or a shutting-down daemon both drop the record rather than block the
// caller.
func (h *BatchHandler) Handle(_ context.Context, r slog.Record) error {
	if h.daemonCtx.Err() != nil {
		return fmt.Errorf("daemon shutting down, dropping log record")
	}

	if len(h.attrs) > 0 {
		r.AddAttrs(h.attrs...)
	}

	select {
	case h.recordChan <- r:
		return nil
	default:
		return fmt.Errorf("log channel full, dropping record")
	}
}

func (h *BatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)

	return &BatchHandler{
		configProvider: h.configProvider,
		recordChan:     h.recordChan,
		daemonCtx:      h.daemonCtx,
		attrs:          newAttrs,
	}
}

func (h *BatchHandler) WithGroup(name string) slog.Handler {
	return &BatchHandler{
		configProvider: h.configProvider,
		recordChan:     h.recordChan,
		daemonCtx:      h.daemonCtx,
		attrs:          []slog.Attr{},
	}
}
