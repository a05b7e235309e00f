package ingest

import (
	"context"
	"log/slog"

	"classmon/internal/pipeline"
)

// SendNonBlocking drops the payload when the channel is full rather
// than stalling an ingest source.
func SendNonBlocking(ctx context.Context, out chan<- pipeline.ReadingPayload, payload pipeline.ReadingPayload, logger *slog.Logger) bool {
	select {
	case out <- payload:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("ingest channel full, dropping reading",
				"device_id", payload.DeviceID,
				"source", payload.Source,
			)
		}
		return false
	}
}
