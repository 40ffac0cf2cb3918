package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
)

// Log writes a structured audit event. In the future this can be wired to DB or external sink.
func Log(ctx context.Context, event string, fields map[string]any) {
	zf := make([]zap.Field, 0, len(fields)+1)
	zf = append(zf, logger.Event(event))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	logger.Named("audit").Info("audit", zf...)
}
