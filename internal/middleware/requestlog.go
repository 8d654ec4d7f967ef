package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"go.uber.org/zap"

	"detention/internal/logging"
)

// RequestLogger logs every request with zap and reports handler errors to
// the New Relic transaction started by nrgin, when there is one.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}

		if len(c.Errors) > 0 {
			txn := nrgin.Transaction(c)
			for _, err := range c.Errors {
				if txn != nil {
					txn.NoticeError(err.Err)
				}
			}
			logger.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		logger.Debug("request", fields...)
	}
}
