package worker

import (
	"context"
	"net/http"
	"time"

	"coderun/internal/runner/metrics"
	"coderun/internal/runner/model"
	appErr "coderun/pkg/errors"
	"coderun/pkg/utils/logger"
	"coderun/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewMonitorRouter serves liveness, readiness and metrics for a worker process.
func NewMonitorRouter(health *Health) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok", "uptime_seconds": int64(health.Uptime().Seconds())})
	})
	r.GET("/readyz", func(c *gin.Context) {
		last := health.LastOK()
		data := gin.H{"ready": health.Ready()}
		if !last.IsZero() {
			data["last_broker_ok"] = last.Unix()
		}
		if !health.Ready() {
			c.JSON(http.StatusServiceUnavailable, response.Response{
				Code:    appErr.ServiceUnavailable,
				Message: "no broker round-trip within the readiness window",
				Data:    data,
			})
			return
		}
		response.Success(c, data)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// QueueLengther reports queue lengths.
type QueueLengther interface {
	Len(ctx context.Context, lang model.Language) (int64, error)
}

// SampleQueueDepth publishes queue lengths every interval until ctx is done.
func SampleQueueDepth(ctx context.Context, q QueueLengther, langs []model.Language, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for _, lang := range langs {
			n, err := q.Len(ctx, lang)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Debug(ctx, "sample queue depth failed", zap.String("language", string(lang)), zap.Error(err))
				continue
			}
			metrics.SetQueueDepth(lang, n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
