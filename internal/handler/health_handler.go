package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck は依存先1つ分の疎通確認。
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type healthResponse struct {
	Status string   `json:"status"`
	Failed []string `json:"failed,omitempty"`
}

// NewHealthHandler は全依存先の疎通を確認するハンドラーを返す。
// 1つでも失敗した場合は503を返す。
// GET /health
func NewHealthHandler(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		var failed []string
		for _, c := range checks {
			if err := c.Ping(ctx); err != nil {
				slog.Warn("health check failed",
					slog.String("dependency", c.Name),
					slog.String("error", err.Error()),
				)
				failed = append(failed, c.Name)
			}
		}

		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Failed: failed})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
