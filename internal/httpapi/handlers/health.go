package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/samuelrizzo/github-unwrapped/internal/httpkit"
)

const checkTimeout = 5 * time.Second

// Health performs a health check of the service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	health := map[string]any{
		"status":  "ok",
		"service": "github-unwrapped",
		"version": h.version,
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks
		health["renders"] = h.renderStats()
		health["process"] = h.processStats(ctx)

		for name, check := range checks {
			if check["status"] == "error" {
				health["status"] = "degraded"
				log.Warn("health check degraded", "check", name, "error", check["error"])
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	checks := map[string]map[string]any{
		"store":   h.checkPing(ctx, h.store),
		"storage": h.checkPing(ctx, h.sp),
	}
	checks["storage"]["provider"] = h.sp.Provider()

	if h.engine != nil {
		checks["renderer"] = h.checkPing(ctx, h.engine)
	} else {
		checks["renderer"] = map[string]any{"status": "disabled"}
	}

	checks["redis"] = h.checkRedis(ctx)
	return checks
}

func (h *Handler) checkPing(ctx context.Context, p Pinger) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := p.Ping(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}

func (h *Handler) checkRedis(ctx context.Context) map[string]any {
	if h.rdb == nil {
		return map[string]any{"status": "disabled"}
	}

	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := h.rdb.Ping(checkCtx).Err(); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	} else {
		stats := h.rdb.PoolStats()
		result["total_conns"] = stats.TotalConns
		result["idle_conns"] = stats.IdleConns
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}

func (h *Handler) renderStats() map[string]any {
	out := map[string]any{}
	if h.registry != nil {
		out["in_flight"] = h.registry.Len()
	}
	if h.tasks != nil {
		out["background_tasks"] = h.tasks.Active()
	}
	return out
}

// processStats reports host load, process memory and free space in the
// render work directory. Collection errors leave the field out.
func (h *Handler) processStats(ctx context.Context) map[string]any {
	out := map[string]any{
		"goroutines": runtime.NumGoroutine(),
		"cpus":       runtime.NumCPU(),
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		out["load1"] = avg.Load1
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			out["rss_bytes"] = mi.RSS
		}
		if pct, err := p.CPUPercentWithContext(ctx); err == nil {
			out["cpu_percent"] = pct
		}
	}
	if h.workDir != "" {
		if du, err := disk.UsageWithContext(ctx, h.workDir); err == nil {
			out["workdir_free_bytes"] = du.Free
			out["workdir_used_percent"] = du.UsedPercent
		}
	}

	return out
}
