package dispatch

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/reviewdeck/core/pkg/version"
)

// handleSystemStatus reports the operational snapshot described in spec
// §6: server version, host resource usage, and Worker Pool/Task Queue
// occupancy, modeled on the teacher's GET /system/status but scoped down
// to this server's own engine rather than a module registry.
func (rt *Router) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status": "ok",
		"version": map[string]string{
			"version":    version.Version,
			"commit":     version.GitCommit,
			"built_at":   version.BuildTime,
			"go_version": version.GoVersion,
		},
		"products": len(rt.products.List()),
	}

	if rt.tasks != nil {
		q := rt.tasks.Queue()
		payload["task_queue"] = map[string]any{
			"depth":    q.Depth(),
			"capacity": q.Capacity(),
		}
	}
	if rt.workers != nil {
		payload["worker_pool"] = map[string]any{
			"workers": rt.workers.WorkerCount(),
			"busy":    rt.workers.Busy(),
		}
	}

	payload["host"] = hostSnapshot(r)

	writeJSON(w, http.StatusOK, payload)
}

// hostSnapshot probes the host's CPU/memory/uptime via gopsutil, best-effort:
// a probe failure just omits that key rather than failing the whole request.
func hostSnapshot(r *http.Request) map[string]any {
	out := map[string]any{}

	if pct, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(pct) > 0 {
		out["cpu_percent"] = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		out["memory"] = map[string]any{
			"total_bytes": vm.Total,
			"used_bytes":  vm.Used,
			"used_pct":    vm.UsedPercent,
		}
	}
	if info, err := host.InfoWithContext(r.Context()); err == nil {
		out["uptime_seconds"] = info.Uptime
		out["hostname"] = info.Hostname
	}
	out["sampled_at"] = time.Now().UTC().Format(time.RFC3339)
	return out
}
